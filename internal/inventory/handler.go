package inventory

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/assetdesk/assetdesk/internal/platform/httpx"
	"github.com/assetdesk/assetdesk/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/transactions", h.handleList)
	r.Get("/transactions/export.xlsx", h.handleExport)
	r.Post("/stock-in", h.handleStockIn)
	r.Post("/stock-out", h.handleStockOut)
	r.Post("/items/{id}/adjustments", h.handleAdjust)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := h.service.ExportXLSX(r.Context(), filter, &buf); err != nil {
		h.fail(w, r, err)
		return
	}

	filename := fmt.Sprintf("atk_ledger_%s.xlsx", time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Error("write ledger export", slog.Any("error", err))
	}
}

func (h *Handler) handleStockIn(w http.ResponseWriter, r *http.Request) {
	var input StockInInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.IdempotencyKey = r.Header.Get("Idempotency-Key")
	entry, err := h.service.StockIn(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleStockOut(w http.ResponseWriter, r *http.Request) {
	var input StockOutInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.service.StockOut(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input AdjustInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.ItemID = id
	entry, err := h.service.Adjust(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseFilter(r *http.Request) (TransactionFilter, error) {
	q := r.URL.Query()
	var filter TransactionFilter
	verr := &shared.ValidationError{Fields: map[string]string{}}

	parseInt := func(name string) int64 {
		raw := q.Get(name)
		if raw == "" {
			return 0
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			verr.Fields[name] = "must be a positive number"
			return 0
		}
		return v
	}
	parseDate := func(name string, endOfDay bool) time.Time {
		raw := q.Get(name)
		if raw == "" {
			return time.Time{}
		}
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			verr.Fields[name] = "must be a date (YYYY-MM-DD)"
			return time.Time{}
		}
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t
	}

	filter.ItemID = parseInt("item_id")
	filter.ReferenceID = parseInt("reference_id")
	filter.Limit = int(parseInt("limit"))
	filter.Type = TransactionType(q.Get("type"))
	filter.ReferenceType = ReferenceType(q.Get("reference_type"))
	filter.From = parseDate("from", false)
	filter.To = parseDate("to", true)
	if err := verr.OrNil(); err != nil {
		return TransactionFilter{}, err
	}
	return filter, nil
}
