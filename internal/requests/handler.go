package requests

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/assetdesk/assetdesk/internal/platform/httpx"
	"github.com/assetdesk/assetdesk/internal/shared"
)

// Handler wires HTTP endpoints for ATK requests.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs requests handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers request routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/requests", h.handleList)
	r.Post("/requests", h.handleCreate)
	r.Get("/requests/{id}", h.handleGet)
	r.Delete("/requests/{id}", h.handleDelete)
	r.Post("/requests/{id}/submit", h.handleSubmit)
	r.Post("/requests/{id}/approve", h.handleApprove)
	r.Post("/requests/{id}/reject", h.handleReject)
	r.Post("/requests/{id}/cancel", h.handleCancel)
	r.Post("/requests/{id}/issue", h.handleIssue)
}

type decisionBody struct {
	By     string `json:"by"`
	Reason string `json:"reason"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Status:     Status(q.Get("status")),
		Department: q.Get("department"),
		Search:     q.Get("search"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.fail(w, r, shared.NewValidationError("limit", "must be a non-negative number"))
			return
		}
		filter.Limit = n
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r)(h.service.Submit(r.Context(), id))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, body, ok := h.decision(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.service.Approve(r.Context(), id, body.By))
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, body, ok := h.decision(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.service.Reject(r.Context(), id, body.By, body.Reason))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, body, ok := h.decision(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.service.Cancel(r.Context(), id, body.By, body.Reason))
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	id, body, ok := h.decision(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.service.Issue(r.Context(), id, body.By))
}

// decision reads the path ID and an optional JSON body.
func (h *Handler) decision(w http.ResponseWriter, r *http.Request) (int64, decisionBody, bool) {
	var body decisionBody
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return 0, body, false
	}
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			h.fail(w, r, err)
			return 0, body, false
		}
	}
	return id, body, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request) func(Request, error) {
	return func(req Request, err error) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, req)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error("requests request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
