package requests_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/assetdesk/assetdesk/internal/catalog"
	"github.com/assetdesk/assetdesk/internal/codegen"
	"github.com/assetdesk/assetdesk/internal/inventory"
	"github.com/assetdesk/assetdesk/internal/platform/httpx"
	"github.com/assetdesk/assetdesk/internal/requests"
	"github.com/assetdesk/assetdesk/internal/shared"
	"github.com/assetdesk/assetdesk/internal/testing/memstore"
)

type api struct {
	t      *testing.T
	router chi.Router
	store  *memstore.Store
}

func newAPI(t *testing.T) api {
	t.Helper()
	store := memstore.New()
	codes := codegen.NewGenerator(nil, nil)
	router := chi.NewRouter()
	catalog.NewHandler(nil, catalog.NewService(store.Catalog(), codes, nil, nil, nil, catalog.Config{})).MountRoutes(router)
	inventory.NewHandler(nil, inventory.NewService(store.Inventory(), store.Idempotency(), nil, nil, nil, inventory.ServiceConfig{})).MountRoutes(router)
	requests.NewHandler(nil, requests.NewService(store.Requests(), codes, nil, nil, nil, requests.Config{})).MountRoutes(router)
	return api{t: t, router: router, store: store}
}

func (a api) do(method, path string, body any, out any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestRequestFlowOverHTTP(t *testing.T) {
	a := newAPI(t)
	cat := a.store.SeedCategory("PPR", "Paper & Printing")

	var item catalog.Item
	code := a.do(http.MethodPost, "/items", map[string]any{"name": "Kertas A4", "category_id": cat, "unit": "rim", "stock": 4}, &item)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "PPR-001", item.Code)

	var req requests.Request
	code = a.do(http.MethodPost, "/requests", map[string]any{
		"employee_name": "Budi", "department": "Finance",
		"items": []map[string]any{{"item_id": item.ID, "quantity_requested": 6}},
	}, &req)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, requests.StatusSubmitted, req.Status)

	var problem httpx.ProblemDetail
	code = a.do(http.MethodPost, fmt.Sprintf("/requests/%d/approve", req.ID), map[string]string{"by": "Manager GA"}, &problem)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, shared.KindInsufficientStock, problem.Kind)
	require.Len(t, problem.Shortages, 1)
	require.Equal(t, int64(4), problem.Shortages[0].Available)

	var entry inventory.StockTransaction
	code = a.do(http.MethodPost, "/stock-in", map[string]any{"item_id": item.ID, "quantity": 10}, &entry)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, int64(14), entry.NewStock)

	code = a.do(http.MethodPost, fmt.Sprintf("/requests/%d/approve", req.ID), map[string]string{"by": "Manager GA"}, &req)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, requests.StatusApproved, req.Status)
	require.Equal(t, int64(8), a.store.ItemStock(item.ID))

	problem = httpx.ProblemDetail{}
	code = a.do(http.MethodPost, fmt.Sprintf("/requests/%d/approve", req.ID), map[string]string{"by": "Manager GA"}, &problem)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, shared.KindConflict, problem.Kind)

	code = a.do(http.MethodPost, fmt.Sprintf("/requests/%d/issue", req.ID), nil, &req)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, requests.StatusCompleted, req.Status)

	code = a.do(http.MethodDelete, fmt.Sprintf("/requests/%d", req.ID), nil, nil)
	require.Equal(t, http.StatusConflict, code)
}

func TestRequestHandlerErrors(t *testing.T) {
	a := newAPI(t)

	var problem httpx.ProblemDetail
	code := a.do(http.MethodPost, "/requests", map[string]any{"employee_name": "Budi"}, &problem)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, shared.KindValidation, problem.Kind)
	require.Contains(t, problem.Fields, "department")

	problem = httpx.ProblemDetail{}
	code = a.do(http.MethodGet, "/requests/abc", nil, &problem)
	require.Equal(t, http.StatusBadRequest, code)

	problem = httpx.ProblemDetail{}
	code = a.do(http.MethodGet, "/requests/77", nil, &problem)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, shared.KindNotFound, problem.Kind)

	problem = httpx.ProblemDetail{}
	code = a.do(http.MethodPost, "/requests/77/reject", map[string]string{"reason": "stok habis"}, &problem)
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, problem.Fields, "rejected_by")
}

func TestItemStockCannotBePatched(t *testing.T) {
	a := newAPI(t)
	cat := a.store.SeedCategory("PPR", "Paper & Printing")
	id := a.store.SeedItem(catalog.Item{Code: "PPR-001", Name: "Kertas A4", CategoryID: cat, Unit: "rim", Stock: 5})

	var problem httpx.ProblemDetail
	code := a.do(http.MethodPatch, fmt.Sprintf("/items/%d", id), map[string]any{"stock": 50}, &problem)
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, problem.Fields, "stock")

	var entry inventory.StockTransaction
	code = a.do(http.MethodPost, fmt.Sprintf("/items/%d/adjustments", id), map[string]any{"counted_stock": 50}, &entry)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, inventory.ReferenceAdjustment, entry.ReferenceType)
	require.Equal(t, int64(50), a.store.ItemStock(id))
}
