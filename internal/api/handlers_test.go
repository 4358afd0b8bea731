package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/example/farm-ledger/internal/auth"
	"github.com/example/farm-ledger/internal/command"
	"github.com/example/farm-ledger/internal/config"
	"github.com/example/farm-ledger/internal/domain/inventory"
	"github.com/example/farm-ledger/internal/export"
	"github.com/example/farm-ledger/internal/idgen"
	"github.com/example/farm-ledger/internal/infrastructure/cache"
	"github.com/example/farm-ledger/internal/infrastructure/store"
	"github.com/example/farm-ledger/internal/query"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var now = time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

type testAPI struct {
	t      *testing.T
	router *gin.Engine
	jwt    *auth.JWTService
	tokens map[string]string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ids, err := idgen.New(1)
	require.NoError(t, err)

	svc := inventory.NewService(store.NewMemoryStore(), ids, nil, zap.NewNop(), inventory.Options{
		Clock: func() time.Time { return now },
	})
	views := cache.NewMemoryViewCache()
	handlers := NewHandlers(
		command.NewHandler(svc, views, zap.NewNop()),
		query.NewHandler(svc, views, time.Minute, zap.NewNop()),
		zap.NewNop(),
	)
	handlers.now = func() time.Time { return now }

	jwtService := auth.NewJWTService("test-secret-key", time.Hour)
	api := &testAPI{
		t:      t,
		router: NewRouter(handlers, jwtService, config.ServerConfig{AppEnv: "production"}, zap.NewNop()),
		jwt:    jwtService,
		tokens: map[string]string{},
	}
	for _, role := range []string{auth.RoleViewer, auth.RoleOperator, auth.RoleManager} {
		token, _, err := jwtService.GenerateAccessToken("u-"+role, role+"-user", role)
		require.NoError(t, err)
		api.tokens[role] = token
	}
	return api
}

// do sends body as JSON with the token for role and decodes the response
// into out when out is non-nil.
func (a *testAPI) do(role, method, path string, body any, out any) *httptest.ResponseRecorder {
	a.t.Helper()
	var r *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		r = bytes.NewReader(b)
	} else {
		r = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[role])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	if out != nil {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

type apiError struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *testAPI) createItem(sku string) string {
	a.t.Helper()
	var item struct {
		ID string `json:"id"`
	}
	rec := a.do(auth.RoleManager, http.MethodPost, "/api/v1/items", map[string]any{
		"sku": sku, "name": sku, "unit": "kg", "reorder_threshold": "50",
	}, &item)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return item.ID
}

func (a *testAPI) receive(itemID, qty, cost, purchased string) {
	a.t.Helper()
	rec := a.do(auth.RoleOperator, http.MethodPost, "/api/v1/items/"+itemID+"/batches", map[string]any{
		"quantity": qty, "unit_cost": cost, "purchase_date": purchased,
	}, nil)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
}

// ============================================
// Routing and auth
// ============================================

func TestRouter_Healthz(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do("", http.MethodGet, "/healthz", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouter_RequiresToken(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do("", http.MethodGet, "/api/v1/items", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_RoleChecks(t *testing.T) {
	api := newTestAPI(t)
	id := api.createItem("FEED-3MM")

	var e apiError
	rec := api.do(auth.RoleViewer, http.MethodPost, "/api/v1/items/"+id+"/batches",
		map[string]any{"quantity": "1", "unit_cost": "1"}, &e)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", e.Error.Kind)

	rec = api.do(auth.RoleOperator, http.MethodPost, "/api/v1/items/"+id+"/adjustments",
		map[string]any{"kind": "decrease", "value": "1", "reason": "spill"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(auth.RoleViewer, http.MethodGet, "/api/v1/items/"+id, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_OpenWithoutJWT(t *testing.T) {
	api := newTestAPI(t)
	ids, err := idgen.New(2)
	require.NoError(t, err)
	svc := inventory.NewService(store.NewMemoryStore(), ids, nil, zap.NewNop(), inventory.Options{})
	handlers := NewHandlers(command.NewHandler(svc, nil, nil), query.NewHandler(svc, nil, 0, nil), nil)
	api.router = NewRouter(handlers, nil, config.ServerConfig{AppEnv: "development"}, nil)

	rec := api.do("", http.MethodGet, "/api/v1/items", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// ============================================
// Error mapping
// ============================================

func TestHandlers_ErrorStatuses(t *testing.T) {
	api := newTestAPI(t)
	id := api.createItem("FEED-3MM")
	api.receive(id, "10", "4", "2025-01-10T00:00:00Z")

	tests := []struct {
		name   string
		role   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"unknown item", auth.RoleViewer, http.MethodGet, "/api/v1/items/999", nil, http.StatusNotFound, "ItemNotFound"},
		{"unknown sku", auth.RoleViewer, http.MethodGet, "/api/v1/items/by-sku/NOPE", nil, http.StatusNotFound, "ItemNotFound"},
		{"bad id", auth.RoleViewer, http.MethodGet, "/api/v1/items/abc", nil, http.StatusBadRequest, "InvalidRequest"},
		{"duplicate sku", auth.RoleManager, http.MethodPost, "/api/v1/items",
			map[string]any{"sku": "feed-3mm", "name": "x", "unit": "kg"}, http.StatusConflict, "DuplicateSku"},
		{"missing sku", auth.RoleManager, http.MethodPost, "/api/v1/items",
			map[string]any{"name": "x", "unit": "kg"}, http.StatusBadRequest, "InvalidItem"},
		{"overdraw", auth.RoleOperator, http.MethodPost, "/api/v1/deductions",
			map[string]any{"deductions": []any{map[string]any{"item": map[string]any{"item_id": id}, "quantity": "11"}}},
			http.StatusUnprocessableEntity, "InsufficientStock"},
		{"no items", auth.RoleOperator, http.MethodPost, "/api/v1/deductions",
			map[string]any{"deductions": []any{}}, http.StatusBadRequest, "NoItems"},
		{"unknown reservation", auth.RoleOperator, http.MethodPost, "/api/v1/reservations/5/confirm", nil,
			http.StatusNotFound, "ReservationNotFound"},
		{"bad plan quantity", auth.RoleViewer, http.MethodGet, "/api/v1/items/" + id + "/plan?quantity=lots", nil,
			http.StatusBadRequest, "InvalidRequest"},
		{"bad transaction type", auth.RoleViewer, http.MethodGet, "/api/v1/transactions?type=transfer", nil,
			http.StatusBadRequest, "InvalidFilter"},
		{"negative window", auth.RoleViewer, http.MethodGet, "/api/v1/views/expiring?within_days=-1", nil,
			http.StatusBadRequest, "InvalidFilter"},
		{"malformed body", auth.RoleManager, http.MethodPost, "/api/v1/items", "not an object",
			http.StatusBadRequest, "InvalidRequest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e apiError
			rec := api.do(tt.role, tt.method, tt.path, tt.body, &e)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, e.Error.Kind)
		})
	}
}

// ============================================
// Ledger flows
// ============================================

func TestHandlers_ReceiveDeductAndViews(t *testing.T) {
	api := newTestAPI(t)
	id := api.createItem("FEED-3MM")
	api.receive(id, "20", "50", "2025-01-01T00:00:00Z")
	api.receive(id, "30", "60", "2025-01-05T00:00:00Z")

	var plan inventory.Plan
	rec := api.do(auth.RoleViewer, http.MethodGet, "/api/v1/items/"+id+"/plan?quantity=30", nil, &plan)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1600", plan.TotalCost.String())

	var lowBefore []query.LowStockReadModel
	api.do(auth.RoleViewer, http.MethodGet, "/api/v1/views/low-stock", nil, &lowBefore)
	assert.Empty(t, lowBefore)

	var res inventory.BatchDeductResult
	rec = api.do(auth.RoleOperator, http.MethodPost, "/api/v1/deductions", map[string]any{
		"module":     "feeding",
		"deductions": []any{map[string]any{"item": map[string]any{"sku": "feed-3mm"}, "quantity": "30"}},
	}, &res)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1600", res.TotalCost.String())
	require.Len(t, res.Items, 1)

	// the deduction invalidated the cached view
	var lowAfter []query.LowStockReadModel
	api.do(auth.RoleViewer, http.MethodGet, "/api/v1/views/low-stock", nil, &lowAfter)
	require.Len(t, lowAfter, 1)
	assert.Equal(t, "30", lowAfter[0].Shortfall.String())

	var av inventory.Availability
	api.do(auth.RoleViewer, http.MethodGet, "/api/v1/items/"+id+"/availability", nil, &av)
	assert.Equal(t, "20", av.Available.String())

	var rows []map[string]any
	rec = api.do(auth.RoleViewer, http.MethodGet, "/api/v1/transactions?item_id="+id+"&type=use&from=2025-02-01&to=2025-02-01", nil, &rows)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, rows, 1)
	assert.Equal(t, "operator-user", rows[0]["actor"])
	assert.Equal(t, res.Items[0].TransactionID.String(), rows[0]["id"])
}

func TestHandlers_ReservationFlow(t *testing.T) {
	api := newTestAPI(t)
	id := api.createItem("SEED-01")
	api.receive(id, "10", "2", "2025-01-01T00:00:00Z")

	var res struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	rec := api.do(auth.RoleOperator, http.MethodPost, "/api/v1/reservations",
		map[string]any{"item_id": id, "quantity": "4", "module": "planting"}, &res)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "pending", res.Status)

	var e apiError
	rec = api.do(auth.RoleOperator, http.MethodPost, "/api/v1/reservations",
		map[string]any{"item_id": id, "quantity": "7"}, &e)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "InsufficientAvailableStock", e.Error.Kind)

	rec = api.do(auth.RoleOperator, http.MethodPost, "/api/v1/reservations/"+res.ID+"/confirm", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(auth.RoleOperator, http.MethodPost, "/api/v1/reservations/"+res.ID+"/confirm", nil, &e)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ReservationAlreadyResolved", e.Error.Kind)

	rec = api.do(auth.RoleViewer, http.MethodGet, "/api/v1/reservations/"+res.ID, nil, &res)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", res.Status)
}

func TestHandlers_CatalogManagement(t *testing.T) {
	api := newTestAPI(t)
	id := api.createItem("LIME-25KG")

	var item struct {
		Name             string `json:"name"`
		ReorderThreshold string `json:"reorder_threshold"`
		Active           bool   `json:"active"`
	}
	rec := api.do(auth.RoleManager, http.MethodPatch, "/api/v1/items/"+id,
		map[string]any{"name": "Agricultural lime", "reorder_threshold": "5"}, &item)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Agricultural lime", item.Name)
	assert.Equal(t, "5", item.ReorderThreshold)

	var adj inventory.AdjustResult
	rec = api.do(auth.RoleManager, http.MethodPost, "/api/v1/items/"+id+"/adjustments",
		map[string]any{"kind": "increase", "value": "3", "reason": "found in shed", "unit_cost": "9"}, &adj)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "manager-user", adj.Adjustment.Actor)

	var adjustments []map[string]any
	api.do(auth.RoleViewer, http.MethodGet, "/api/v1/items/"+id+"/adjustments", nil, &adjustments)
	assert.Len(t, adjustments, 1)

	var balance struct {
		CurrentQuantity string `json:"current_quantity"`
	}
	rec = api.do(auth.RoleManager, http.MethodPost, "/api/v1/items/"+id+"/recompute", nil, &balance)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", balance.CurrentQuantity)

	rec = api.do(auth.RoleManager, http.MethodPost, "/api/v1/items/"+id+"/deactivate", nil, &item)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, item.Active)

	var list []map[string]any
	api.do(auth.RoleViewer, http.MethodGet, "/api/v1/items?active_only=true", nil, &list)
	assert.Empty(t, list)
}

func TestHandlers_ExportTransactions(t *testing.T) {
	api := newTestAPI(t)
	id := api.createItem("FEED-3MM")
	api.receive(id, "10", "4", "2025-01-10T00:00:00Z")

	rec := api.do(auth.RoleViewer, http.MethodGet, "/api/v1/transactions/export?item_id="+id, nil, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, export.ContentTypeXLSX, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "transactions-20250201-090000.xlsx")

	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Transactions")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestCorsConfig(t *testing.T) {
	_, ok := corsConfig(config.ServerConfig{AppEnv: "production"})
	assert.False(t, ok)

	c, ok := corsConfig(config.ServerConfig{AppEnv: "production", AllowedOrigins: []string{"https://erp.farm"}})
	require.True(t, ok)
	assert.Equal(t, []string{"https://erp.farm"}, c.AllowOrigins)

	c, ok = corsConfig(config.ServerConfig{AppEnv: "development"})
	require.True(t, ok)
	assert.True(t, c.AllowAllOrigins)
}
