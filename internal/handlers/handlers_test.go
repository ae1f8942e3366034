package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go-pos-ledger/internal/ai"
	"go-pos-ledger/internal/alerts"
	"go-pos-ledger/internal/analytics"
	"go-pos-ledger/internal/auth"
	"go-pos-ledger/internal/config"
	"go-pos-ledger/internal/database"
	"go-pos-ledger/internal/ledger"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/metrics"
	"go-pos-ledger/internal/models"
	"go-pos-ledger/internal/purchasing"
	"go-pos-ledger/internal/settlement"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeIdempotency struct {
	mu   sync.Mutex
	data map[string]string
}

func (f *fakeIdempotency) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeIdempotency) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = fmt.Sprint(value)
	return nil
}

func (f *fakeIdempotency) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, err := f.Get(ctx, key); err == nil {
		return false, nil
	}
	return true, f.Set(ctx, key, value, ttl)
}

func (f *fakeIdempotency) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeIdempotency) IdempotencyKey(scope, id string) string { return scope + ":" + id }

type fakeSummarizer struct {
	got   ai.Facts
	calls int
}

func (f *fakeSummarizer) Summarize(_ context.Context, facts ai.Facts) (string, error) {
	f.calls++
	f.got = facts
	return "Reorder Eggs.", nil
}

type pingerFunc func(context.Context) error

func (p pingerFunc) Ping(ctx context.Context) error { return p(ctx) }

type fixture struct {
	t       *testing.T
	h       *Handlers
	router  *gin.Engine
	store   *ledger.Store
	admin   string
	cashier string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, err := database.OpenSQLite(database.MemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.NewLedgerMetrics(reg)
	store := ledger.NewStore(client, ledger.WithMetrics(m))
	agg := analytics.New(client, store, config.AnalyticsConfig{NearExpiryDays: 7, TopN: 5})
	issuer, err := auth.NewTokenIssuer(config.JWTConfig{Secret: "handler-secret", Issuer: "test", TTL: time.Hour})
	require.NoError(t, err)
	authSvc := auth.NewService(client, issuer)

	h := &Handlers{
		DB:         client,
		Store:      store,
		Engine:     settlement.NewEngine(store, config.SettlementConfig{MaxAttempts: 3, RetryBackoff: time.Millisecond}, settlement.WithMetrics(m)),
		Analytics:  agg,
		Alerts:     alerts.NewService(client, agg),
		Purchasing: purchasing.NewService(client, store, purchasing.WithMetrics(m)),
		Auth:       authSvc,
		Log:        logger.Nop(),
		Pingers:    map[string]Pinger{"database": client},
	}
	router := NewRouter(h, RouterOptions{
		Tokens:            issuer,
		Idempotency:       &fakeIdempotency{data: map[string]string{}},
		IdempotencyTTL:    time.Hour,
		AllowRegistration: true,
		Gatherer:          reg,
	})

	f := &fixture{t: t, h: h, router: router, store: store}
	f.admin = f.login(models.RoleAdmin)
	f.cashier = f.login(models.RoleCashier)
	return f
}

func (f *fixture) login(role string) string {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/register", "", map[string]any{"username": role + "-user", "password": "password1", "role": role}, nil)
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, "/login", "", map[string]any{"username": role + "-user", "password": "password1"}, nil)
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
	var session auth.Session
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &session))
	return session.Token
}

func (f *fixture) do(method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createProduct(name, barcode, cost, price string, reorder int) uint {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/products", f.admin, map[string]any{
		"name": name, "barcode": barcode, "cost_price": cost, "selling_price": price, "reorder_level": reorder,
	}, nil)
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	var p models.Product
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p.ID
}

func (f *fixture) receive(productID uint, qty int, cost, expiry string) {
	f.t.Helper()
	body := map[string]any{"quantity": qty, "cost_price": cost}
	if expiry != "" {
		body["expiry_date"] = expiry
	}
	rec := f.do(http.MethodPost, fmt.Sprintf("/api/products/%d/batches", productID), f.admin, body, nil)
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
}

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestSettleSaleOverHTTP(t *testing.T) {
	f := newFixture(t)
	milk := f.createProduct("Milk", "4001", "1.00", "1.50", 0)
	f.receive(milk, 8, "1.00", "2030-01-10")

	rec := f.do(http.MethodPost, "/api/sales", f.cashier, map[string]any{"barcode": "4001", "quantity": "3"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var receipt settlement.Receipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.Equal(t, "4.50", receipt.TotalAmount.StringFixed(2))
	assert.Equal(t, "1.50", receipt.TotalProfit.StringFixed(2))
	assert.Equal(t, 5, receipt.RemainingStock[milk])
	require.NotNil(t, receipt.OperatorID)

	// numbers are accepted as well as strings
	rec = f.do(http.MethodPost, "/api/sales", f.cashier, `{"product_id": 1, "quantity": 1}`, nil)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for _, qty := range []string{`"2.5"`, `2.5`, `"abc"`, `0`, `-1`, `null`} {
		rec = f.do(http.MethodPost, "/api/sales", f.cashier, fmt.Sprintf(`{"product_id": %d, "quantity": %s}`, milk, qty), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, qty)
		assert.Equal(t, "INVALID_INPUT", decodeErr(t, rec).Error.Code, qty)
	}

	rec = f.do(http.MethodPost, "/api/sales", f.cashier, map[string]any{"product_id": milk, "quantity": "10"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeErr(t, rec)
	assert.Equal(t, "INSUFFICIENT_STOCK", body.Error.Code)
	assert.EqualValues(t, 4, body.Error.Details["available"])
	assert.EqualValues(t, 10, body.Error.Details["requested"])

	rec = f.do(http.MethodPost, "/api/sales", f.cashier, map[string]any{"barcode": "nope", "quantity": "1"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/sales", f.cashier, map[string]any{"product_id": milk, "quantity": "1", "discount": "50%"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
	body = decodeErr(t, rec)
	assert.Equal(t, "INVALID_INPUT", body.Error.Code)
	assert.Contains(t, body.Error.Message, "discount")

	rec = f.do(http.MethodPost, "/api/sales", f.cashier, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body = decodeErr(t, rec)
	assert.Equal(t, "INVALID_INPUT", body.Error.Code)
	assert.Equal(t, "request body is required", body.Error.Message)
}

func TestCheckoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	tea := f.createProduct("Tea", "", "2.00", "3.00", 0)
	f.receive(tea, 5, "2.00", "")

	cart := map[string]any{"items": []map[string]any{{"product_id": tea, "quantity": 2}}}
	key := map[string]string{"Idempotency-Key": "till-1-0007"}

	first := f.do(http.MethodPost, "/api/checkout", f.cashier, cart, key)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	again := f.do(http.MethodPost, "/api/checkout", f.cashier, cart, key)
	require.Equal(t, http.StatusCreated, again.Code)
	assert.JSONEq(t, first.Body.String(), again.Body.String())

	level, err := f.store.StockLevel(context.Background(), tea)
	require.NoError(t, err)
	assert.Equal(t, 3, level, "a replayed checkout must not sell twice")

	cart["items"] = []map[string]any{{"product_id": tea, "quantity": 1}}
	reused := f.do(http.MethodPost, "/api/checkout", f.cashier, cart, key)
	assert.Equal(t, http.StatusConflict, reused.Code)
	assert.Equal(t, "IDEMPOTENCY_KEY_REUSED", decodeErr(t, reused).Error.Code)

	empty := f.do(http.MethodPost, "/api/checkout", f.cashier, map[string]any{"items": []any{}}, nil)
	assert.Equal(t, http.StatusBadRequest, empty.Code)
}

func TestRolesAndAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/products", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/products", f.cashier, map[string]any{"name": "Gum", "cost_price": "0.1", "selling_price": "0.5"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/api/reports/daily", f.cashier, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/login", "", map[string]any{"username": "admin-user", "password": "wrong-pass"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestScanProduct(t *testing.T) {
	f := newFixture(t)
	soap := f.createProduct("Soap", "777", "1.00", "2.00", 0)

	rec := f.do(http.MethodGet, "/api/products/scan/777", f.cashier, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result ledger.LookupResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, ledger.LookupOutOfStock, result.Status)

	f.receive(soap, 2, "1.00", "2031-05-01")
	rec = f.do(http.MethodGet, "/api/products/scan/777", f.cashier, nil, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, ledger.LookupFound, result.Status)
	assert.Equal(t, 2, result.TotalStock)

	rec = f.do(http.MethodGet, "/api/products/scan/000", f.cashier, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, ledger.LookupNotFound, result.Status)
}

func TestProductLifecycle(t *testing.T) {
	f := newFixture(t)
	bread := f.createProduct("Bread", "", "0.80", "1.20", 5)

	rec := f.do(http.MethodPut, fmt.Sprintf("/api/products/%d", bread), f.admin, map[string]any{"selling_price": "1.40"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated models.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "1.40", updated.SellingPrice.StringFixed(2))

	rec = f.do(http.MethodPost, fmt.Sprintf("/api/products/%d/batches", bread), f.admin, map[string]any{"quantity": 3, "expiry_date": "13/03/2025"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.receive(bread, 3, "0.80", "")
	rec = f.do(http.MethodGet, fmt.Sprintf("/api/products/%d/batches", bread), f.admin, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var batches []models.StockBatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batches))
	assert.Len(t, batches, 1)

	rec = f.do(http.MethodPost, "/api/sales", f.cashier, map[string]any{"product_id": bread, "quantity": "1"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodDelete, fmt.Sprintf("/api/products/%d", bread), f.admin, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PROTECTED", decodeErr(t, rec).Error.Code)

	rec = f.do(http.MethodPut, "/api/products/abc", f.admin, map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportsAndAlerts(t *testing.T) {
	f := newFixture(t)
	eggs := f.createProduct("Eggs", "", "2.00", "3.00", 10)
	f.receive(eggs, 4, "2.00", time.Now().UTC().AddDate(0, 0, 2).Format("2006-01-02"))

	rec := f.do(http.MethodPost, "/api/sales", f.cashier, map[string]any{"product_id": eggs, "quantity": "1"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodGet, "/api/reports/daily", f.admin, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fin analytics.Financials
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fin))
	assert.Equal(t, "1.00", fin.Profit.StringFixed(2))

	rec = f.do(http.MethodGet, "/api/reports/daily?date=yesterday", f.admin, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/reports/top-profit?limit=0", f.admin, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, path := range []string{"/api/reports/sales", "/api/reports/low-stock", "/api/reports/near-expiry?days=3", "/api/reports/dashboard", "/api/reports/valuation"} {
		rec = f.do(http.MethodGet, path, f.admin, nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec = f.do(http.MethodPost, "/api/alerts/refresh", f.admin, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var created []models.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Len(t, created, 2)

	rec = f.do(http.MethodPost, fmt.Sprintf("/api/alerts/%d/view", created[0].ID), f.admin, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(http.MethodGet, "/api/alerts", f.admin, nil, nil)
	var open []models.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &open))
	assert.Len(t, open, 1)
}

func TestPurchaseOrderRoutes(t *testing.T) {
	f := newFixture(t)
	rice := f.createProduct("Rice", "", "1.00", "2.00", 0)

	rec := f.do(http.MethodPost, "/api/purchase-orders", f.admin, map[string]any{"supplier_info": "Grain Co"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var order models.PurchaseOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))

	rec = f.do(http.MethodPost, fmt.Sprintf("/api/purchase-orders/%d/items", order.ID), f.admin, map[string]any{"product_id": rice, "quantity": 20, "agreed_cost": "0.90"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item models.PurchaseOrderItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))

	rec = f.do(http.MethodPost, fmt.Sprintf("/api/purchase-orders/%d/receive", order.ID), f.admin, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "drafts are not received")

	rec = f.do(http.MethodPost, fmt.Sprintf("/api/purchase-orders/%d/send", order.ID), f.admin, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, fmt.Sprintf("/api/purchase-orders/%d/receive", order.ID), f.admin,
		map[string]any{"items": []map[string]any{{"item_id": item.ID, "expiry_date": "2031-01-01"}}}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	level, err := f.store.StockLevel(context.Background(), rice)
	require.NoError(t, err)
	assert.Equal(t, 20, level)

	rec = f.do(http.MethodGet, "/api/purchase-orders?status=received", f.admin, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []models.PurchaseOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	assert.Len(t, orders, 1)
}

func TestAdvisorSummary(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/advisor/summary", f.admin, nil, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "DEPENDENCY_ERROR", decodeErr(t, rec).Error.Code)

	rec = f.do(http.MethodPost, "/api/advisor/ask", f.admin, map[string]any{"message": "hi"}, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	summarizer := &fakeSummarizer{}
	f.h.Summarizer = summarizer

	// an empty shop has nothing worth a model call
	rec = f.do(http.MethodPost, "/api/advisor/summary", f.admin, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), ai.QuietSummary)
	assert.Zero(t, summarizer.calls)

	f.createProduct("Eggs", "", "1.00", "2.00", 6)

	rec = f.do(http.MethodPost, "/api/advisor/summary", f.admin, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Reorder Eggs.")
	require.Len(t, summarizer.got.LowStock, 1)
	assert.Equal(t, "Eggs", summarizer.got.LowStock[0].Name)
	assert.Equal(t, 1, summarizer.calls)
}

func TestHealthAndUsers(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.h.Pingers["redis"] = pingerFunc(func(context.Context) error { return errors.New("connection refused") })
	rec = f.do(http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"down"`)

	rec = f.do(http.MethodGet, "/metrics", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodDelete, "/api/users/999", f.admin, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodDelete, "/api/users/2", f.admin, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
