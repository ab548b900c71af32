package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"swap-router/internal/config"
	"swap-router/internal/store"
)

func testAppConfig() *config.Config {
	return &config.Config{
		App:    config.AppConfig{Environment: "test"},
		Server: config.ServerConfig{Port: 3004, ShutdownTimeout: time.Second},
		Venues: []config.VenueConfig{
			{Name: "RAYDIUM", BasePrice: 0.0001, VarianceMin: 0.98, VarianceMax: 1.03, FeeRate: 0.003, Liquidity: 1000000},
			{Name: "METEORA", BasePrice: 0.0001, VarianceMin: 0.97, VarianceMax: 1.03, FeeRate: 0.002, Liquidity: 800000},
		},
		Pipeline: config.PipelineConfig{MaxRetries: 3, BackoffBase: time.Millisecond},
		Database: config.DatabaseConfig{InMemory: true, MaxOpenConns: 1},
		Logging:  config.LoggingConfig{Level: "info", Encoding: "console"},
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()

	db, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	a, err := New(testAppConfig(), zap.NewNop(), db)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a.runner.Start(ctx)
	return a
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func getPath(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitEndpointAcceptsOrder(t *testing.T) {
	a := newTestApp(t)
	h := a.routes()

	rec := postJSON(t, h, "/api/orders/execute", map[string]interface{}{
		"tokenIn":  "SOL",
		"tokenOut": "USDC",
		"amountIn": "1.0",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool   `json:"success"`
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.OrderID == "" || resp.Status != "PENDING" {
		t.Errorf("unexpected response: %+v", resp)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.runner.Drain(drainCtx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestSubmitEndpointRejectsIncompleteOrder(t *testing.T) {
	a := newTestApp(t)
	h := a.routes()

	rec := postJSON(t, h, "/api/orders/execute", map[string]interface{}{
		"tokenIn": "SOL",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if a.orders.Len() != 0 {
		t.Errorf("rejected submission must not create an order")
	}
}

func TestOrderLookupUnknownIDReturns404(t *testing.T) {
	a := newTestApp(t)
	h := a.routes()

	rec := getPath(h, "/api/orders?orderId=nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success || resp.Error != "order not found" {
		t.Errorf("unexpected payload: %+v", resp)
	}
}

func TestOrderListEndpoint(t *testing.T) {
	a := newTestApp(t)
	h := a.routes()

	for i := 0; i < 3; i++ {
		rec := postJSON(t, h, "/api/orders/execute", map[string]interface{}{
			"tokenIn":  "SOL",
			"tokenOut": "USDC",
			"amountIn": 1.0,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("submit %d: got %d", i, rec.Code)
		}
	}

	rec := getPath(h, "/api/orders")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Success bool              `json:"success"`
		Orders  []json.RawMessage `json:"orders"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || len(resp.Orders) != 3 {
		t.Errorf("expected 3 orders, got %d", len(resp.Orders))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.runner.Drain(drainCtx)
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestApp(t)
	h := a.routes()

	rec := getPath(h, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Status        string `json:"status"`
		OrdersTracked int    `json:"ordersTracked"`
		SchedulerLive bool   `json:"schedulerLive"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "healthy" || !resp.SchedulerLive {
		t.Errorf("unexpected health payload: %+v", resp)
	}
}

func TestEventsEndpoint(t *testing.T) {
	a := newTestApp(t)
	h := a.routes()

	rec := postJSON(t, h, "/api/orders/execute", map[string]interface{}{
		"tokenIn":  "SOL",
		"tokenOut": "USDC",
		"amountIn": "2.5",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: got %d", rec.Code)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.runner.Drain(drainCtx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	rec = getPath(h, "/events?type=status_change&limit=50")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var events []json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	// 成功路径至少 4 次流转：ROUTING/BUILDING/SUBMITTED/CONFIRMED。
	if len(events) < 4 {
		t.Errorf("expected at least 4 status_change events, got %d", len(events))
	}
}
