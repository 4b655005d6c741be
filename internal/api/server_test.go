package api

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"botsim-core/internal/aggregator"
	"botsim-core/internal/events"
	"botsim-core/internal/flush"
	"botsim-core/internal/gateway"
	"botsim-core/internal/sim"
	"botsim-core/pkg/cache"
	"botsim-core/pkg/db"
)

func newTestServer(t *testing.T) (*Server, context.CancelFunc) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	bus := events.NewBus()
	engine := sim.NewEngine(bus, rand.New(rand.NewSource(1)))
	engine.Run(ctx)

	agg := aggregator.New(cache.NewShardedPriceCache(), time.Hour, 50)
	gw := gateway.NewSQLiteGateway(database)
	coord := flush.NewCoordinator(engine, gw, time.Hour)

	return NewServer(engine, agg, coord, bus, database, "0"), cancel
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	w := doRequest(s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
}

func TestEngineLifecycleEndpoints(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	for _, path := range []string{"/api/engine/init", "/api/engine/start"} {
		if w := doRequest(s, http.MethodPost, path, ""); w.Code != http.StatusOK {
			t.Fatalf("%s = %d", path, w.Code)
		}
	}

	w := doRequest(s, http.MethodGet, "/api/engine/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("state = %d: %s", w.Code, w.Body.String())
	}
	var snap sim.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !snap.Running {
		t.Fatal("engine not running after start")
	}
	if len(snap.Prices) == 0 {
		t.Fatal("snapshot has no prices")
	}

	if w := doRequest(s, http.MethodPost, "/api/engine/stop", ""); w.Code != http.StatusOK {
		t.Fatalf("stop = %d", w.Code)
	}
}

func TestSetTickValidation(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	if w := doRequest(s, http.MethodPut, "/api/engine/tick", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing interval = %d, want 400", w.Code)
	}
	if w := doRequest(s, http.MethodPut, "/api/engine/tick", `{"interval_ms": 500}`); w.Code != http.StatusOK {
		t.Fatalf("valid interval = %d", w.Code)
	}
}

func TestCreateActivationValidation(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	w := doRequest(s, http.MethodPost, "/api/activations", `{"user_id": "u1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("incomplete body = %d, want 400", w.Code)
	}

	body := `{"user_id":"u1","bot_name":"steady-major","amount_usd":1000,"pairs":["BTCUSDT"]}`
	w = doRequest(s, http.MethodPost, "/api/activations", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}

	var a sim.Activation
	if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.ID == "" || a.Status != sim.StatusActive {
		t.Fatalf("activation = %+v", a)
	}

	// persisted row exists
	ctx := context.Background()
	row, err := s.db.GetActivation(ctx, a.ID)
	if err != nil {
		t.Fatalf("db row: %v", err)
	}
	if row.UserID != "u1" {
		t.Fatalf("row = %+v", row)
	}
}

func TestCancelActivation(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	body := `{"user_id":"u1","bot_name":"steady-major","amount_usd":1000,"pairs":["BTCUSDT"]}`
	w := doRequest(s, http.MethodPost, "/api/activations", body)
	var a sim.Activation
	if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if w := doRequest(s, http.MethodDelete, "/api/activations/"+a.ID, ""); w.Code != http.StatusOK {
		t.Fatalf("cancel = %d", w.Code)
	}
	row, err := s.db.GetActivation(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("db row: %v", err)
	}
	if row.Status != "canceled" {
		t.Fatalf("status = %q, want canceled", row.Status)
	}
}

func TestGetActivationEndpoint(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	body := `{"user_id":"u1","bot_name":"steady-major","amount_usd":1000,"pairs":["BTCUSDT"]}`
	w := doRequest(s, http.MethodPost, "/api/activations", body)
	var a sim.Activation
	if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = doRequest(s, http.MethodGet, "/api/activations/"+a.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["user_id"] != "u1" || resp["status"] != "active" {
		t.Fatalf("resp = %v", resp)
	}

	if w := doRequest(s, http.MethodGet, "/api/activations/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown activation = %d, want 404", w.Code)
	}
}

func TestGetTradeEndpoint(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	body := `{"user_id":"u1","bot_name":"steady-major","amount_usd":1000,"pairs":["BTCUSDT"]}`
	w := doRequest(s, http.MethodPost, "/api/activations", body)
	var a sim.Activation
	if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}

	err := s.db.InsertTrade(context.Background(), db.TradeRow{
		ID: "t1", ActivationID: a.ID, Pair: "BTCUSDT", Side: "buy",
		Leverage: 2, AmountUSD: 100, Entry: 60000, OpenedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert trade: %v", err)
	}

	w = doRequest(s, http.MethodGet, "/api/trades/t1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get trade = %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["pair"] != "BTCUSDT" || resp["status"] != "open" {
		t.Fatalf("resp = %v", resp)
	}
	if _, hasClosed := resp["closed_at"]; hasClosed {
		t.Fatal("open trade carries closed_at")
	}

	if w := doRequest(s, http.MethodGet, "/api/trades/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown trade = %d, want 404", w.Code)
	}
}

func TestPriceDetailEndpoint(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	if w := doRequest(s, http.MethodGet, "/api/prices/BTCUSDT", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown symbol = %d, want 404", w.Code)
	}

	s.agg.Apply(sim.Batch{Prices: map[string]float64{"BTCUSDT": 60000}})
	s.agg.Flush()

	w := doRequest(s, http.MethodGet, "/api/prices/BTCUSDT", "")
	if w.Code != http.StatusOK {
		t.Fatalf("price detail = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
		AgeMS  int64   `json:"age_ms"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Price != 60000 || resp.AgeMS < 0 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHealthReportsTrackedSymbols(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	s.agg.Apply(sim.Batch{Prices: map[string]float64{"BTCUSDT": 60000, "ETHUSDT": 2500}})
	s.agg.Flush()

	w := doRequest(s, http.MethodGet, "/health", "")
	var resp struct {
		Symbols int `json:"symbols"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Symbols != 2 {
		t.Fatalf("symbols = %d, want 2", resp.Symbols)
	}
}

func TestTakeProfitNoopSucceeds(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	// nothing withdrawable: endpoint succeeds without touching the gateway
	w := doRequest(s, http.MethodPost, "/api/activations/unknown/take-profit", "")
	if w.Code != http.StatusOK {
		t.Fatalf("take-profit noop = %d: %s", w.Code, w.Body.String())
	}
}

func TestPricesEndpoint(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	w := doRequest(s, http.MethodGet, "/api/prices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("prices = %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	w := doRequest(s, http.MethodOptions, "/api/engine/state", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

func TestRequestIDPropagates(t *testing.T) {
	s, cancel := newTestServer(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("request id = %q", got)
	}
}
