package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kjannette/trahn-sim/internal/bot"
	"github.com/kjannette/trahn-sim/internal/models"
	"github.com/kjannette/trahn-sim/internal/strategy"
	"github.com/kjannette/trahn-sim/internal/testutil"
)

type fakeSim struct {
	mu        sync.Mutex
	engaged   map[string]bool
	positions map[string][]models.Position
	lastLimit int
	listeners map[string]func(bot.Update)
}

func newFakeSim() *fakeSim {
	return &fakeSim{
		engaged:   map[string]bool{},
		positions: map[string][]models.Position{},
		listeners: map[string]func(bot.Update){},
	}
}

func (f *fakeSim) Dashboard(userID string) *models.Dashboard {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.Dashboard{
		UserStats: models.UserStats{UserID: userID, Balance: 20, InitialBalance: 20, Engaged: f.engaged[userID]},
		Currency:  "EUR",
	}
}

func (f *fakeSim) Positions(userID string) []models.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Position{}, f.positions[userID]...)
}

func (f *fakeSim) History(userID string, limit int) []models.Trade {
	f.mu.Lock()
	f.lastLimit = limit
	f.mu.Unlock()
	return []models.Trade{{ID: "t1", Side: models.SideBuy, Status: models.StatusCompleted}}
}

func (f *fakeSim) Engage(userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if userID == "broke" {
		return strategy.ErrInsufficientBalance
	}
	if f.engaged[userID] {
		return strategy.ErrAlreadyActive
	}
	f.engaged[userID] = true
	return nil
}

func (f *fakeSim) Disengage(userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.engaged, userID)
	return nil
}

func (f *fakeSim) Reset(userID string) *models.UserStats {
	return &models.UserStats{UserID: userID, Balance: 20, InitialBalance: 20}
}

func (f *fakeSim) Sell(userID, asset string, pct float64) (*models.Trade, error) {
	if pct <= 0 || pct > 100 {
		return nil, strategy.ErrInvalidPercentage
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.positions[userID] {
		if p.Symbol == asset || p.AssetID == asset {
			return &models.Trade{ID: "s1", Side: models.SideSell, Status: models.StatusCompleted,
				AssetID: p.AssetID, Symbol: p.Symbol, Quantity: p.Quantity * pct / 100}, nil
		}
	}
	return nil, strategy.ErrPositionNotFound
}

func (f *fakeSim) MarketStatus() models.MarketStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	var subs []string
	for id := range f.engaged {
		subs = append(subs, id)
	}
	return models.MarketStatus{Running: len(subs) > 0, Subscribers: subs, Native: "ETH", Currency: "EUR"}
}

func (f *fakeSim) Listen(userID string, fn func(bot.Update)) func() {
	f.mu.Lock()
	f.listeners[userID] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, userID)
		f.mu.Unlock()
	}
}

func (f *fakeSim) push(userID string, u bot.Update) bool {
	f.mu.Lock()
	fn := f.listeners[userID]
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(u)
	return true
}

type fakeTradeLog struct{ err error }

func (f *fakeTradeLog) ByDay(_ context.Context, userID, day string) ([]models.Trade, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []models.Trade{{ID: "d1", Symbol: "UNI"}}, nil
}

func (f *fakeTradeLog) Stats(_ context.Context, userID string) (*models.TradeStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.TradeStats{TotalTrades: 3, BuyCount: 2, SellCount: 1}, nil
}

func newTestServer(t *testing.T, sim *fakeSim, opts Options) *httptest.Server {
	t.Helper()
	s := NewServer(sim, opts, testutil.Logger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

// ---------- user routes ----------

func TestStatsRoute(t *testing.T) {
	srv := newTestServer(t, newFakeSim(), Options{})
	resp, body := do(t, http.MethodGet, srv.URL+"/v1/users/alice/stats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var d models.Dashboard
	if err := json.Unmarshal(body, &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.UserID != "alice" || d.Balance != 20 || d.Currency != "EUR" {
		t.Fatalf("unexpected dashboard: %+v", d)
	}
}

func TestInvalidUserID(t *testing.T) {
	srv := newTestServer(t, newFakeSim(), Options{})
	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/users/"+strings.Repeat("x", 65)+"/stats", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestEngageRoutes(t *testing.T) {
	sim := newFakeSim()
	srv := newTestServer(t, sim, Options{})

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/users/alice/engage", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"engaged":true`) {
		t.Fatalf("engage: %d %s", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/users/alice/engage", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second engage: expected 409, got %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/users/broke/engage", "")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("broke engage: expected 422, got %d", resp.StatusCode)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/market/status", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"running":true`) {
		t.Fatalf("market status: %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/users/alice/disengage", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"engaged":false`) {
		t.Fatalf("disengage: %d %s", resp.StatusCode, body)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/users/alice/engage", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET engage: expected 405, got %d", resp.StatusCode)
	}
}

func TestSellRoute(t *testing.T) {
	sim := newFakeSim()
	sim.positions["alice"] = []models.Position{{AssetID: "0xuni", Symbol: "UNI", Quantity: 2}}
	srv := newTestServer(t, sim, Options{})

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/users/alice/positions/UNI/sell", `{"percentage":50}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sell: %d %s", resp.StatusCode, body)
	}
	var tr models.Trade
	if err := json.Unmarshal(body, &tr); err != nil || tr.Quantity != 1 {
		t.Fatalf("sell trade: %+v (%v)", tr, err)
	}

	cases := []struct {
		path, body string
		want       int
	}{
		{"/v1/users/alice/positions/UNI/sell", `{"percentage":150}`, http.StatusBadRequest},
		{"/v1/users/alice/positions/UNI/sell", `not json`, http.StatusBadRequest},
		{"/v1/users/alice/positions/PEPE/sell", `{"percentage":50}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, body := do(t, http.MethodPost, srv.URL+tc.path, tc.body)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s %s: expected %d, got %d: %s", tc.path, tc.body, tc.want, resp.StatusCode, body)
		}
	}
}

func TestHistoryAndPositionsRoutes(t *testing.T) {
	sim := newFakeSim()
	srv := newTestServer(t, sim, Options{})

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/users/alice/trades?limit=5", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"t1"`) {
		t.Fatalf("history: %d %s", resp.StatusCode, body)
	}
	sim.mu.Lock()
	limit := sim.lastLimit
	sim.mu.Unlock()
	if limit != 5 {
		t.Fatalf("limit not forwarded: %d", limit)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/users/alice/positions", "")
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("positions: %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/users/alice/reset", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"balance":20`) {
		t.Fatalf("reset: %d %s", resp.StatusCode, body)
	}
}

// ---------- trade log routes ----------

func TestTradeLogRoutes(t *testing.T) {
	srv := newTestServer(t, newFakeSim(), Options{TradeLog: &fakeTradeLog{}})

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/users/alice/trades/day/2026-03-01", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"d1"`) {
		t.Fatalf("by day: %d %s", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/users/alice/trades/day/2026-13-01", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad date: expected 400, got %d", resp.StatusCode)
	}
	resp, body = do(t, http.MethodGet, srv.URL+"/v1/users/alice/trades/stats", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"totalTrades":3`) {
		t.Fatalf("stats: %d %s", resp.StatusCode, body)
	}
}

func TestTradeLogRoutes_Unavailable(t *testing.T) {
	srv := newTestServer(t, newFakeSim(), Options{})
	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/users/alice/trades/stats", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a trade log, got %d", resp.StatusCode)
	}
}

func TestTradeLogRoutes_Error(t *testing.T) {
	srv := newTestServer(t, newFakeSim(), Options{TradeLog: &fakeTradeLog{err: errors.New("db down")}})
	resp, body := do(t, http.MethodGet, srv.URL+"/v1/users/alice/trades/stats", "")
	if resp.StatusCode != http.StatusInternalServerError || strings.Contains(string(body), "db down") {
		t.Fatalf("expected opaque 500, got %d %s", resp.StatusCode, body)
	}
}

// ---------- health & metrics ----------

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthRoute(t *testing.T) {
	srv := newTestServer(t, newFakeSim(), Options{APIKey: "secret", DB: fakePinger{err: errors.New("down")}})
	resp, body := do(t, http.MethodGet, srv.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", resp.StatusCode)
	}
	var h healthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Status != "ok" || h.Services.Database != "disconnected" || h.Services.Market != "idle" {
		t.Fatalf("unexpected health: %+v", h)
	}
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(t, newFakeSim(), Options{APIKey: "secret"})
	resp, body := do(t, http.MethodGet, srv.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "trahn_sim_stream_clients") {
		t.Fatal("expected simulator metrics in exposition")
	}
}

// ---------- stream ----------

func TestStreamRoute(t *testing.T) {
	sim := newFakeSim()
	srv := newTestServer(t, sim, Options{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/users/alice/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	n := models.Notification{UserID: "alice", Reason: "executed", Trade: &models.Trade{ID: "t9", Symbol: "UNI"}}
	if !sim.push("alice", bot.Update{Type: bot.UpdateTrade, Notification: &n}) {
		t.Fatal("stream did not register a listener")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got bot.Update
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != bot.UpdateTrade || got.Notification == nil || got.Notification.Trade.ID != "t9" {
		t.Fatalf("unexpected update: %+v", got)
	}
}

func TestStreamRoute_RejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t, newFakeSim(), Options{CORSOrigin: "https://app.example.com"})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/users/alice/stream"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}
