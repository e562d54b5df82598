package bot

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kjannette/trahn-sim/internal/costs"
	"github.com/kjannette/trahn-sim/internal/ledger"
	"github.com/kjannette/trahn-sim/internal/market"
	"github.com/kjannette/trahn-sim/internal/models"
	"github.com/kjannette/trahn-sim/internal/randutil"
	"github.com/kjannette/trahn-sim/internal/strategy"
	"github.com/kjannette/trahn-sim/internal/testutil"
)

type fakeWebhook struct {
	mu     sync.Mutex
	trades []models.Notification
	alerts []models.Alert
}

func (f *fakeWebhook) NotifyTrade(n models.Notification) {
	f.mu.Lock()
	f.trades = append(f.trades, n)
	f.mu.Unlock()
}

func (f *fakeWebhook) NotifyAlert(a models.Alert) {
	f.mu.Lock()
	f.alerts = append(f.alerts, a)
	f.mu.Unlock()
}

func (f *fakeWebhook) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.trades), len(f.alerts)
}

func newTestService(t *testing.T, src randutil.Source, hook *fakeWebhook) (*Service, *market.Catalog) {
	t.Helper()
	log := testutil.Logger()
	cat := market.NewCatalog([]models.Asset{
		{Symbol: "PEPE", Price: 0.00001},
		{Symbol: "UNI", Price: 7.5},
	})
	gen, err := market.NewGenerator(market.Config{
		MinDelay:    10 * time.Millisecond,
		MaxDelay:    30 * time.Millisecond,
		MinValue:    0.5,
		MaxValue:    5,
		Native:      "ETH",
		NativePrice: 1000,
	}, cat, randutil.New(7), log)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	cfg := strategy.DefaultConfig()
	cfg.Rates = costs.Rates{NativeToReference: 1000, ReferenceToLedger: 1}

	opts := Options{
		Ledger:    ledger.New(ledger.Options{}, log),
		Generator: gen,
		Catalog:   cat,
		Strategy:  cfg,
		Source:    src,
	}
	if hook != nil {
		opts.Webhook = hook
	}
	s, err := NewService(opts, log)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s, cat
}

func buyEvent(a models.Asset) *models.MarketEvent {
	return &models.MarketEvent{
		ID: "0xfeed", Kind: models.KindSwap, Native: "ETH",
		SourceSymbol: "ETH", DestSymbol: a.Symbol, DestAsset: a.ID,
		Value: 1, GasPrice: 1, Timestamp: time.Now(),
	}
}

func TestNewService_RequiresComponents(t *testing.T) {
	if _, err := NewService(Options{}, testutil.Logger()); err == nil {
		t.Fatal("expected an error without components")
	}
}

func TestGetStats_LazyUser(t *testing.T) {
	s, _ := newTestService(t, randutil.New(1), nil)
	st := s.GetStats("newcomer")
	if st == nil || st.Balance != ledger.DefaultInitialBalance || st.Engaged {
		t.Fatalf("unexpected stats for a new user: %+v", st)
	}
}

func TestEngageDisengage_DrivesGenerator(t *testing.T) {
	s, _ := newTestService(t, randutil.New(1), nil)

	if err := s.Engage("alice"); err != nil {
		t.Fatalf("Engage: %v", err)
	}
	if err := s.Engage("alice"); !errors.Is(err, strategy.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	st := s.MarketStatus()
	if !st.Running || len(st.Subscribers) != 1 || st.Subscribers[0] != "alice" {
		t.Fatalf("market status after engage: %+v", st)
	}
	if !s.GetStats("alice").Engaged || !s.Dashboard("alice").Engaged {
		t.Fatal("stats should report engagement")
	}

	if err := s.Disengage("alice"); err != nil {
		t.Fatalf("Disengage: %v", err)
	}
	if s.MarketStatus().Running {
		t.Fatal("generator should stop when the last user leaves")
	}
}

func TestEngaged_UserTradesFromStream(t *testing.T) {
	s, _ := newTestService(t, randutil.New(3), nil)
	if err := s.Engage("alice"); err != nil {
		t.Fatalf("Engage: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.GetStats("alice").TotalTrades == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no trades were simulated from the event stream")
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Disengage("alice")

	st := s.GetStats("alice")
	if st.Balance < 0 || st.Balance > ledger.DefaultInitialBalance {
		t.Fatalf("balance out of range: %v", st.Balance)
	}
	t.Logf("Simulated %d trades, balance %.4f, emitted %d events", st.TotalTrades, st.Balance, s.MarketStatus().Emitted)
}

func TestListen_ReceivesTradesAndWebhook(t *testing.T) {
	hook := &fakeWebhook{}
	s, cat := newTestService(t, randutil.NewSequence(0.1, 0.5, 0.5), hook)
	uni, _ := cat.BySymbol("UNI")

	var mu sync.Mutex
	var got []Update
	stop := s.Listen("alice", func(u Update) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
	})

	var direct []models.Notification
	s.onNotify = func(n models.Notification) { direct = append(direct, n) }

	d := s.Evaluator().Evaluate("alice", buyEvent(uni))
	if !d.Accepted {
		t.Fatalf("expected acceptance, got %+v", d)
	}
	s.Evaluator().Evaluate("bob", buyEvent(uni))

	mu.Lock()
	if len(got) != 1 || got[0].Type != UpdateTrade || got[0].Notification.UserID != "alice" {
		t.Fatalf("listener updates: %+v", got)
	}
	mu.Unlock()
	if len(direct) != 2 {
		t.Fatalf("callback should see every notification, got %d", len(direct))
	}

	stop()
	s.Evaluator().Evaluate("alice", buyEvent(uni))
	mu.Lock()
	if len(got) != 1 {
		t.Fatalf("removed listener still called: %d", len(got))
	}
	mu.Unlock()

	s.Shutdown()
	if trades, _ := hook.counts(); trades != 3 {
		t.Fatalf("webhook should receive 3 trades, got %d", trades)
	}
}

func TestSell_BySymbolOrID(t *testing.T) {
	s, cat := newTestService(t, randutil.NewSequence(0.1, 0.5, 0.5), nil)
	uni, _ := cat.BySymbol("UNI")
	if d := s.Evaluator().Evaluate("alice", buyEvent(uni)); !d.Accepted {
		t.Fatalf("seed buy: %+v", d)
	}

	tr, err := s.Sell("alice", "UNI", 50)
	if err != nil {
		t.Fatalf("Sell by symbol: %v", err)
	}
	if tr.AssetID != uni.ID {
		t.Fatalf("resolved wrong asset: %s", tr.AssetID)
	}
	if _, err := s.Sell("alice", uni.ID, 100); err != nil {
		t.Fatalf("Sell by id: %v", err)
	}
	if _, err := s.Sell("alice", "UNI", 100); !errors.Is(err, strategy.ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
	if len(s.Positions("alice")) != 0 {
		t.Fatal("position should be closed")
	}
	if h := s.History("alice", 2); len(h) != 2 || h[0].Side != models.SideSell {
		t.Fatalf("history: %+v", h)
	}
}

func TestReset_RestoresBalanceKeepsEngagement(t *testing.T) {
	s, cat := newTestService(t, randutil.NewSequence(0.1, 0.5, 0.5), nil)
	uni, _ := cat.BySymbol("UNI")
	s.Evaluator().Evaluate("alice", buyEvent(uni))
	if err := s.Engage("alice"); err != nil {
		t.Fatalf("Engage: %v", err)
	}
	s.Disengage("alice")
	s.Engage("alice")

	st := s.Reset("alice")
	if st.Balance != ledger.DefaultInitialBalance || st.TotalTrades != 0 || len(st.Positions) != 0 {
		t.Fatalf("reset stats: %+v", st)
	}
	if !st.Engaged {
		t.Fatal("reset should not disengage")
	}
}

func TestAlerts_ReachListeners(t *testing.T) {
	hook := &fakeWebhook{}
	s, _ := newTestService(t, randutil.New(1), hook)

	var alerts []Update
	s.Listen("alice", func(u Update) {
		if u.Type == UpdateAlert {
			alerts = append(alerts, u)
		}
	})
	s.handleAlert(models.Alert{UserID: "alice", Kind: strategy.AlertStarved, Message: "low"})

	if len(alerts) != 1 || alerts[0].Alert.Kind != strategy.AlertStarved {
		t.Fatalf("alert updates: %+v", alerts)
	}
	s.Shutdown()
	if _, n := hook.counts(); n != 1 {
		t.Fatalf("webhook alerts: %d", n)
	}
}
