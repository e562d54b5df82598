package bot

import (
	"fmt"
	"sync"

	"github.com/kjannette/trahn-sim/internal/ledger"
	"github.com/kjannette/trahn-sim/internal/market"
	"github.com/kjannette/trahn-sim/internal/models"
	"github.com/kjannette/trahn-sim/internal/randutil"
	"github.com/kjannette/trahn-sim/internal/risk"
	"github.com/kjannette/trahn-sim/internal/scheduler"
	"github.com/kjannette/trahn-sim/internal/strategy"
	"github.com/sirupsen/logrus"
)

// Notifier delivers trade and alert messages outside the process.
type Notifier interface {
	NotifyTrade(n models.Notification)
	NotifyAlert(a models.Alert)
}

// Update is pushed to per-user listeners.
type Update struct {
	Type         string               `json:"type"`
	Notification *models.Notification `json:"notification,omitempty"`
	Alert        *models.Alert        `json:"alert,omitempty"`
}

const (
	UpdateTrade = "trade"
	UpdateAlert = "alert"
)

type Options struct {
	Ledger    *ledger.Ledger
	Generator *market.Generator
	Catalog   *market.Catalog
	Guardian  *risk.Guardian
	Strategy  strategy.Config
	Marks     scheduler.MarkConfig
	Source    randutil.Source
	Webhook   Notifier

	// OnNotification is called synchronously for every accepted
	// opportunity and manual sell.
	OnNotification func(n models.Notification)
}

// Service is the process-wide simulator: one ledger, one event stream and
// the evaluator that connects them.
type Service struct {
	ledger    *ledger.Ledger
	gen       *market.Generator
	catalog   *market.Catalog
	eval      *strategy.Evaluator
	refresher *scheduler.MarkRefresher
	webhook   Notifier
	onNotify  func(n models.Notification)
	log       *logrus.Logger

	mu        sync.RWMutex
	listeners map[string]map[int]func(Update)
	nextID    int

	pending sync.WaitGroup
}

func NewService(opts Options, log *logrus.Logger) (*Service, error) {
	if opts.Ledger == nil || opts.Generator == nil || opts.Catalog == nil {
		return nil, fmt.Errorf("service requires a ledger, a generator and a catalog")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Service{
		ledger:    opts.Ledger,
		gen:       opts.Generator,
		catalog:   opts.Catalog,
		webhook:   opts.Webhook,
		onNotify:  opts.OnNotification,
		log:       log,
		listeners: make(map[string]map[int]func(Update)),
	}

	s.eval = strategy.NewEvaluator(opts.Strategy, opts.Ledger, opts.Generator, opts.Catalog,
		opts.Guardian, opts.Source, strategy.Hooks{
			OnTrade: s.handleTrade,
			OnAlert: s.handleAlert,
		}, log)

	marks := opts.Marks
	if marks.Guardian == nil {
		marks.Guardian = opts.Guardian
	}
	marks.OnAlert = s.handleAlert
	s.refresher = scheduler.NewMarkRefresher(opts.Ledger, opts.Catalog, opts.Source, marks, log)

	return s, nil
}

// Start begins background mark refreshes. The event stream starts on its
// own when the first user engages.
func (s *Service) Start() {
	s.refresher.Start()
	s.log.WithFields(logrus.Fields{
		"assets":   s.catalog.Len(),
		"currency": s.ledger.Currency(),
	}).Info("Simulator started")
}

// Shutdown stops the event stream and the refresher and waits for queued
// webhook deliveries.
func (s *Service) Shutdown() {
	for _, id := range s.gen.Subscribers() {
		s.eval.Disengage(id)
	}
	s.gen.Stop()
	s.refresher.Stop()
	s.pending.Wait()
	s.log.Info("Simulator stopped")
}

func (s *Service) Evaluator() *strategy.Evaluator { return s.eval }

// --- user operations ---

func (s *Service) Engage(userID string) error {
	return s.eval.Engage(userID)
}

func (s *Service) Disengage(userID string) error {
	return s.eval.Disengage(userID)
}

// Sell accepts either an asset id or a symbol.
func (s *Service) Sell(userID, asset string, percentage float64) (*models.Trade, error) {
	assetID := asset
	if _, ok := s.catalog.Asset(asset); !ok {
		if a, ok := s.catalog.BySymbol(asset); ok {
			assetID = a.ID
		}
	}
	return s.eval.Sell(userID, assetID, percentage)
}

// Reset restores the user's starting balance. Engagement is unchanged.
func (s *Service) Reset(userID string) *models.UserStats {
	st := s.ledger.Reset(userID)
	s.eval.ClearAlerts(userID)
	s.refresher.Forget(userID)
	st.Engaged = s.eval.Engaged(userID)
	return st
}

// --- projections ---

// GetStats never returns nil; unknown users are created with the starting
// balance.
func (s *Service) GetStats(userID string) *models.UserStats {
	st := s.ledger.Stats(userID)
	st.Engaged = s.eval.Engaged(userID)
	return st
}

func (s *Service) Dashboard(userID string) *models.Dashboard {
	d := s.ledger.Dashboard(userID)
	d.Engaged = s.eval.Engaged(userID)
	return d
}

func (s *Service) Positions(userID string) []models.Position {
	return s.ledger.Positions(userID)
}

func (s *Service) History(userID string, limit int) []models.Trade {
	return s.ledger.History(userID, limit)
}

func (s *Service) MarketStatus() models.MarketStatus {
	return models.MarketStatus{
		Running:     s.gen.Running(),
		Subscribers: s.gen.Subscribers(),
		Emitted:     s.gen.Emitted(),
		Assets:      s.catalog.All(),
		Native:      s.gen.Config().Native,
		Currency:    s.ledger.Currency(),
	}
}

// --- notifications ---

// Listen registers fn for the user's trades and alerts. The returned
// function removes it.
func (s *Service) Listen(userID string, fn func(Update)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.listeners[userID] == nil {
		s.listeners[userID] = make(map[int]func(Update))
	}
	s.listeners[userID][id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners[userID], id)
		if len(s.listeners[userID]) == 0 {
			delete(s.listeners, userID)
		}
	}
}

func (s *Service) handleTrade(n models.Notification) {
	if s.onNotify != nil {
		s.onNotify(n)
	}
	s.broadcast(n.UserID, Update{Type: UpdateTrade, Notification: &n})
	if s.webhook != nil {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.webhook.NotifyTrade(n)
		}()
	}
}

func (s *Service) handleAlert(a models.Alert) {
	s.broadcast(a.UserID, Update{Type: UpdateAlert, Alert: &a})
	if s.webhook != nil {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.webhook.NotifyAlert(a)
		}()
	}
}

func (s *Service) broadcast(userID string, u Update) {
	s.mu.RLock()
	fns := make([]func(Update), 0, len(s.listeners[userID]))
	for _, fn := range s.listeners[userID] {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(u)
	}
}
