package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kjannette/trahn-sim/internal/models"
	"github.com/kjannette/trahn-sim/internal/randutil"
	"github.com/kjannette/trahn-sim/internal/risk"
	"github.com/sirupsen/logrus"
)

const AlertBreaker = "breaker"

// Ledger is the subset of the ledger the refresher marks.
type Ledger interface {
	Users() []string
	Positions(userID string) []models.Position
	UpdateMarketPrice(userID, assetID string, price float64) bool
	Dashboard(userID string) *models.Dashboard
}

// Catalog holds the reference prices that drift between refreshes.
type Catalog interface {
	All() []models.Asset
	SetPrice(id string, price float64) bool
}

type MarkConfig struct {
	Interval     time.Duration // e.g. 30*time.Second
	DriftPercent float64       // max absolute move per refresh, e.g. 2
	Guardian     *risk.Guardian
	OnAlert      func(a models.Alert)
	Now          func() time.Time
}

// MarkRefresher periodically moves catalog prices and re-marks every open
// position so unrealized profit tracks the simulated market.
type MarkRefresher struct {
	ledger  Ledger
	catalog Catalog
	src     randutil.Source
	cfg     MarkConfig
	log     *logrus.Logger

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	done     chan struct{}
	breached map[string]bool
}

func NewMarkRefresher(ledger Ledger, catalog Catalog, src randutil.Source, cfg MarkConfig, log *logrus.Logger) *MarkRefresher {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.DriftPercent < 0 {
		cfg.DriftPercent = 0
	}
	if src == nil {
		src = randutil.NewEntropy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MarkRefresher{
		ledger:   ledger,
		catalog:  catalog,
		src:      src,
		cfg:      cfg,
		log:      log,
		breached: make(map[string]bool),
	}
}

func (m *MarkRefresher) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.log.Debug("Mark refresher already running")
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	stopCh, done := m.stopCh, m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Interval)
				if _, err := m.RefreshNow(ctx); err != nil {
					m.log.WithError(err).Warn("Mark refresh incomplete")
				}
				cancel()
			}
		}
	}()

	m.log.WithFields(logrus.Fields{
		"interval": m.cfg.Interval,
		"drift":    m.cfg.DriftPercent,
	}).Info("Mark refresher started")
}

// Stop halts the ticker and waits for an in-flight refresh to finish.
func (m *MarkRefresher) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.stopCh)
	m.running = false
	done := m.done
	m.mu.Unlock()

	<-done
	m.log.Info("Mark refresher stopped")
}

func (m *MarkRefresher) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RefreshNow drifts every asset price once and re-marks held positions. It
// returns the number of positions marked.
func (m *MarkRefresher) RefreshNow(ctx context.Context) (int, error) {
	prices := make(map[string]float64)
	for _, a := range m.catalog.All() {
		move := randutil.Uniform(m.src, -m.cfg.DriftPercent, m.cfg.DriftPercent)
		price := a.Price * (1 + move/100)
		if m.catalog.SetPrice(a.ID, price) {
			prices[a.ID] = price
		}
	}

	marked := 0
	for _, user := range m.ledger.Users() {
		if err := ctx.Err(); err != nil {
			return marked, fmt.Errorf("refresh interrupted: %w", err)
		}
		positions := m.ledger.Positions(user)
		if len(positions) == 0 {
			continue
		}
		for _, p := range positions {
			price, ok := prices[p.AssetID]
			if !ok {
				continue
			}
			if m.ledger.UpdateMarketPrice(user, p.AssetID, price) {
				marked++
			}
		}
		m.checkBreakers(user)
	}

	m.log.WithFields(logrus.Fields{
		"assets":    len(prices),
		"positions": marked,
	}).Debug("Marks refreshed")
	return marked, nil
}

// checkBreakers raises an alert the first time a portfolio or position
// trips a breaker (stop-loss, take-profit, trailing stop, max hold). The
// alert re-arms once the value is back inside the band.
func (m *MarkRefresher) checkBreakers(user string) {
	g := m.cfg.Guardian
	if g == nil || !g.Limits().Enabled() {
		return
	}
	d := m.ledger.Dashboard(user)
	now := m.cfg.Now()
	m.evaluate(user, "portfolio", g.PortfolioCheck(d.TotalReturnPercent))
	for _, p := range d.Positions {
		m.evaluate(user, p.AssetID, g.PositionCheck(p, now))
	}
}

func (m *MarkRefresher) evaluate(user, scope string, err error) {
	key := user + "/" + scope
	m.mu.Lock()
	was := m.breached[key]
	if err == nil {
		delete(m.breached, key)
		m.mu.Unlock()
		return
	}
	m.breached[key] = true
	m.mu.Unlock()
	if was {
		return
	}

	m.log.WithFields(logrus.Fields{"user": user, "scope": scope}).Warn(err.Error())
	if m.cfg.OnAlert != nil {
		m.cfg.OnAlert(models.Alert{UserID: user, Kind: AlertBreaker, Message: err.Error(), At: m.cfg.Now()})
	}
}

// Forget clears breaker state for a user, e.g. after a reset.
func (m *MarkRefresher) Forget(user string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.breached {
		if strings.HasPrefix(k, user+"/") {
			delete(m.breached, k)
		}
	}
}
