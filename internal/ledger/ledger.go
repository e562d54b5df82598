package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kjannette/trahn-sim/internal/metrics"
	"github.com/kjannette/trahn-sim/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultInitialBalance = 20
	DefaultHistoryLimit   = 50

	// Tolerance for float comparisons against the balance.
	epsilon = 1e-9
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidTrade      = errors.New("invalid trade")
	ErrNoPosition        = errors.New("no open position for asset")
)

// Store persists ledger state. Implementations must be safe for
// concurrent use; the ledger calls them while holding a user's lock.
type Store interface {
	LoadAccounts(ctx context.Context) ([]models.UserStats, error)
	SaveAccount(ctx context.Context, stats *models.UserStats) error
	RecordTrade(ctx context.Context, userID string, t *models.Trade) error
}

type Options struct {
	InitialBalance float64
	HistoryLimit   int
	Currency       string
	Store          Store
}

type account struct {
	mu    sync.Mutex
	stats models.UserStats

	// per UTC day trade counter, not part of the projection
	day      string
	dayCount int
}

// Ledger owns every user's balance, positions and trade history. Each user
// is guarded by its own lock, so ApplyTrade for one user never blocks
// another.
type Ledger struct {
	opts Options
	log  *logrus.Logger
	now  func() time.Time

	mu       sync.Mutex
	accounts map[string]*account
}

func New(opts Options, log *logrus.Logger) *Ledger {
	if opts.InitialBalance <= 0 {
		opts.InitialBalance = DefaultInitialBalance
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Currency == "" {
		opts.Currency = "EUR"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{
		opts:     opts,
		log:      log,
		now:      time.Now,
		accounts: make(map[string]*account),
	}
}

func (l *Ledger) InitialBalance() float64 { return l.opts.InitialBalance }
func (l *Ledger) Currency() string        { return l.opts.Currency }

// Restore loads persisted accounts. Accounts already touched in memory are
// left as they are.
func (l *Ledger) Restore(ctx context.Context) (int, error) {
	if l.opts.Store == nil {
		return 0, nil
	}
	all, err := l.opts.Store.LoadAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load accounts: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range all {
		if s.UserID == "" {
			continue
		}
		if _, exists := l.accounts[s.UserID]; exists {
			continue
		}
		if len(s.History) > l.opts.HistoryLimit {
			s.History = s.History[:l.opts.HistoryLimit]
		}
		l.accounts[s.UserID] = &account{stats: s}
		n++
	}
	l.log.WithField("accounts", n).Info("Ledger restored from store")
	return n, nil
}

// account returns the user's account, creating it with the initial
// balance on first access.
func (l *Ledger) account(userID string) *account {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[userID]
	if ok {
		return a
	}
	now := l.now()
	a = &account{stats: models.UserStats{
		UserID:         userID,
		Balance:        l.opts.InitialBalance,
		InitialBalance: l.opts.InitialBalance,
		Positions:      []models.Position{},
		History:        []models.Trade{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}}
	l.accounts[userID] = a
	l.log.WithFields(logrus.Fields{
		"user":    userID,
		"balance": l.opts.InitialBalance,
	}).Info("Ledger account created")
	return a
}

// lookup returns the user's account without creating it.
func (l *Ledger) lookup(userID string) (*account, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[userID]
	return a, ok
}

// Users returns every known user id, sorted.
func (l *Ledger) Users() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ApplyTrade is the single mutation entry point for trades. It returns a
// snapshot of the user's ledger after the trade.
func (l *Ledger) ApplyTrade(userID string, t *models.Trade) (*models.UserStats, error) {
	start := time.Now()
	defer func() { metrics.ApplyLatency.Observe(time.Since(start).Seconds()) }()

	if err := validate(t); err != nil {
		return nil, err
	}
	trade := *t
	if trade.Failed() {
		trade.Quantity = 0
		trade.Total = trade.Fee
	}
	if trade.Timestamp.IsZero() {
		trade.Timestamp = l.now()
	}

	a := l.account(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	s := &a.stats

	posIdx := findPosition(s.Positions, trade.AssetID)
	switch {
	case trade.Failed():
		if trade.Fee > s.Balance+epsilon {
			return nil, fmt.Errorf("%w: fee %.6f exceeds balance %.6f", ErrInsufficientFunds, trade.Fee, s.Balance)
		}
	case trade.Side == models.SideBuy:
		if trade.Total > s.Balance+epsilon {
			return nil, fmt.Errorf("%w: cost %.6f exceeds balance %.6f", ErrInsufficientFunds, trade.Total, s.Balance)
		}
	case trade.Side == models.SideSell:
		if posIdx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoPosition, trade.Symbol)
		}
	}

	s.History = append([]models.Trade{trade}, s.History...)
	if len(s.History) > l.opts.HistoryLimit {
		s.History = s.History[:l.opts.HistoryLimit]
	}
	s.TotalTrades++
	s.FeesPaid += trade.Fee

	switch {
	case trade.Failed():
		s.FailedTrades++
		s.Balance -= trade.Fee

	case trade.Side == models.SideBuy:
		s.SuccessfulTrades++
		s.Balance -= trade.Total
		if posIdx >= 0 {
			p := &s.Positions[posIdx]
			qty := p.Quantity + trade.Quantity
			if qty > 0 {
				p.EntryPrice = (p.Quantity*p.EntryPrice + trade.Quantity*trade.Price) / qty
			}
			p.Quantity = qty
			p.Mark(trade.Price)
		} else if trade.Quantity > 0 {
			p := models.Position{
				AssetID:    trade.AssetID,
				Symbol:     trade.Symbol,
				Quantity:   trade.Quantity,
				EntryPrice: trade.Price,
				OpenedAt:   trade.Timestamp,
			}
			p.Mark(trade.Price)
			s.Positions = append(s.Positions, p)
		}

	case trade.Side == models.SideSell:
		s.SuccessfulTrades++
		s.RealizedProfit += trade.Profit()
		s.Balance += trade.Total
		p := &s.Positions[posIdx]
		if p.Quantity <= trade.Quantity {
			s.Positions = append(s.Positions[:posIdx], s.Positions[posIdx+1:]...)
		} else {
			p.Quantity -= trade.Quantity
			p.Mark(trade.Price)
		}
	}

	s.WinRate = winRate(s.SuccessfulTrades, s.TotalTrades)
	s.UpdatedAt = l.now()

	day := trade.Timestamp.UTC().Format("2006-01-02")
	if a.day != day {
		a.day, a.dayCount = day, 0
	}
	a.dayCount++

	metrics.TradesApplied.WithLabelValues(string(trade.Side), string(trade.Status)).Inc()
	metrics.FeesCharged.Add(trade.Fee)

	l.log.WithFields(logrus.Fields{
		"user":    userID,
		"side":    trade.Side,
		"status":  trade.Status,
		"symbol":  trade.Symbol,
		"qty":     trade.Quantity,
		"fee":     fmt.Sprintf("%.4f", trade.Fee),
		"total":   fmt.Sprintf("%.4f", trade.Total),
		"balance": fmt.Sprintf("%.4f", s.Balance),
	}).Info("Trade applied")

	snap := clone(s)
	l.persist(userID, &trade, snap)
	return snap, nil
}

func validate(t *models.Trade) error {
	if t == nil {
		return fmt.Errorf("%w: nil trade", ErrInvalidTrade)
	}
	if t.Side != models.SideBuy && t.Side != models.SideSell {
		return fmt.Errorf("%w: side %q", ErrInvalidTrade, t.Side)
	}
	if t.Status != models.StatusCompleted && t.Status != models.StatusFailed {
		return fmt.Errorf("%w: status %q cannot be applied", ErrInvalidTrade, t.Status)
	}
	if t.Fee < 0 || t.Quantity < 0 || t.Total < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidTrade)
	}
	if t.Completed() && t.Price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidTrade)
	}
	if t.AssetID == "" {
		return fmt.Errorf("%w: missing asset id", ErrInvalidTrade)
	}
	return nil
}

// UpdateMarketPrice marks the user's position in assetID at price. It
// reports false when the user holds no such position.
func (l *Ledger) UpdateMarketPrice(userID, assetID string, price float64) bool {
	if price <= 0 {
		return false
	}
	a, ok := l.lookup(userID)
	if !ok {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := findPosition(a.stats.Positions, assetID)
	if idx < 0 {
		return false
	}
	a.stats.Positions[idx].Mark(price)
	a.stats.UpdatedAt = l.now()
	l.persist(userID, nil, clone(&a.stats))
	return true
}

// Reset restores the initial balance and clears positions, history and
// counters. The account itself is kept.
func (l *Ledger) Reset(userID string) *models.UserStats {
	a := l.account(userID)
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &a.stats
	s.Balance = l.opts.InitialBalance
	s.InitialBalance = l.opts.InitialBalance
	s.TotalTrades, s.SuccessfulTrades, s.FailedTrades = 0, 0, 0
	s.RealizedProfit, s.FeesPaid, s.WinRate = 0, 0, 0
	s.Positions = []models.Position{}
	s.History = []models.Trade{}
	s.UpdatedAt = l.now()
	a.day, a.dayCount = "", 0

	l.log.WithField("user", userID).Info("Ledger reset")

	snap := clone(s)
	l.persist(userID, nil, snap)
	return snap
}

func (l *Ledger) persist(userID string, t *models.Trade, snap *models.UserStats) {
	if l.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if t != nil {
		if err := l.opts.Store.RecordTrade(ctx, userID, t); err != nil {
			metrics.PersistErrors.WithLabelValues("trade").Inc()
			l.log.WithError(err).WithField("user", userID).Warn("Failed to record trade")
		}
	}
	if err := l.opts.Store.SaveAccount(ctx, snap); err != nil {
		metrics.PersistErrors.WithLabelValues("account").Inc()
		l.log.WithError(err).WithField("user", userID).Warn("Failed to save ledger state")
	}
}

// --- helpers ---

func findPosition(ps []models.Position, assetID string) int {
	for i := range ps {
		if ps[i].AssetID == assetID {
			return i
		}
	}
	return -1
}

func winRate(successful, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(successful) / float64(total) * 100
}

func clone(s *models.UserStats) *models.UserStats {
	c := *s
	c.Positions = append([]models.Position{}, s.Positions...)
	c.History = append([]models.Trade{}, s.History...)
	return &c
}
