package ledger

import (
	"context"

	"github.com/kjannette/trahn-sim/internal/models"
)

// Stats returns a copy of the user's ledger, creating it if needed.
func (l *Ledger) Stats(userID string) *models.UserStats {
	a := l.account(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return clone(&a.stats)
}

// Balance reports the starting balance for users without an account.
func (l *Ledger) Balance(userID string) float64 {
	a, ok := l.lookup(userID)
	if !ok {
		return l.opts.InitialBalance
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats.Balance
}

func (l *Ledger) Positions(userID string) []models.Position {
	a, ok := l.lookup(userID)
	if !ok {
		return []models.Position{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Position{}, a.stats.Positions...)
}

func (l *Ledger) Position(userID, assetID string) (models.Position, bool) {
	a, ok := l.lookup(userID)
	if !ok {
		return models.Position{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := findPosition(a.stats.Positions, assetID)
	if idx < 0 {
		return models.Position{}, false
	}
	return a.stats.Positions[idx], true
}

func (l *Ledger) OpenPositions(userID string) int {
	a, ok := l.lookup(userID)
	if !ok {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.stats.Positions)
}

// History returns up to limit trades, most recent first. A non-positive
// limit returns the whole retained history.
func (l *Ledger) History(userID string, limit int) []models.Trade {
	a, ok := l.lookup(userID)
	if !ok {
		return []models.Trade{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	h := a.stats.History
	if limit > 0 && limit < len(h) {
		h = h[:limit]
	}
	return append([]models.Trade{}, h...)
}

// CountToday reports how many trades the user made on the current UTC day.
func (l *Ledger) CountToday(_ context.Context, userID string) (int, error) {
	a, ok := l.lookup(userID)
	if !ok {
		return 0, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.day != l.now().UTC().Format("2006-01-02") {
		return 0, nil
	}
	return a.dayCount, nil
}

// Dashboard adds portfolio valuation to the user's stats.
func (l *Ledger) Dashboard(userID string) *models.Dashboard {
	s := l.Stats(userID)
	d := &models.Dashboard{UserStats: *s, Currency: l.opts.Currency}

	value := s.Balance
	for _, p := range s.Positions {
		value += p.Value()
		d.UnrealizedProfit += p.UnrealizedProfit
	}
	d.PortfolioValue = value
	if s.InitialBalance > 0 {
		d.TotalReturnPercent = (value - s.InitialBalance) / s.InitialBalance * 100
	}
	return d
}
