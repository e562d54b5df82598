package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kjannette/trahn-sim/internal/models"
)

var (
	ErrTradeBlocked   = errors.New("trade blocked")
	ErrBreakerTripped = errors.New("circuit breaker tripped")
)

// TradeCounter abstracts the per-user daily trade count so Guardian can be
// tested without a ledger.
type TradeCounter interface {
	CountToday(ctx context.Context, userID string) (int, error)
}

// Limits holds the risk thresholds from config.
// A zero value for any field means that check is disabled.
type Limits struct {
	MaxDailyTrades    int
	MaxOpenPositions  int
	MaxTradeSize      float64
	StopLossPercent   float64
	TakeProfitPercent float64

	// Position-only breakers.
	TrailingStopPercent float64
	MaxHoldTime         time.Duration
}

func (l Limits) Enabled() bool {
	return l != Limits{}
}

// Proposal describes a buy the evaluator is about to simulate.
type Proposal struct {
	UserID        string
	Size          float64
	OpenPositions int
	AddsPosition  bool
}

type Guardian struct {
	limits  Limits
	counter TradeCounter
}

func NewGuardian(limits Limits, counter TradeCounter) *Guardian {
	return &Guardian{limits: limits, counter: counter}
}

func (g *Guardian) Limits() Limits { return g.limits }

// PreTradeCheck validates per-trade constraints before execution.
// Returns nil if the trade is allowed, a descriptive error if blocked.
func (g *Guardian) PreTradeCheck(ctx context.Context, p Proposal) error {
	if g.limits.MaxTradeSize > 0 && p.Size > g.limits.MaxTradeSize {
		return fmt.Errorf("%w: size %.4f exceeds max %.4f",
			ErrTradeBlocked, p.Size, g.limits.MaxTradeSize)
	}

	if g.limits.MaxOpenPositions > 0 && p.AddsPosition && p.OpenPositions >= g.limits.MaxOpenPositions {
		return fmt.Errorf("%w: %d open positions (max %d)",
			ErrTradeBlocked, p.OpenPositions, g.limits.MaxOpenPositions)
	}

	if g.limits.MaxDailyTrades > 0 && g.counter != nil {
		count, err := g.counter.CountToday(ctx, p.UserID)
		if err != nil {
			return fmt.Errorf("%w: unable to verify daily trade count: %v", ErrTradeBlocked, err)
		}
		if count >= g.limits.MaxDailyTrades {
			return fmt.Errorf("%w: daily limit of %d trades reached (%d today)",
				ErrTradeBlocked, g.limits.MaxDailyTrades, count)
		}
	}

	return nil
}

// PortfolioCheck evaluates portfolio-level circuit breakers.
// pnlPercent is the total return as a percentage (e.g. -8.5 means down 8.5%).
func (g *Guardian) PortfolioCheck(pnlPercent float64) error {
	if g.limits.StopLossPercent > 0 && pnlPercent <= -g.limits.StopLossPercent {
		return fmt.Errorf("%w: STOP-LOSS, portfolio down %.2f%% (threshold: -%.2f%%)",
			ErrBreakerTripped, pnlPercent, g.limits.StopLossPercent)
	}

	if g.limits.TakeProfitPercent > 0 && pnlPercent >= g.limits.TakeProfitPercent {
		return fmt.Errorf("%w: TAKE-PROFIT, portfolio up %.2f%% (threshold: +%.2f%%)",
			ErrBreakerTripped, pnlPercent, g.limits.TakeProfitPercent)
	}

	return nil
}

// PositionCheck applies the portfolio thresholds to a single open position,
// then the max hold time and the trailing stop. The trailing stop arms once
// the position has traded above entry and trips when the last price falls
// TrailingStopPercent below the highest mark.
func (g *Guardian) PositionCheck(p models.Position, now time.Time) error {
	if g.limits.MaxHoldTime > 0 && p.HoldTime(now) >= g.limits.MaxHoldTime {
		return fmt.Errorf("%w: %s MAX-HOLD, held %s (limit %s)",
			ErrBreakerTripped, p.Symbol, p.HoldTime(now).Round(time.Second), g.limits.MaxHoldTime)
	}

	if err := g.PortfolioCheck(p.ChangePercent()); err != nil {
		return fmt.Errorf("%s: %w", p.Symbol, err)
	}

	if g.limits.TrailingStopPercent > 0 && p.HighestPrice > p.EntryPrice {
		stop := p.HighestPrice * (1 - g.limits.TrailingStopPercent/100)
		if p.LastPrice <= stop {
			return fmt.Errorf("%w: %s TRAILING-STOP, %.6g fell below %.6g (high %.6g)",
				ErrBreakerTripped, p.Symbol, p.LastPrice, stop, p.HighestPrice)
		}
	}

	return nil
}
