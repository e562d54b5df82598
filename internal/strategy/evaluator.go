package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kjannette/trahn-sim/internal/costs"
	"github.com/kjannette/trahn-sim/internal/ethereum"
	"github.com/kjannette/trahn-sim/internal/market"
	"github.com/kjannette/trahn-sim/internal/metrics"
	"github.com/kjannette/trahn-sim/internal/models"
	"github.com/kjannette/trahn-sim/internal/randutil"
	"github.com/kjannette/trahn-sim/internal/risk"
	"github.com/sirupsen/logrus"
)

var (
	ErrAlreadyActive       = errors.New("already active")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPositionNotFound    = errors.New("position not found")
	ErrInvalidPercentage   = errors.New("percentage must be in (0, 100]")
)

// Decision reasons.
const (
	ReasonNotSwap             = "not a swap"
	ReasonInsufficientBalance = "insufficient balance"
	ReasonNotBuy              = "not a buy"
	ReasonTooSmall            = "too small"
	ReasonUnknownAsset        = "unknown asset"
	ReasonRiskLimit           = "risk limit"
	ReasonFeeExceedsSize      = "fee exceeds size"
	ReasonLedgerRejected      = "ledger rejected"
	ReasonExecuted            = "executed"
	ReasonOutcompeted         = "outcompeted"
	ReasonManualSell          = "manual sell"
)

const (
	AlertStarved = "starved"
	AlertRisk    = "risk"
)

// Ledger is the subset of the ledger the evaluator reads and writes.
type Ledger interface {
	Balance(userID string) float64
	Position(userID, assetID string) (models.Position, bool)
	OpenPositions(userID string) int
	ApplyTrade(userID string, t *models.Trade) (*models.UserStats, error)
}

// Feed is the event stream users engage with.
type Feed interface {
	Subscribe(userID string, h market.Handler)
	Unsubscribe(userID string)
}

// Catalog resolves assets to their current reference price.
type Catalog interface {
	Asset(id string) (models.Asset, bool)
}

type Config struct {
	MinBalance      float64
	MinTradeSize    float64 // native units
	SuccessRate     float64
	SizeMinFraction float64
	SizeMaxFraction float64
	SlippageMin     float64
	SlippageMax     float64

	GasUnits       uint64
	GasOffsetGwei  float64
	SellGasMinGwei float64
	SellGasMaxGwei float64
	SellMoveMin    float64
	SellMoveMax    float64
	PlatformFeeBps float64
	PriceImpact    bool

	Rates costs.Rates
}

// DefaultConfig returns the stock simulation parameters.
func DefaultConfig() Config {
	return Config{
		MinBalance:      1,
		MinTradeSize:    0.5,
		SuccessRate:     0.7,
		SizeMinFraction: 0.1,
		SizeMaxFraction: 0.3,
		SlippageMin:     0.001,
		SlippageMax:     0.005,
		GasUnits:        21000,
		GasOffsetGwei:   0.1,
		SellGasMinGwei:  0.5,
		SellGasMaxGwei:  2.0,
		SellMoveMin:     -0.05,
		SellMoveMax:     0.15,
		Rates:           costs.Rates{NativeToReference: 3000, ReferenceToLedger: 0.92},
	}
}

// Hooks are invoked synchronously from the evaluating goroutine.
type Hooks struct {
	OnTrade func(n models.Notification)
	OnAlert func(a models.Alert)
}

type Decision struct {
	Accepted bool
	Reason   string
	Trade    *models.Trade
}

// Evaluator decides, per user, whether to act on market events and turns
// accepted events into trades on the ledger.
type Evaluator struct {
	cfg      Config
	ledger   Ledger
	feed     Feed
	catalog  Catalog
	guardian *risk.Guardian
	src      randutil.Source
	hooks    Hooks
	log      *logrus.Logger
	now      func() time.Time

	mu      sync.Mutex
	engaged map[string]bool
	starved map[string]bool
}

func NewEvaluator(cfg Config, ledger Ledger, feed Feed, catalog Catalog, guardian *risk.Guardian,
	src randutil.Source, hooks Hooks, log *logrus.Logger) *Evaluator {
	if src == nil {
		src = randutil.NewEntropy()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Evaluator{
		cfg:      cfg,
		ledger:   ledger,
		feed:     feed,
		catalog:  catalog,
		guardian: guardian,
		src:      src,
		hooks:    hooks,
		log:      log,
		now:      time.Now,
		engaged:  make(map[string]bool),
		starved:  make(map[string]bool),
	}
}

func (e *Evaluator) Config() Config { return e.cfg }

// --- engagement ---

// Engage subscribes userID to the event stream.
func (e *Evaluator) Engage(userID string) error {
	e.mu.Lock()
	if e.engaged[userID] {
		e.mu.Unlock()
		return ErrAlreadyActive
	}
	if bal := e.ledger.Balance(userID); bal < e.cfg.MinBalance {
		e.mu.Unlock()
		return fmt.Errorf("%w: %.4f below minimum %.4f", ErrInsufficientBalance, bal, e.cfg.MinBalance)
	}
	e.engaged[userID] = true
	delete(e.starved, userID)
	e.mu.Unlock()

	e.feed.Subscribe(userID, func(ev *models.MarketEvent) {
		if !e.Engaged(userID) {
			return
		}
		e.Evaluate(userID, ev)
	})

	// A Disengage that ran before Subscribe registered the handler found
	// nothing to unsubscribe.
	if !e.Engaged(userID) {
		e.feed.Unsubscribe(userID)
		return nil
	}
	e.log.WithField("user", userID).Info("User engaged")
	return nil
}

// Disengage always succeeds and stops the user's subscription.
func (e *Evaluator) Disengage(userID string) error {
	e.mu.Lock()
	was := e.engaged[userID]
	delete(e.engaged, userID)
	e.mu.Unlock()

	e.feed.Unsubscribe(userID)
	if was {
		e.log.WithField("user", userID).Info("User disengaged")
	}
	return nil
}

func (e *Evaluator) Engaged(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.engaged[userID]
}

// ClearAlerts forgets that a starvation alert was raised for userID.
func (e *Evaluator) ClearAlerts(userID string) {
	e.mu.Lock()
	delete(e.starved, userID)
	e.mu.Unlock()
}

// --- evaluation ---

// Evaluate runs one event through the acceptance rules and, when accepted,
// applies the resulting trade to the ledger.
func (e *Evaluator) Evaluate(userID string, ev *models.MarketEvent) Decision {
	d := e.evaluate(userID, ev)
	metrics.Decisions.WithLabelValues(d.Reason).Inc()

	entry := e.log.WithFields(logrus.Fields{
		"user":   userID,
		"event":  ethereum.ShortHex(ev.ID),
		"reason": d.Reason,
	})
	if !d.Accepted {
		entry.Debug("Opportunity rejected")
		if d.Reason == ReasonInsufficientBalance {
			e.raiseStarved(userID, e.ledger.Balance(userID))
		}
		return d
	}
	entry.WithFields(logrus.Fields{
		"status": d.Trade.Status,
		"symbol": d.Trade.Symbol,
		"fee":    fmt.Sprintf("%.4f", d.Trade.Fee),
	}).Info("Opportunity accepted")

	if e.hooks.OnTrade != nil {
		e.hooks.OnTrade(models.Notification{UserID: userID, Event: ev, Trade: d.Trade, Reason: d.Reason})
	}
	return d
}

func (e *Evaluator) evaluate(userID string, ev *models.MarketEvent) Decision {
	if !ev.IsSwap() {
		return Decision{Reason: ReasonNotSwap}
	}
	balance := e.ledger.Balance(userID)
	if balance < e.cfg.MinBalance {
		return Decision{Reason: ReasonInsufficientBalance}
	}
	if !ev.IsBuy() {
		return Decision{Reason: ReasonNotBuy}
	}
	if ev.Value < e.cfg.MinTradeSize {
		return Decision{Reason: ReasonTooSmall}
	}
	asset, ok := e.catalog.Asset(ev.DestAsset)
	if !ok || asset.Price <= 0 {
		return Decision{Reason: ReasonUnknownAsset}
	}

	favorable := randutil.Chance(e.src, e.cfg.SuccessRate)

	size := balance * randutil.Uniform(e.src, e.cfg.SizeMinFraction, e.cfg.SizeMaxFraction)
	if balance-size < e.cfg.MinBalance {
		size = balance - e.cfg.MinBalance
	}
	if size <= 0 {
		return Decision{Reason: ReasonInsufficientBalance}
	}

	if e.guardian != nil {
		_, held := e.ledger.Position(userID, asset.ID)
		err := e.guardian.PreTradeCheck(context.Background(), risk.Proposal{
			UserID:        userID,
			Size:          size,
			OpenPositions: e.ledger.OpenPositions(userID),
			AddsPosition:  !held,
		})
		if err != nil {
			e.alert(userID, AlertRisk, err.Error())
			return Decision{Reason: ReasonRiskLimit}
		}
	}

	fee := costs.Estimate(costs.Quote{
		GasUnits:       e.cfg.GasUnits,
		GasPriceGwei:   ev.GasPrice,
		TipGwei:        e.cfg.GasOffsetGwei,
		Notional:       size,
		PlatformFeeBps: e.cfg.PlatformFeeBps,
	}, e.cfg.Rates).Total
	if favorable && fee >= size {
		return Decision{Reason: ReasonFeeExceedsSize}
	}
	slippage := randutil.Uniform(e.src, e.cfg.SlippageMin, e.cfg.SlippageMax)

	price := asset.Price
	impact := 0.0
	if e.cfg.PriceImpact {
		impact = costs.PriceImpact(e.src, e.cfg.Rates.FromLedger(size))
		price *= 1 + impact/10_000
	}

	now := e.now()
	trade := &models.Trade{
		ID:              uuid.NewString(),
		Timestamp:       now,
		Side:            models.SideBuy,
		AssetID:         asset.ID,
		Symbol:          asset.Symbol,
		Price:           price,
		GasUsed:         e.cfg.GasUnits,
		Fee:             fee,
		SlippagePercent: slippage * 100,
		PriceImpactBps:  impact,
		EventID:         ev.ID,
		TxHash:          ethereum.NewTxHash(now).Hex(),
	}

	reason := ReasonExecuted
	if favorable {
		trade.Status = models.StatusCompleted
		trade.Quantity = costs.ApplySlippage(size-fee, slippage) / price
		trade.Total = size
	} else {
		reason = ReasonOutcompeted
		trade.Status = models.StatusFailed
		trade.Quantity = 0
		trade.Total = fee
	}

	stats, err := e.ledger.ApplyTrade(userID, trade)
	if err != nil {
		e.log.WithError(err).WithField("user", userID).Warn("Ledger rejected simulated trade")
		return Decision{Reason: ReasonLedgerRejected}
	}
	if stats.Balance < e.cfg.MinBalance {
		e.raiseStarved(userID, stats.Balance)
	}
	return Decision{Accepted: true, Reason: reason, Trade: trade}
}

// raiseStarved signals once per engagement that the user can no longer
// afford trades. Disengaging is left to the caller.
func (e *Evaluator) raiseStarved(userID string, balance float64) {
	e.mu.Lock()
	if !e.engaged[userID] || e.starved[userID] {
		e.mu.Unlock()
		return
	}
	e.starved[userID] = true
	e.mu.Unlock()

	e.alert(userID, AlertStarved, fmt.Sprintf("balance %.4f below minimum %.4f", balance, e.cfg.MinBalance))
}

func (e *Evaluator) alert(userID, kind, msg string) {
	e.log.WithFields(logrus.Fields{"user": userID, "alert": kind}).Warn(msg)
	if e.hooks.OnAlert != nil {
		e.hooks.OnAlert(models.Alert{UserID: userID, Kind: kind, Message: msg, At: e.now()})
	}
}
