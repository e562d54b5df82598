package strategy

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kjannette/trahn-sim/internal/costs"
	"github.com/kjannette/trahn-sim/internal/ethereum"
	"github.com/kjannette/trahn-sim/internal/models"
	"github.com/kjannette/trahn-sim/internal/randutil"
	"github.com/sirupsen/logrus"
)

// Sell closes percentage (0, 100] of the user's position in assetID at a
// simulated price move relative to entry. Sells always complete.
func (e *Evaluator) Sell(userID, assetID string, percentage float64) (*models.Trade, error) {
	if percentage <= 0 || percentage > 100 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidPercentage, percentage)
	}
	pos, ok := e.ledger.Position(userID, assetID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, assetID)
	}

	move := randutil.Uniform(e.src, e.cfg.SellMoveMin, e.cfg.SellMoveMax)
	price := pos.EntryPrice * (1 + move)

	qty := pos.Quantity
	if percentage < 100 {
		qty = pos.Quantity * percentage / 100
	}
	gross := qty * price

	gas := randutil.Uniform(e.src, e.cfg.SellGasMinGwei, e.cfg.SellGasMaxGwei)
	fee := costs.Estimate(costs.Quote{
		GasUnits:       e.cfg.GasUnits,
		GasPriceGwei:   gas,
		Notional:       gross,
		PlatformFeeBps: e.cfg.PlatformFeeBps,
	}, e.cfg.Rates).Total

	proceeds := gross - fee
	if proceeds < 0 {
		proceeds = 0
	}
	profit := (price - pos.EntryPrice) * qty

	now := e.now()
	trade := &models.Trade{
		ID:             uuid.NewString(),
		Timestamp:      now,
		Side:           models.SideSell,
		AssetID:        pos.AssetID,
		Symbol:         pos.Symbol,
		Quantity:       qty,
		Price:          price,
		GasUsed:        e.cfg.GasUnits,
		Fee:            fee,
		Total:          proceeds,
		RealizedProfit: &profit,
		Status:         models.StatusCompleted,
		TxHash:         ethereum.NewTxHash(now).Hex(),
	}

	if _, err := e.ledger.ApplyTrade(userID, trade); err != nil {
		return nil, fmt.Errorf("apply sell: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"user":    userID,
		"symbol":  pos.Symbol,
		"percent": percentage,
		"move":    fmt.Sprintf("%+.2f%%", move*100),
		"profit":  fmt.Sprintf("%.6f", profit),
	}).Info("Position sold")

	if e.hooks.OnTrade != nil {
		e.hooks.OnTrade(models.Notification{UserID: userID, Trade: trade, Reason: ReasonManualSell})
	}
	return trade, nil
}
