package models

import "time"

type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

type TradeStatus string

const (
	StatusPending   TradeStatus = "pending"
	StatusCompleted TradeStatus = "completed"
	StatusFailed    TradeStatus = "failed"
)

// Trade is the immutable record of one simulated action. Fee and Total are
// in the ledger currency; a failed trade carries Quantity 0 and Total == Fee.
type Trade struct {
	ID              string      `json:"id"`
	Timestamp       time.Time   `json:"timestamp"`
	Side            TradeSide   `json:"side"`
	AssetID         string      `json:"assetId"`
	Symbol          string      `json:"symbol"`
	Quantity        float64     `json:"quantity"`
	Price           float64     `json:"price"`
	GasUsed         uint64      `json:"gasUsed"`
	Fee             float64     `json:"fee"`
	Total           float64     `json:"total"`
	RealizedProfit  *float64    `json:"realizedProfit,omitempty"`
	Status          TradeStatus `json:"status"`
	SlippagePercent float64     `json:"slippagePercent"`
	PriceImpactBps  float64     `json:"priceImpactBps"`
	EventID         string      `json:"eventId,omitempty"`
	TxHash          string      `json:"txHash,omitempty"`
}

func (t *Trade) Failed() bool    { return t.Status == StatusFailed }
func (t *Trade) Completed() bool { return t.Status == StatusCompleted }

// Profit returns the realized profit, or 0 when none was booked.
func (t *Trade) Profit() float64 {
	if t.RealizedProfit == nil {
		return 0
	}
	return *t.RealizedProfit
}
