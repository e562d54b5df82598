package models

import "time"

type Position struct {
	AssetID          string    `json:"assetId"`
	Symbol           string    `json:"symbol"`
	Quantity         float64   `json:"quantity"`
	EntryPrice       float64   `json:"entryPrice"`
	LastPrice        float64   `json:"lastPrice"`
	HighestPrice     float64   `json:"highestPrice"`
	UnrealizedProfit float64   `json:"unrealizedProfit"`
	OpenedAt         time.Time `json:"openedAt"`
}

// Mark sets the last observed price and recomputes unrealized profit.
func (p *Position) Mark(price float64) {
	p.LastPrice = price
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
	p.UnrealizedProfit = (price - p.EntryPrice) * p.Quantity
}

// HoldTime is how long the position has been open at now.
func (p *Position) HoldTime(now time.Time) time.Duration {
	if p.OpenedAt.IsZero() {
		return 0
	}
	return now.Sub(p.OpenedAt)
}

// Value is the held quantity at the last observed price.
func (p *Position) Value() float64 {
	return p.LastPrice * p.Quantity
}

// ChangePercent is the move of the last price relative to entry.
func (p *Position) ChangePercent() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (p.LastPrice - p.EntryPrice) / p.EntryPrice * 100
}
