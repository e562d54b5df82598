package models

import "time"

// UserStats is one user's ledger: balance, counters, open positions and
// the bounded most-recent-first trade history.
type UserStats struct {
	UserID           string     `json:"userId"`
	Balance          float64    `json:"balance"`
	InitialBalance   float64    `json:"initialBalance"`
	TotalTrades      int        `json:"totalTrades"`
	SuccessfulTrades int        `json:"successfulTrades"`
	FailedTrades     int        `json:"failedTrades"`
	RealizedProfit   float64    `json:"realizedProfit"`
	FeesPaid         float64    `json:"feesPaid"`
	WinRate          float64    `json:"winRate"`
	Positions        []Position `json:"positions"`
	History          []Trade    `json:"history"`
	Engaged          bool       `json:"engaged"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Dashboard is the read projection rendered for a user.
type Dashboard struct {
	UserStats
	Currency           string  `json:"currency"`
	PortfolioValue     float64 `json:"portfolioValue"`
	UnrealizedProfit   float64 `json:"unrealizedProfit"`
	TotalReturnPercent float64 `json:"totalReturnPercent"`
}

// TradeStats aggregates the persisted trade log for one user.
type TradeStats struct {
	TotalTrades int        `json:"totalTrades"`
	BuyCount    int        `json:"buyCount"`
	SellCount   int        `json:"sellCount"`
	FailedCount int        `json:"failedCount"`
	TotalVolume float64    `json:"totalVolume"`
	TotalFees   float64    `json:"totalFees"`
	FirstTrade  *time.Time `json:"firstTrade"`
	LastTrade   *time.Time `json:"lastTrade"`
}

// MarketStatus describes the synthetic event stream.
type MarketStatus struct {
	Running     bool     `json:"running"`
	Subscribers []string `json:"subscribers"`
	Emitted     uint64   `json:"emitted"`
	Assets      []Asset  `json:"assets"`
	Native      string   `json:"native"`
	Currency    string   `json:"currency"`
}
