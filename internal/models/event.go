package models

import "time"

type EventKind string

const (
	KindSwap     EventKind = "swap"
	KindTransfer EventKind = "transfer"
	KindUnknown  EventKind = "unknown"
)

// MarketEvent is one synthetic opportunity. Value and SourceAmount are in
// native coin units when the source is the native coin; GasPrice is in gwei.
type MarketEvent struct {
	ID           string    `json:"id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Value        float64   `json:"value"`
	GasPrice     float64   `json:"gasPrice"`
	Timestamp    time.Time `json:"timestamp"`
	Kind         EventKind `json:"kind"`
	SourceSymbol string    `json:"sourceSymbol"`
	DestSymbol   string    `json:"destSymbol"`
	SourceAmount float64   `json:"sourceAmount"`
	DestAmount   float64   `json:"destAmount"`
	SourceAsset  string    `json:"sourceAsset,omitempty"`
	DestAsset    string    `json:"destAsset,omitempty"`
	Native       string    `json:"native"`
}

func (e *MarketEvent) IsSwap() bool { return e.Kind == KindSwap }

// IsBuy reports whether the native coin is being spent for another asset.
func (e *MarketEvent) IsBuy() bool { return e.SourceSymbol == e.Native }

// Asset is a tradeable token in the simulated catalog. Price is quoted in
// the ledger currency.
type Asset struct {
	ID     string  `json:"id"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// Notification is delivered once per accepted opportunity and once per
// manual sell.
type Notification struct {
	UserID string       `json:"userId"`
	Event  *MarketEvent `json:"event,omitempty"`
	Trade  *Trade       `json:"trade"`
	Reason string       `json:"reason"`
}

// Alert is raised when a user's run needs attention from the front end.
type Alert struct {
	UserID  string    `json:"userId"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}
