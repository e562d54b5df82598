package repository

import "time"

// TradingDay returns the UTC calendar day (YYYY-MM-DD) for a timestamp. It
// matches the day boundary the ledger uses for its daily trade counter.
func TradingDay(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

// TradingDayNow returns the trading day for the current moment.
func TradingDayNow() string {
	return TradingDay(time.Now())
}
