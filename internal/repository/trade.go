package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/trahn-sim/internal/models"
)

type TradeRepo struct {
	pool *pgxpool.Pool
}

func NewTradeRepo(pool *pgxpool.Pool) *TradeRepo {
	return &TradeRepo{pool: pool}
}

const tradeColumns = `id, timestamp, side, status, asset_id, symbol, quantity, price,
	gas_used, fee, total, realized_profit, slippage_percent, price_impact_bps, event_id, tx_hash`

// Record appends a trade to the log. Re-recording the same trade id is a
// no-op.
func (r *TradeRepo) Record(ctx context.Context, userID string, t *models.Trade) error {
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO ledger_trades
		 (id, user_id, timestamp, trading_day, side, status, asset_id, symbol, quantity, price,
		  gas_used, fee, total, realized_profit, slippage_percent, price_impact_bps, event_id, tx_hash)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		 ON CONFLICT (id) DO NOTHING`,
		t.ID, userID, ts, TradingDay(ts), string(t.Side), string(t.Status), t.AssetID, t.Symbol,
		t.Quantity, t.Price, int64(t.GasUsed), t.Fee, t.Total, t.RealizedProfit,
		t.SlippagePercent, t.PriceImpactBps, t.EventID, t.TxHash,
	)
	return err
}

// ByUser returns the user's most recent trades, newest first.
func (r *TradeRepo) ByUser(ctx context.Context, userID string, limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM ledger_trades
		 WHERE user_id = $1 ORDER BY timestamp DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

// ByDay returns the user's trades on a trading day in execution order.
func (r *TradeRepo) ByDay(ctx context.Context, userID, tradingDay string) ([]models.Trade, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM ledger_trades
		 WHERE user_id = $1 AND trading_day = $2 ORDER BY timestamp ASC`,
		userID, tradingDay,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

// Stats aggregates the user's trade log.
func (r *TradeRepo) Stats(ctx context.Context, userID string) (*models.TradeStats, error) {
	var s models.TradeStats
	err := r.pool.QueryRow(ctx,
		`SELECT
			COUNT(*),
			COUNT(CASE WHEN side = 'buy' AND status = 'completed' THEN 1 END),
			COUNT(CASE WHEN side = 'sell' AND status = 'completed' THEN 1 END),
			COUNT(CASE WHEN status = 'failed' THEN 1 END),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN total END), 0),
			COALESCE(SUM(fee), 0),
			MIN(timestamp),
			MAX(timestamp)
		 FROM ledger_trades WHERE user_id = $1`,
		userID,
	).Scan(
		&s.TotalTrades, &s.BuyCount, &s.SellCount, &s.FailedCount,
		&s.TotalVolume, &s.TotalFees, &s.FirstTrade, &s.LastTrade,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CountToday counts the user's trades on the current trading day.
func (r *TradeRepo) CountToday(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger_trades WHERE user_id = $1 AND trading_day = $2`,
		userID, TradingDayNow(),
	).Scan(&count)
	return count, err
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	scannable
	Next() bool
	Err() error
}

func scanTrade(row scannable) (*models.Trade, error) {
	var (
		t              models.Trade
		side, status   string
		gasUsed        int64
		realizedProfit *float64
	)
	err := row.Scan(
		&t.ID, &t.Timestamp, &side, &status, &t.AssetID, &t.Symbol, &t.Quantity, &t.Price,
		&gasUsed, &t.Fee, &t.Total, &realizedProfit, &t.SlippagePercent, &t.PriceImpactBps,
		&t.EventID, &t.TxHash,
	)
	if err != nil {
		return nil, err
	}
	t.Side = models.TradeSide(side)
	t.Status = models.TradeStatus(status)
	t.GasUsed = uint64(gasUsed)
	t.RealizedProfit = realizedProfit
	return &t, nil
}

func collectTrades(rows rowsIter) ([]models.Trade, error) {
	var out []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
