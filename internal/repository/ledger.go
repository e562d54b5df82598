package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/trahn-sim/internal/models"
)

// LedgerRepo persists ledger snapshots and the append-only trade log. It
// satisfies ledger.Store.
type LedgerRepo struct {
	pool   *pgxpool.Pool
	trades *TradeRepo
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool, trades: NewTradeRepo(pool)}
}

func (r *LedgerRepo) Trades() *TradeRepo { return r.trades }

// LoadAccounts returns every stored snapshot ordered by user id.
func (r *LedgerRepo) LoadAccounts(ctx context.Context) ([]models.UserStats, error) {
	rows, err := r.pool.Query(ctx, `SELECT snapshot FROM ledger_accounts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UserStats
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var s models.UserStats
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveAccount upserts the user's snapshot.
func (r *LedgerRepo) SaveAccount(ctx context.Context, s *models.UserStats) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO ledger_accounts (user_id, balance, total_trades, realized_profit, snapshot, updated_at)
		 VALUES ($1,$2,$3,$4,$5,NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
		   balance = EXCLUDED.balance,
		   total_trades = EXCLUDED.total_trades,
		   realized_profit = EXCLUDED.realized_profit,
		   snapshot = EXCLUDED.snapshot,
		   updated_at = NOW()`,
		s.UserID, s.Balance, s.TotalTrades, s.RealizedProfit, raw,
	)
	return err
}

func (r *LedgerRepo) RecordTrade(ctx context.Context, userID string, t *models.Trade) error {
	return r.trades.Record(ctx, userID, t)
}

// DeleteAccount removes the user's snapshot and trade log.
func (r *LedgerRepo) DeleteAccount(ctx context.Context, userID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM ledger_trades WHERE user_id = $1`, userID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM ledger_accounts WHERE user_id = $1`, userID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
