package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_accounts (
	user_id          TEXT PRIMARY KEY,
	balance          DOUBLE PRECISION NOT NULL,
	total_trades     INTEGER NOT NULL DEFAULT 0,
	realized_profit  DOUBLE PRECISION NOT NULL DEFAULT 0,
	snapshot         JSONB NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger_trades (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	timestamp        TIMESTAMPTZ NOT NULL,
	trading_day      DATE NOT NULL,
	side             TEXT NOT NULL,
	status           TEXT NOT NULL,
	asset_id         TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	quantity         DOUBLE PRECISION NOT NULL,
	price            DOUBLE PRECISION NOT NULL,
	gas_used         BIGINT NOT NULL DEFAULT 0,
	fee              DOUBLE PRECISION NOT NULL,
	total            DOUBLE PRECISION NOT NULL,
	realized_profit  DOUBLE PRECISION,
	slippage_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_impact_bps DOUBLE PRECISION NOT NULL DEFAULT 0,
	event_id         TEXT NOT NULL DEFAULT '',
	tx_hash          TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ledger_trades_user_ts ON ledger_trades (user_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_trades_user_day ON ledger_trades (user_id, trading_day);
`

// EnsureSchema creates the ledger tables when they do not exist.
func EnsureSchema(ctx context.Context, p *pgxpool.Pool) error {
	if _, err := p.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
