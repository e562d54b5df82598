package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// PoolConfig sizes the pool backing ledger snapshots and the trade log.
// Zero fields keep the defaults below.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdle     time.Duration
	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        10,
		MinConns:        1,
		MaxConnIdle:     30 * time.Second,
		MaxConnLifetime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	d := DefaultPoolConfig()
	if c.MaxConns <= 0 {
		c.MaxConns = d.MaxConns
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		c.MinConns = d.MinConns
	}
	if c.MaxConnIdle <= 0 {
		c.MaxConnIdle = d.MaxConnIdle
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = d.MaxConnLifetime
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	return c
}

// ParsePool applies pc on top of the DSN's own settings.
func ParsePool(dsn string, pc PoolConfig) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pc = pc.withDefaults()
	cfg.MaxConns = pc.MaxConns
	cfg.MinConns = pc.MinConns
	cfg.MaxConnIdleTime = pc.MaxConnIdle
	cfg.MaxConnLifetime = pc.MaxConnLifetime
	cfg.ConnConfig.ConnectTimeout = pc.ConnectTimeout
	return cfg, nil
}

// Connect opens the pool and pings it within the connect timeout.
func Connect(ctx context.Context, dsn string, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := ParsePool(dsn, pc)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnConfig.ConnectTimeout)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return p, nil
}

// TestConnection logs the server clock and pool size.
func TestConnection(ctx context.Context, p *pgxpool.Pool, log *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var now time.Time
	if err := p.QueryRow(ctx, "SELECT NOW()").Scan(&now); err != nil {
		return fmt.Errorf("test query: %w", err)
	}
	log.WithFields(logrus.Fields{
		"server_time": now.Format(time.RFC3339),
		"max_conns":   p.Config().MaxConns,
	}).Info("Ledger database ready")
	return nil
}
