package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kjannette/trahn-sim/internal/api"
	"github.com/kjannette/trahn-sim/internal/bot"
	"github.com/kjannette/trahn-sim/internal/config"
	"github.com/kjannette/trahn-sim/internal/db"
	"github.com/kjannette/trahn-sim/internal/ledger"
	"github.com/kjannette/trahn-sim/internal/market"
	"github.com/kjannette/trahn-sim/internal/notifications"
	"github.com/kjannette/trahn-sim/internal/randutil"
	"github.com/kjannette/trahn-sim/internal/repository"
	"github.com/kjannette/trahn-sim/internal/risk"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const banner = `
╔══════════════════════════════════════╗
║     TRAHN Trade Simulator v0.3       ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var configFile string

	cmd := &cobra.Command{
		Use:           "trahn-sim",
		Short:         "Simulated trading ledger driven by a synthetic swap stream",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWith(v, configFile)
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := cfg.NewLogger()
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (yaml, json, toml or env)")
	flags.Int("port", 3001, "REST API port")
	flags.Int64("seed", 0, "random seed, 0 for entropy")
	flags.String("log-level", "info", "log level")
	flags.String("database-url", "", "Postgres DSN, empty keeps ledgers in memory")
	bindFlags(v, cmd, map[string]string{
		"API_PORT":     "port",
		"SIM_SEED":     "seed",
		"LOG_LEVEL":    "log-level",
		"DATABASE_URL": "database-url",
	})

	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	fmt.Print(banner)
	cfg.Print(log)

	// Database (optional)
	var (
		store    ledger.Store
		tradeLog api.TradeLog
		pinger   api.Pinger
		counter  risk.TradeCounter
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.PoolConfig())
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer func() {
			pool.Close()
			log.Info("Database pool closed")
		}()
		if err := db.TestConnection(ctx, pool, log); err != nil {
			return err
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		repo := repository.NewLedgerRepo(pool)
		store, tradeLog, pinger, counter = repo, repo.Trades(), pool, repo.Trades()
	}

	l := ledger.New(cfg.LedgerOptions(store), log)
	if _, err := l.Restore(ctx); err != nil {
		return err
	}

	assets, err := cfg.ParseAssets()
	if err != nil {
		return err
	}
	catalog := market.NewCatalog(assets)

	src := randutil.NewEntropy()
	if cfg.Seed != 0 {
		src = randutil.New(cfg.Seed)
		log.WithField("seed", cfg.Seed).Info("Deterministic simulation")
	}

	gen, err := market.NewGenerator(cfg.GeneratorConfig(), catalog, src, log)
	if err != nil {
		return err
	}

	// The trade log remembers today's trades across restarts; the ledger
	// only counts since boot.
	if counter == nil {
		counter = l
	}
	guardian := risk.NewGuardian(cfg.Limits(), counter)
	webhook := notifications.NewSender(cfg.WebhookURL, cfg.BotName, cfg.WebhookRatePerMin, log)

	svc, err := bot.NewService(bot.Options{
		Ledger:    l,
		Generator: gen,
		Catalog:   catalog,
		Guardian:  guardian,
		Strategy:  cfg.StrategyConfig(),
		Marks:     cfg.MarkConfig(),
		Source:    src,
		Webhook:   webhook,
	}, log)
	if err != nil {
		return err
	}
	svc.Start()

	srv := api.NewServer(svc, api.Options{
		Port:       cfg.APIPort,
		APIKey:     cfg.APIKey,
		CORSOrigin: cfg.CORSAllowOrigin,
		DB:         pinger,
		TradeLog:   tradeLog,
	}, log)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	log.Info("All services started")

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully")
	case err = <-serveErr:
		log.WithError(err).Error("API server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.WithError(serr).Warn("API shutdown")
	}
	svc.Shutdown()
	log.Info("Shutdown complete")
	return err
}
