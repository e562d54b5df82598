package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kjannette/trahn-sim/internal/costs"
	"github.com/kjannette/trahn-sim/internal/db"
	"github.com/kjannette/trahn-sim/internal/ledger"
	"github.com/kjannette/trahn-sim/internal/market"
	"github.com/kjannette/trahn-sim/internal/models"
	"github.com/kjannette/trahn-sim/internal/risk"
	"github.com/kjannette/trahn-sim/internal/scheduler"
	"github.com/kjannette/trahn-sim/internal/strategy"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	// Process
	LogLevel        string
	LogFormat       string
	APIPort         int
	APIKey          string
	CORSAllowOrigin string
	DatabaseURL     string
	Seed            int64

	// Postgres pool
	DBMaxConns        int32
	DBMinConns        int32
	DBMaxConnIdle     time.Duration
	DBMaxConnLifetime time.Duration
	DBConnectTimeout  time.Duration

	// Notifications
	WebhookURL        string
	BotName           string
	WebhookRatePerMin int

	// Ledger
	InitialBalance float64
	HistoryLimit   int
	MinBalance     float64
	Currency       string

	// Conversion
	NativeSymbol  string
	NativeUSDRate float64
	USDLedgerRate float64

	// Gas
	GasUnits       uint64
	GasMinGwei     float64
	GasMaxGwei     float64
	GasOffsetGwei  float64
	SellGasMinGwei float64
	SellGasMaxGwei float64

	// Event stream
	EventMinValue float64
	EventMaxValue float64
	EventMinDelay time.Duration
	EventMaxDelay time.Duration
	SwapRatio     float64
	UnknownRatio  float64
	Assets        string

	// Evaluation
	MinTradeSize    float64
	SuccessRate     float64
	SizeMinFraction float64
	SizeMaxFraction float64
	SlippageMin     float64
	SlippageMax     float64
	SellMoveMin     float64
	SellMoveMax     float64
	PlatformFeeBps  float64
	PriceImpact     bool

	// Marks
	MarkInterval     time.Duration
	MarkDriftPercent float64

	// Risk Management (0 disables)
	MaxDailyTrades      int
	MaxOpenPositions    int
	MaxTradeSize        float64
	StopLossPercent     float64
	TakeProfitPercent   float64
	TrailingStopPercent float64
	MaxHoldTime         time.Duration
}

const DefaultAssets = "PEPE:0.00001,SHIB:0.000012,UNI:7.5,LINK:14,ARB:0.9"

// NewViper loads .env into the environment and returns a viper instance
// with every default registered and environment lookup enabled.
func NewViper() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("API_PORT", 3001)
	v.SetDefault("API_KEY", "")
	v.SetDefault("CORS_ALLOW_ORIGIN", "*")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SIM_SEED", 0)

	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DB_MAX_CONN_IDLE", "30s")
	v.SetDefault("DB_MAX_CONN_LIFETIME", "5m")
	v.SetDefault("DB_CONNECT_TIMEOUT", "5s")

	v.SetDefault("WEBHOOK_URL", "")
	v.SetDefault("BOT_NAME", "trahn-sim")
	v.SetDefault("WEBHOOK_RATE_PER_MIN", 30)

	v.SetDefault("INITIAL_BALANCE", 20)
	v.SetDefault("HISTORY_LIMIT", 50)
	v.SetDefault("MIN_BALANCE", 1)
	v.SetDefault("LEDGER_CURRENCY", "EUR")

	v.SetDefault("NATIVE_SYMBOL", "ETH")
	v.SetDefault("NATIVE_USD_RATE", 3000)
	v.SetDefault("USD_LEDGER_RATE", 0.92)

	v.SetDefault("GAS_UNITS", 21000)
	v.SetDefault("GAS_MIN_GWEI", 0.5)
	v.SetDefault("GAS_MAX_GWEI", 3.0)
	v.SetDefault("GAS_OFFSET_GWEI", 0.1)
	v.SetDefault("SELL_GAS_MIN_GWEI", 0.5)
	v.SetDefault("SELL_GAS_MAX_GWEI", 2.0)

	v.SetDefault("EVENT_MIN_VALUE", 0.05)
	v.SetDefault("EVENT_MAX_VALUE", 5)
	v.SetDefault("EVENT_MIN_DELAY", "5s")
	v.SetDefault("EVENT_MAX_DELAY", "15s")
	v.SetDefault("SWAP_RATIO", 0.9)
	v.SetDefault("UNKNOWN_RATIO", 0.2)
	v.SetDefault("ASSETS", DefaultAssets)

	v.SetDefault("MIN_TRADE_SIZE", 0.5)
	v.SetDefault("SUCCESS_RATE", 0.7)
	v.SetDefault("SIZE_MIN_FRACTION", 0.1)
	v.SetDefault("SIZE_MAX_FRACTION", 0.3)
	v.SetDefault("SLIPPAGE_MIN", 0.001)
	v.SetDefault("SLIPPAGE_MAX", 0.005)
	v.SetDefault("SELL_MOVE_MIN", -0.05)
	v.SetDefault("SELL_MOVE_MAX", 0.15)
	v.SetDefault("PLATFORM_FEE_BPS", 0)
	v.SetDefault("PRICE_IMPACT", false)

	v.SetDefault("MARK_INTERVAL", "30s")
	v.SetDefault("MARK_DRIFT_PERCENT", 2)

	v.SetDefault("MAX_DAILY_TRADES", 0)
	v.SetDefault("MAX_OPEN_POSITIONS", 0)
	v.SetDefault("MAX_TRADE_SIZE", 0)
	v.SetDefault("STOP_LOSS_PERCENT", 0)
	v.SetDefault("TAKE_PROFIT_PERCENT", 0)
	v.SetDefault("TRAILING_STOP_PERCENT", 0)
	v.SetDefault("MAX_HOLD_TIME", "0s")

	return v
}

// Load reads configuration from the environment and .env.
func Load() (*Config, error) {
	return LoadWith(NewViper(), "")
}

// LoadWith reads file (any format viper understands) on top of v's
// defaults when file is non-empty. Environment values still win.
func LoadWith(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	return &Config{
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       v.GetString("LOG_FORMAT"),
		APIPort:         v.GetInt("API_PORT"),
		APIKey:          v.GetString("API_KEY"),
		CORSAllowOrigin: v.GetString("CORS_ALLOW_ORIGIN"),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		Seed:            v.GetInt64("SIM_SEED"),

		DBMaxConns:        v.GetInt32("DB_MAX_CONNS"),
		DBMinConns:        v.GetInt32("DB_MIN_CONNS"),
		DBMaxConnIdle:     v.GetDuration("DB_MAX_CONN_IDLE"),
		DBMaxConnLifetime: v.GetDuration("DB_MAX_CONN_LIFETIME"),
		DBConnectTimeout:  v.GetDuration("DB_CONNECT_TIMEOUT"),

		WebhookURL:        v.GetString("WEBHOOK_URL"),
		BotName:           v.GetString("BOT_NAME"),
		WebhookRatePerMin: v.GetInt("WEBHOOK_RATE_PER_MIN"),

		InitialBalance: v.GetFloat64("INITIAL_BALANCE"),
		HistoryLimit:   v.GetInt("HISTORY_LIMIT"),
		MinBalance:     v.GetFloat64("MIN_BALANCE"),
		Currency:       v.GetString("LEDGER_CURRENCY"),

		NativeSymbol:  v.GetString("NATIVE_SYMBOL"),
		NativeUSDRate: v.GetFloat64("NATIVE_USD_RATE"),
		USDLedgerRate: v.GetFloat64("USD_LEDGER_RATE"),

		GasUnits:       v.GetUint64("GAS_UNITS"),
		GasMinGwei:     v.GetFloat64("GAS_MIN_GWEI"),
		GasMaxGwei:     v.GetFloat64("GAS_MAX_GWEI"),
		GasOffsetGwei:  v.GetFloat64("GAS_OFFSET_GWEI"),
		SellGasMinGwei: v.GetFloat64("SELL_GAS_MIN_GWEI"),
		SellGasMaxGwei: v.GetFloat64("SELL_GAS_MAX_GWEI"),

		EventMinValue: v.GetFloat64("EVENT_MIN_VALUE"),
		EventMaxValue: v.GetFloat64("EVENT_MAX_VALUE"),
		EventMinDelay: v.GetDuration("EVENT_MIN_DELAY"),
		EventMaxDelay: v.GetDuration("EVENT_MAX_DELAY"),
		SwapRatio:     v.GetFloat64("SWAP_RATIO"),
		UnknownRatio:  v.GetFloat64("UNKNOWN_RATIO"),
		Assets:        v.GetString("ASSETS"),

		MinTradeSize:    v.GetFloat64("MIN_TRADE_SIZE"),
		SuccessRate:     v.GetFloat64("SUCCESS_RATE"),
		SizeMinFraction: v.GetFloat64("SIZE_MIN_FRACTION"),
		SizeMaxFraction: v.GetFloat64("SIZE_MAX_FRACTION"),
		SlippageMin:     v.GetFloat64("SLIPPAGE_MIN"),
		SlippageMax:     v.GetFloat64("SLIPPAGE_MAX"),
		SellMoveMin:     v.GetFloat64("SELL_MOVE_MIN"),
		SellMoveMax:     v.GetFloat64("SELL_MOVE_MAX"),
		PlatformFeeBps:  v.GetFloat64("PLATFORM_FEE_BPS"),
		PriceImpact:     v.GetBool("PRICE_IMPACT"),

		MarkInterval:     v.GetDuration("MARK_INTERVAL"),
		MarkDriftPercent: v.GetFloat64("MARK_DRIFT_PERCENT"),

		MaxDailyTrades:    v.GetInt("MAX_DAILY_TRADES"),
		MaxOpenPositions:  v.GetInt("MAX_OPEN_POSITIONS"),
		MaxTradeSize:      v.GetFloat64("MAX_TRADE_SIZE"),
		StopLossPercent:   v.GetFloat64("STOP_LOSS_PERCENT"),
		TakeProfitPercent:   v.GetFloat64("TAKE_PROFIT_PERCENT"),
		TrailingStopPercent: v.GetFloat64("TRAILING_STOP_PERCENT"),
		MaxHoldTime:         v.GetDuration("MAX_HOLD_TIME"),
	}, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	_, err := logrus.ParseLevel(c.LogLevel)
	check(err == nil, "LOG_LEVEL %q is not a logrus level", c.LogLevel)
	check(c.LogFormat == "text" || c.LogFormat == "json", "LOG_FORMAT must be text or json")
	check(c.APIPort > 0 && c.APIPort < 65536, "API_PORT %d out of range", c.APIPort)

	check(c.InitialBalance > 0, "INITIAL_BALANCE must be positive")
	check(c.HistoryLimit > 0, "HISTORY_LIMIT must be positive")
	check(c.MinBalance >= 0, "MIN_BALANCE must not be negative")
	check(c.Currency != "", "LEDGER_CURRENCY is required")

	check(c.NativeSymbol != "", "NATIVE_SYMBOL is required")
	check(c.NativeUSDRate > 0 && c.USDLedgerRate > 0, "NATIVE_USD_RATE and USD_LEDGER_RATE must be positive")

	check(c.GasUnits > 0, "GAS_UNITS must be positive")
	check(c.GasMinGwei > 0 && c.GasMinGwei <= c.GasMaxGwei, "GAS_MIN_GWEI must be positive and <= GAS_MAX_GWEI")
	check(c.GasOffsetGwei >= 0, "GAS_OFFSET_GWEI must not be negative")
	check(c.SellGasMinGwei > 0 && c.SellGasMinGwei <= c.SellGasMaxGwei, "SELL_GAS_MIN_GWEI must be positive and <= SELL_GAS_MAX_GWEI")

	check(c.EventMinValue > 0 && c.EventMinValue <= c.EventMaxValue, "EVENT_MIN_VALUE must be positive and <= EVENT_MAX_VALUE")
	check(c.EventMinDelay > 0 && c.EventMinDelay <= c.EventMaxDelay, "EVENT_MIN_DELAY must be positive and <= EVENT_MAX_DELAY")
	check(c.SwapRatio > 0 && c.SwapRatio <= 1, "SWAP_RATIO must be in (0, 1]")
	check(c.UnknownRatio >= 0 && c.UnknownRatio <= 1, "UNKNOWN_RATIO must be in [0, 1]")
	if assets, err := market.ParseAssets(c.Assets); err != nil {
		errs = append(errs, fmt.Errorf("ASSETS: %w", err))
	} else if len(assets) == 0 {
		errs = append(errs, errors.New("ASSETS must list at least one SYMBOL:price"))
	}

	check(c.MinTradeSize >= 0, "MIN_TRADE_SIZE must not be negative")
	check(c.SuccessRate >= 0 && c.SuccessRate <= 1, "SUCCESS_RATE must be in [0, 1]")
	check(c.SizeMinFraction > 0 && c.SizeMinFraction <= c.SizeMaxFraction && c.SizeMaxFraction < 1,
		"SIZE_MIN_FRACTION must be positive, <= SIZE_MAX_FRACTION, and SIZE_MAX_FRACTION < 1")
	check(c.SlippageMin >= 0 && c.SlippageMin <= c.SlippageMax && c.SlippageMax < 1,
		"SLIPPAGE_MIN must be in [0, SLIPPAGE_MAX] and SLIPPAGE_MAX < 1")
	check(c.SellMoveMin > -1 && c.SellMoveMin <= c.SellMoveMax, "SELL_MOVE_MIN must be > -1 and <= SELL_MOVE_MAX")
	check(c.PlatformFeeBps >= 0, "PLATFORM_FEE_BPS must not be negative")

	check(c.MarkInterval > 0, "MARK_INTERVAL must be positive")
	check(c.MarkDriftPercent >= 0 && c.MarkDriftPercent < 100, "MARK_DRIFT_PERCENT must be in [0, 100)")

	check(c.MaxDailyTrades >= 0 && c.MaxOpenPositions >= 0 && c.MaxTradeSize >= 0 &&
		c.StopLossPercent >= 0 && c.TakeProfitPercent >= 0 && c.MaxHoldTime >= 0, "risk limits must not be negative")
	check(c.TrailingStopPercent >= 0 && c.TrailingStopPercent < 100, "TRAILING_STOP_PERCENT must be in [0, 100)")

	if c.DatabaseURL != "" {
		check(c.DBMaxConns > 0 && c.DBMinConns >= 0 && c.DBMinConns <= c.DBMaxConns,
			"DB_MIN_CONNS must be in [0, DB_MAX_CONNS] and DB_MAX_CONNS positive")
		check(c.DBConnectTimeout > 0, "DB_CONNECT_TIMEOUT must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// Warnings lists settings that are valid but probably unintended.
func (c *Config) Warnings() []string {
	var w []string
	if c.APIKey == "" {
		w = append(w, "API_KEY not set, REST API has no authentication")
	}
	if c.DatabaseURL == "" {
		w = append(w, "DATABASE_URL not set, ledgers are kept in memory only")
	}
	if !c.Limits().Enabled() {
		w = append(w, "no risk limits set, no breaker alerts")
	}
	if c.MinTradeSize > c.EventMaxValue {
		w = append(w, "MIN_TRADE_SIZE exceeds EVENT_MAX_VALUE, no event will be accepted")
	}
	return w
}

func (c *Config) Print(log *logrus.Logger) {
	log.WithFields(logrus.Fields{
		"currency":  c.Currency,
		"balance":   c.InitialBalance,
		"native":    c.NativeSymbol,
		"rate":      fmt.Sprintf("%s/USD %.2f, USD/%s %.4f", c.NativeSymbol, c.NativeUSDRate, c.Currency, c.USDLedgerRate),
		"assets":    c.Assets,
		"persisted": c.DatabaseURL != "",
	}).Info("Simulation configuration")
	log.WithFields(logrus.Fields{
		"delay":    fmt.Sprintf("%s-%s", c.EventMinDelay, c.EventMaxDelay),
		"value":    fmt.Sprintf("%.2f-%.2f %s", c.EventMinValue, c.EventMaxValue, c.NativeSymbol),
		"gas":      fmt.Sprintf("%.2f-%.2f gwei", c.GasMinGwei, c.GasMaxGwei),
		"swaps":    c.SwapRatio,
		"success":  c.SuccessRate,
		"minTrade": c.MinTradeSize,
	}).Info("Event stream")
	if limits := c.Limits(); limits.Enabled() {
		log.WithField("limits", fmt.Sprintf("%+v", limits)).Info("Risk limits active")
	}
	for _, w := range c.Warnings() {
		log.Warn(w)
	}
}

// --- component settings ---

func (c *Config) Rates() costs.Rates {
	return costs.Rates{NativeToReference: c.NativeUSDRate, ReferenceToLedger: c.USDLedgerRate}
}

func (c *Config) ParseAssets() ([]models.Asset, error) {
	return market.ParseAssets(c.Assets)
}

func (c *Config) LedgerOptions(store ledger.Store) ledger.Options {
	return ledger.Options{
		InitialBalance: c.InitialBalance,
		HistoryLimit:   c.HistoryLimit,
		Currency:       c.Currency,
		Store:          store,
	}
}

func (c *Config) GeneratorConfig() market.Config {
	return market.Config{
		MinDelay:     c.EventMinDelay,
		MaxDelay:     c.EventMaxDelay,
		MinValue:     c.EventMinValue,
		MaxValue:     c.EventMaxValue,
		MinGas:       c.GasMinGwei,
		MaxGas:       c.GasMaxGwei,
		SwapRatio:    c.SwapRatio,
		UnknownRatio: c.UnknownRatio,
		Native:       c.NativeSymbol,
		NativePrice:  c.Rates().NativePrice(),
	}
}

func (c *Config) StrategyConfig() strategy.Config {
	return strategy.Config{
		MinBalance:      c.MinBalance,
		MinTradeSize:    c.MinTradeSize,
		SuccessRate:     c.SuccessRate,
		SizeMinFraction: c.SizeMinFraction,
		SizeMaxFraction: c.SizeMaxFraction,
		SlippageMin:     c.SlippageMin,
		SlippageMax:     c.SlippageMax,
		GasUnits:        c.GasUnits,
		GasOffsetGwei:   c.GasOffsetGwei,
		SellGasMinGwei:  c.SellGasMinGwei,
		SellGasMaxGwei:  c.SellGasMaxGwei,
		SellMoveMin:     c.SellMoveMin,
		SellMoveMax:     c.SellMoveMax,
		PlatformFeeBps:  c.PlatformFeeBps,
		PriceImpact:     c.PriceImpact,
		Rates:           c.Rates(),
	}
}

func (c *Config) Limits() risk.Limits {
	return risk.Limits{
		MaxDailyTrades:      c.MaxDailyTrades,
		MaxOpenPositions:    c.MaxOpenPositions,
		MaxTradeSize:        c.MaxTradeSize,
		StopLossPercent:     c.StopLossPercent,
		TakeProfitPercent:   c.TakeProfitPercent,
		TrailingStopPercent: c.TrailingStopPercent,
		MaxHoldTime:         c.MaxHoldTime,
	}
}

func (c *Config) PoolConfig() db.PoolConfig {
	return db.PoolConfig{
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnIdle:     c.DBMaxConnIdle,
		MaxConnLifetime: c.DBMaxConnLifetime,
		ConnectTimeout:  c.DBConnectTimeout,
	}
}

func (c *Config) MarkConfig() scheduler.MarkConfig {
	return scheduler.MarkConfig{
		Interval:     c.MarkInterval,
		DriftPercent: c.MarkDriftPercent,
	}
}
