// Package config defines the top-level configuration for spreadbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SPREADBOT_* environment variables.
type Config struct {
	Mode         string                 `toml:"mode"`
	LogLevel     string                 `toml:"log_level"`
	Trading      TradingConfig          `toml:"trading"`
	Cost         CostConfig             `toml:"cost"`
	Risk         RiskConfig             `toml:"risk"`
	Regime       RegimeConfig           `toml:"regime"`
	Macro        MacroConfig            `toml:"macro"`
	Accumulation AccumulationConfig     `toml:"accumulation"`
	Execution    ExecutionConfig        `toml:"execution"`
	Breaker      BreakerConfig          `toml:"breaker"`
	Venues       map[string]VenueConfig `toml:"venues"`
	Redis        RedisConfig            `toml:"redis"`
	Postgres     PostgresConfig         `toml:"postgres"`
	S3           S3Config               `toml:"s3"`
	Archive      ArchiveConfig          `toml:"archive"`
	Notify       NotifyConfig           `toml:"notify"`
	Server       ServerConfig           `toml:"server"`
	Metrics      MetricsConfig          `toml:"metrics"`
}

// TradingConfig controls the trading cycle.
type TradingConfig struct {
	Symbols         []string `toml:"symbols"`
	Venues          []string `toml:"venues"`
	PollInterval    duration `toml:"poll_interval"`
	TriggerInterval duration `toml:"trigger_interval"`
	MaxQuoteAge     duration `toml:"max_quote_age"`
	QuoteTTL        duration `toml:"quote_ttl"`
	CycleLockTTL    duration `toml:"cycle_lock_ttl"`
	ResetCron       string   `toml:"reset_cron"`
}

// CostConfig holds the spread evaluator's cost model.
type CostConfig struct {
	FeeRate         decimalValue `toml:"fee_rate"`
	SlippageRate    decimalValue `toml:"slippage_rate"`
	MinSpreadMargin decimalValue `toml:"min_spread_margin"`
}

// RiskConfig holds the base risk limits.
type RiskConfig struct {
	InitialBalance     decimalValue    `toml:"initial_balance"`
	MaxPositionCap     decimalValue    `toml:"max_position_cap"`
	StopLossPct        decimalValue    `toml:"stop_loss_pct"`
	TakeProfitPct      optionalDecimal `toml:"take_profit_pct"`
	CapitalPctPerTrade decimalValue    `toml:"capital_pct_per_trade"`
	MaxExposurePct     decimalValue    `toml:"max_exposure_pct"`
	DailyLossLimitPct  decimalValue    `toml:"daily_loss_limit_pct"`
}

// RegimeConfig selects where the market regime comes from.
type RegimeConfig struct {
	// Source is one of none, static, redis, coingecko.
	Source             string                  `toml:"source"`
	Static             string                  `toml:"static"`
	CoinGeckoURL       string                  `toml:"coingecko_url"`
	Refresh            duration                `toml:"refresh"`
	DefensiveDominance float64                 `toml:"defensive_dominance"`
	RiskOnDominance    float64                 `toml:"risk_on_dominance"`
	RiskOnSupply       float64                 `toml:"risk_on_supply"`
	Presets            map[string]RegimePreset `toml:"presets"`
}

// RegimePreset replaces the built-in overrides for one regime.
type RegimePreset struct {
	MaxPositionCap     decimalValue    `toml:"max_position_cap"`
	CapitalPctPerTrade decimalValue    `toml:"capital_pct_per_trade"`
	StopLossPct        decimalValue    `toml:"stop_loss_pct"`
	TakeProfitPct      optionalDecimal `toml:"take_profit_pct"`
	AvoidNewPositions  bool            `toml:"avoid_new_positions"`
	AccumulationOnly   bool            `toml:"accumulation_only"`
	MaxDailyTrades     int             `toml:"max_daily_trades"`
}

// MacroConfig controls the event calendar pause. An empty Events list uses
// the built-in schedule.
type MacroConfig struct {
	Enabled   bool         `toml:"enabled"`
	MinImpact string       `toml:"min_impact"`
	Events    []MacroEvent `toml:"events"`
}

// MacroEvent is one calendar entry. At is RFC 3339, or YYYY-MM-DD for
// all-day events.
type MacroEvent struct {
	Name   string   `toml:"name"`
	At     string   `toml:"at"`
	Window duration `toml:"window"`
	Impact string   `toml:"impact"`
	AllDay bool     `toml:"all_day"`
}

// AccumulationConfig holds the price bands used in accumulation-only
// regimes. An empty Zones list uses the built-in bands.
type AccumulationConfig struct {
	Enabled bool         `toml:"enabled"`
	Zones   []ZoneConfig `toml:"zones"`
}

// ZoneConfig is one accumulation band.
type ZoneConfig struct {
	Symbol string       `toml:"symbol"`
	Min    decimalValue `toml:"min"`
	Max    decimalValue `toml:"max"`
}

// ExecutionConfig controls the coordinator.
type ExecutionConfig struct {
	FeeRate             decimalValue `toml:"fee_rate"`
	PaperSlippage       decimalValue `toml:"paper_slippage"`
	PaperLatencyMin     duration     `toml:"paper_latency_min"`
	PaperLatencyMax     duration     `toml:"paper_latency_max"`
	Seed                uint64       `toml:"seed"`
	RetryPolicy         string       `toml:"retry_policy"`
	LegTimeout          duration     `toml:"leg_timeout"`
	IdempotencyTTL      duration     `toml:"idempotency_ttl"`
	MaintenanceInterval duration     `toml:"maintenance_interval"`
}

// BreakerConfig holds circuit breaker parameters.
type BreakerConfig struct {
	FailureThreshold int      `toml:"failure_threshold"`
	RecoveryTimeout  duration `toml:"recovery_timeout"`
	HalfOpenMaxCalls int      `toml:"half_open_max_calls"`
}

// VenueConfig describes one live order gateway. The secret is read from
// Secret, or decrypted from EncryptedSecretPath with SecretPassword.
type VenueConfig struct {
	BaseURL             string   `toml:"base_url"`
	OrderPath           string   `toml:"order_path"`
	APIKey              string   `toml:"api_key"`
	Secret              string   `toml:"secret"`
	Passphrase          string   `toml:"passphrase"`
	Base64Secret        bool     `toml:"base64_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RatePerSecond       float64  `toml:"rate_per_second"`
	Burst               int      `toml:"burst"`
	Timeout             duration `toml:"timeout"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// PostgresConfig holds PostgreSQL connection parameters. Persistence is
// skipped when Enabled is false.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the JSONL archive job. It needs postgres and s3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	QueueSize         int      `toml:"queue_size"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// MetricsConfig toggles the /metrics route.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// decimalValue decodes money and ratios written as strings ("0.001").
type decimalValue struct {
	decimal.Decimal
}

func (d *decimalValue) UnmarshalText(text []byte) error {
	v, err := decimal.NewFromString(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", text, err)
	}
	d.Decimal = v
	return nil
}

func (d decimalValue) MarshalText() ([]byte, error) {
	return []byte(d.Decimal.String()), nil
}

// optionalDecimal is a decimalValue where "" or "none" means unset.
type optionalDecimal struct {
	decimal.NullDecimal
}

func (d *optionalDecimal) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" || strings.EqualFold(s, "none") {
		d.NullDecimal = decimal.NullDecimal{}
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", text, err)
	}
	d.NullDecimal = decimal.NewNullDecimal(v)
	return nil
}

func (d optionalDecimal) MarshalText() ([]byte, error) {
	if !d.Valid {
		return []byte("none"), nil
	}
	return []byte(d.Decimal.String()), nil
}

func dec(s string) decimalValue { return decimalValue{decimal.RequireFromString(s)} }

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "paper",
		LogLevel: "info",
		Trading: TradingConfig{
			Symbols:         []string{"BTC/USDT"},
			Venues:          []string{"binance", "coinbase"},
			PollInterval:    duration{5 * time.Second},
			TriggerInterval: duration{2 * time.Second},
			MaxQuoteAge:     duration{10 * time.Second},
			QuoteTTL:        duration{time.Minute},
			CycleLockTTL:    duration{30 * time.Second},
			ResetCron:       "0 0 * * *",
		},
		Cost: CostConfig{
			FeeRate:         dec("0.001"),
			SlippageRate:    dec("0.0005"),
			MinSpreadMargin: dec("0.002"),
		},
		Risk: RiskConfig{
			InitialBalance:     dec("10000"),
			MaxPositionCap:     dec("0.05"),
			StopLossPct:        dec("0.02"),
			CapitalPctPerTrade: dec("0.05"),
			MaxExposurePct:     dec("0.30"),
			DailyLossLimitPct:  dec("0.05"),
		},
		Regime: RegimeConfig{
			Source:             "none",
			Static:             "NEUTRAL",
			CoinGeckoURL:       "https://api.coingecko.com",
			Refresh:            duration{15 * time.Minute},
			DefensiveDominance: 8.5,
			RiskOnDominance:    7.0,
			RiskOnSupply:       150,
		},
		Macro: MacroConfig{
			Enabled:   true,
			MinImpact: "HIGH",
		},
		Accumulation: AccumulationConfig{Enabled: true},
		Execution: ExecutionConfig{
			FeeRate:             dec("0.001"),
			PaperSlippage:       dec("0.001"),
			PaperLatencyMin:     duration{100 * time.Millisecond},
			PaperLatencyMax:     duration{500 * time.Millisecond},
			Seed:                1,
			RetryPolicy:         "default",
			LegTimeout:          duration{10 * time.Second},
			IdempotencyTTL:      duration{24 * time.Hour},
			MaintenanceInterval: duration{10 * time.Minute},
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  duration{60 * time.Second},
			HalfOpenMaxCalls: 3,
		},
		Venues: map[string]VenueConfig{},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "spreadbot",
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "spreadbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "spreadbot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 * * *",
			RetentionDays: 30,
		},
		Notify: NotifyConfig{
			Events:    []string{"trade_filled", "execution_failed", "stop_loss", "take_profit", "daily_limit", "circuit_open", "regime_change"},
			QueueSize: 256,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

var validModes = map[string]bool{
	"paper":   true,
	"live":    true,
	"monitor": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validRegimeSources = map[string]bool{
	"none":      true,
	"static":    true,
	"redis":     true,
	"coingecko": true,
}

var validRegimes = map[string]bool{
	"DEFENSIVE": true,
	"NEUTRAL":   true,
	"RISK_ON":   true,
}

var validImpacts = map[string]bool{
	"LOW":      true,
	"MEDIUM":   true,
	"HIGH":     true,
	"CRITICAL": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }
	one := decimal.NewFromInt(1)

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: paper, live, monitor)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Trading
	if len(c.Trading.Symbols) == 0 {
		add("trading: symbols must not be empty")
	}
	if len(c.Trading.Venues) < 2 {
		add("trading: at least two venues are required, got %d", len(c.Trading.Venues))
	}
	if c.Trading.PollInterval.Duration <= 0 {
		add("trading: poll_interval must be > 0")
	}
	if c.Trading.TriggerInterval.Duration <= 0 {
		add("trading: trigger_interval must be > 0")
	}
	if c.Trading.MaxQuoteAge.Duration < 0 {
		add("trading: max_quote_age must be >= 0")
	}
	if c.Trading.ResetCron != "" && len(strings.Fields(c.Trading.ResetCron)) != 5 {
		add("trading: reset_cron must have 5 fields, got %q", c.Trading.ResetCron)
	}

	// Cost
	for name, v := range map[string]decimal.Decimal{
		"fee_rate":          c.Cost.FeeRate.Decimal,
		"slippage_rate":     c.Cost.SlippageRate.Decimal,
		"min_spread_margin": c.Cost.MinSpreadMargin.Decimal,
	} {
		if v.IsNegative() || v.GreaterThanOrEqual(one) {
			add("cost: %s must be in [0, 1), got %s", name, v)
		}
	}

	// Risk
	if !c.Risk.InitialBalance.IsPositive() {
		add("risk: initial_balance must be > 0")
	}
	if !c.Risk.MaxPositionCap.IsPositive() {
		add("risk: max_position_cap must be > 0")
	}
	for name, v := range map[string]decimal.Decimal{
		"stop_loss_pct":         c.Risk.StopLossPct.Decimal,
		"capital_pct_per_trade": c.Risk.CapitalPctPerTrade.Decimal,
		"max_exposure_pct":      c.Risk.MaxExposurePct.Decimal,
		"daily_loss_limit_pct":  c.Risk.DailyLossLimitPct.Decimal,
	} {
		if !v.IsPositive() || v.GreaterThan(one) {
			add("risk: %s must be in (0, 1], got %s", name, v)
		}
	}
	if c.Risk.TakeProfitPct.Valid && !c.Risk.TakeProfitPct.Decimal.IsPositive() {
		add("risk: take_profit_pct must be > 0 or none")
	}

	// Regime
	source := strings.ToLower(c.Regime.Source)
	if !validRegimeSources[source] {
		add("regime: unknown source %q (valid: none, static, redis, coingecko)", c.Regime.Source)
	}
	if source == "static" && !validRegimes[strings.ToUpper(c.Regime.Static)] {
		add("regime: static regime %q must be DEFENSIVE, NEUTRAL or RISK_ON", c.Regime.Static)
	}
	if source == "coingecko" {
		if c.Regime.CoinGeckoURL == "" {
			add("regime: coingecko_url must not be empty")
		}
		if c.Regime.RiskOnDominance >= c.Regime.DefensiveDominance {
			add("regime: risk_on_dominance must be below defensive_dominance")
		}
	}
	for name, p := range c.Regime.Presets {
		if !validRegimes[strings.ToUpper(name)] {
			add("regime: unknown preset %q", name)
		}
		if !p.MaxPositionCap.IsPositive() || !p.CapitalPctPerTrade.IsPositive() || !p.StopLossPct.IsPositive() {
			add("regime: preset %s needs positive max_position_cap, capital_pct_per_trade and stop_loss_pct", name)
		}
	}

	// Macro
	if c.Macro.Enabled && !validImpacts[strings.ToUpper(c.Macro.MinImpact)] {
		add("macro: unknown min_impact %q", c.Macro.MinImpact)
	}
	for i, ev := range c.Macro.Events {
		if ev.Name == "" || ev.At == "" {
			add("macro: event %d needs name and at", i)
		}
		if !validImpacts[strings.ToUpper(ev.Impact)] {
			add("macro: event %q has unknown impact %q", ev.Name, ev.Impact)
		}
	}

	// Accumulation
	for _, z := range c.Accumulation.Zones {
		if z.Symbol == "" || z.Min.GreaterThan(z.Max.Decimal) {
			add("accumulation: zone %q needs a symbol and min <= max", z.Symbol)
		}
	}

	// Execution
	if c.Execution.FeeRate.IsNegative() {
		add("execution: fee_rate must be >= 0")
	}
	if c.Execution.PaperSlippage.IsNegative() {
		add("execution: paper_slippage must be >= 0")
	}
	if c.Execution.PaperLatencyMax.Duration < c.Execution.PaperLatencyMin.Duration {
		add("execution: paper_latency_max must be >= paper_latency_min")
	}
	if !validRetryPolicies[strings.ToLower(c.Execution.RetryPolicy)] {
		add("execution: unknown retry_policy %q", c.Execution.RetryPolicy)
	}
	if c.Execution.IdempotencyTTL.Duration <= 0 {
		add("execution: idempotency_ttl must be > 0")
	}

	// Breaker
	if c.Breaker.FailureThreshold < 1 {
		add("breaker: failure_threshold must be >= 1")
	}
	if c.Breaker.RecoveryTimeout.Duration <= 0 {
		add("breaker: recovery_timeout must be > 0")
	}
	if c.Breaker.HalfOpenMaxCalls < 1 {
		add("breaker: half_open_max_calls must be >= 1")
	}

	// Venues: live mode needs a gateway per trading venue.
	if mode == "live" {
		for _, name := range c.Trading.Venues {
			v, ok := c.Venues[name]
			if !ok {
				add("venues: %s is traded but has no [venues.%s] section", name, name)
				continue
			}
			if v.BaseURL == "" {
				add("venues.%s: base_url must not be empty", name)
			}
			if v.APIKey == "" {
				add("venues.%s: api_key must not be empty", name)
			}
			if v.Secret == "" && v.EncryptedSecretPath == "" {
				add("venues.%s: either secret or encrypted_secret_path must be set", name)
			}
			if v.EncryptedSecretPath != "" && v.SecretPassword == "" {
				add("venues.%s: secret_password is required when encrypted_secret_path is set", name)
			}
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			add("archive: requires postgres.enabled")
		}
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			add("archive: s3 endpoint and bucket must be set")
		}
		if len(strings.Fields(c.Archive.Cron)) != 5 {
			add("archive: cron must have 5 fields, got %q", c.Archive.Cron)
		}
		if c.Archive.RetentionDays < 1 {
			add("archive: retention_days must be >= 1")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

var validRetryPolicies = map[string]bool{
	"":         true,
	"default":  true,
	"fast":     true,
	"standard": true,
	"slow":     true,
	"network":  true,
}
