package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const envPrefix = "SPREADBOT_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SPREADBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SPREADBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")

	// Trading
	setStringSlice(&cfg.Trading.Symbols, "TRADING_SYMBOLS")
	setStringSlice(&cfg.Trading.Venues, "TRADING_VENUES")
	setDuration(&cfg.Trading.PollInterval, "TRADING_POLL_INTERVAL")
	setDuration(&cfg.Trading.TriggerInterval, "TRADING_TRIGGER_INTERVAL")
	setDuration(&cfg.Trading.MaxQuoteAge, "TRADING_MAX_QUOTE_AGE")

	// Cost
	setDecimal(&cfg.Cost.FeeRate, "COST_FEE_RATE")
	setDecimal(&cfg.Cost.SlippageRate, "COST_SLIPPAGE_RATE")
	setDecimal(&cfg.Cost.MinSpreadMargin, "COST_MIN_SPREAD_MARGIN")

	// Risk
	setDecimal(&cfg.Risk.InitialBalance, "RISK_INITIAL_BALANCE")
	setDecimal(&cfg.Risk.MaxPositionCap, "RISK_MAX_POSITION_CAP")
	setDecimal(&cfg.Risk.StopLossPct, "RISK_STOP_LOSS_PCT")
	setDecimal(&cfg.Risk.CapitalPctPerTrade, "RISK_CAPITAL_PCT_PER_TRADE")
	setDecimal(&cfg.Risk.MaxExposurePct, "RISK_MAX_EXPOSURE_PCT")
	setDecimal(&cfg.Risk.DailyLossLimitPct, "RISK_DAILY_LOSS_LIMIT_PCT")

	// Regime
	setStr(&cfg.Regime.Source, "REGIME_SOURCE")
	setStr(&cfg.Regime.Static, "REGIME_STATIC")
	setStr(&cfg.Regime.CoinGeckoURL, "REGIME_COINGECKO_URL")
	setFloat64(&cfg.Regime.DefensiveDominance, "REGIME_DEFENSIVE_DOMINANCE")
	setFloat64(&cfg.Regime.RiskOnDominance, "REGIME_RISK_ON_DOMINANCE")
	setFloat64(&cfg.Regime.RiskOnSupply, "REGIME_RISK_ON_SUPPLY")

	// Macro / accumulation
	setBool(&cfg.Macro.Enabled, "MACRO_ENABLED")
	setStr(&cfg.Macro.MinImpact, "MACRO_MIN_IMPACT")
	setBool(&cfg.Accumulation.Enabled, "ACCUMULATION_ENABLED")

	// Execution
	setDecimal(&cfg.Execution.FeeRate, "EXECUTION_FEE_RATE")
	setStr(&cfg.Execution.RetryPolicy, "EXECUTION_RETRY_POLICY")
	setUint64(&cfg.Execution.Seed, "EXECUTION_SEED")

	// Breaker
	setInt(&cfg.Breaker.FailureThreshold, "BREAKER_FAILURE_THRESHOLD")
	setDuration(&cfg.Breaker.RecoveryTimeout, "BREAKER_RECOVERY_TIMEOUT")

	// Venues: SPREADBOT_VENUES_<NAME>_API_KEY etc. for configured venues.
	for name, v := range cfg.Venues {
		p := "VENUES_" + strings.ToUpper(name) + "_"
		setStr(&v.BaseURL, p+"BASE_URL")
		setStr(&v.APIKey, p+"API_KEY")
		setStr(&v.Secret, p+"SECRET")
		setStr(&v.Passphrase, p+"PASSPHRASE")
		setStr(&v.SecretPassword, p+"SECRET_PASSWORD")
		cfg.Venues[name] = v
	}

	// Redis
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")

	// Postgres
	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// S3 / archive
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// Server / metrics
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setBool(&cfg.Metrics.Enabled, "METRICS_ENABLED")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty. Keys are given without the prefix.
// ---------------------------------------------------------------------------

func getenv(key string) string { return os.Getenv(envPrefix + key) }

func setStr(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setDecimal(dst *decimalValue, key string) {
	if v := getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			dst.Decimal = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
