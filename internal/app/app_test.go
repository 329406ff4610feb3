package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/config"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/macro"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
	"github.com/alanyoungcy/spreadbot/internal/notify"
	"github.com/alanyoungcy/spreadbot/internal/resilience"
	"github.com/alanyoungcy/spreadbot/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spreadbot.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestRegimePresetsOverlayDefaults(t *testing.T) {
	cfg := loadConfig(t, `
[regime.presets.risk_on]
max_position_cap = "0.2"
capital_pct_per_trade = "0.1"
stop_loss_pct = "0.03"
take_profit_pct = "0.06"
max_daily_trades = 12
`)
	presets, err := regimePresets(cfg.Regime)
	require.NoError(t, err)

	riskOn := presets[domain.RegimeRiskOn]
	assert.Equal(t, domain.RegimeRiskOn, riskOn.Regime)
	assert.True(t, riskOn.MaxPositionCap.Equal(decimal.RequireFromString("0.2")))
	assert.True(t, riskOn.TakeProfitPct.Valid)
	assert.Equal(t, 12, riskOn.MaxDailyTrades)

	assert.Equal(t, macro.DefaultPresets()[domain.RegimeDefensive], presets[domain.RegimeDefensive])
}

func TestRegimePresetsRejectUnknownRegime(t *testing.T) {
	cfg := loadConfig(t, `
[regime.presets.bull]
max_position_cap = "1"
`)
	_, err := regimePresets(cfg.Regime)
	assert.Error(t, err)
}

func TestRegimeSource(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		static  string
		wantNil bool
		wantErr bool
	}{
		{name: "none", source: "none", wantNil: true},
		{name: "empty", source: "", wantNil: true},
		{name: "static", source: "static", static: "defensive"},
		{name: "static invalid", source: "static", static: "BULL", wantErr: true},
		{name: "redis", source: "redis"},
		{name: "coingecko", source: "coingecko"},
		{name: "unknown", source: "oracle", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Regime.Source = tt.source
			cfg.Regime.Static = tt.static
			src, err := regimeSource(cfg.Regime, nil, testLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNil, src == nil)
		})
	}
}

func TestStaticRegimeSourceReportsRegime(t *testing.T) {
	cfg := config.Defaults()
	cfg.Regime.Source = "static"
	cfg.Regime.Static = "risk_on"
	src, err := regimeSource(cfg.Regime, nil, testLogger())
	require.NoError(t, err)

	r, err := src.Regime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeRiskOn, r)
}

func TestCalendarFromConfig(t *testing.T) {
	cfg := loadConfig(t, `
[macro]
enabled = true
min_impact = "high"

[[macro.events]]
name = "Rate Decision"
at = "2026-06-17T18:00:00Z"
window = "30m"
impact = "critical"

[[macro.events]]
name = "Holiday"
at = "2026-07-03"
window = "24h"
impact = "high"
all_day = true

[[macro.events]]
name = "Minor Data"
at = "2026-06-18T12:30:00Z"
window = "30m"
impact = "low"
`)
	cal, err := calendar(cfg.Macro)
	require.NoError(t, err)

	pause, reason := cal.PauseAt(time.Date(2026, 6, 17, 18, 10, 0, 0, time.UTC))
	assert.True(t, pause)
	assert.Contains(t, reason, "Rate Decision")

	pause, _ = cal.PauseAt(time.Date(2026, 6, 18, 12, 30, 0, 0, time.UTC))
	assert.False(t, pause, "low impact events are below the threshold")

	pause, _ = cal.PauseAt(time.Date(2026, 7, 3, 15, 0, 0, 0, time.UTC))
	assert.True(t, pause)
}

func TestCalendarDefaultsAndErrors(t *testing.T) {
	cfg := config.Defaults()
	cal, err := calendar(cfg.Macro)
	require.NoError(t, err)
	assert.NotNil(t, cal)

	cfg.Macro.Events = []config.MacroEvent{{Name: "bad", At: "tomorrow", Impact: "HIGH"}}
	_, err = calendar(cfg.Macro)
	assert.Error(t, err)

	cfg.Macro.Events = []config.MacroEvent{{Name: "bad", At: "2026-01-01T00:00:00Z", Impact: "HUGE"}}
	_, err = calendar(cfg.Macro)
	assert.Error(t, err)
}

func TestZonesFromConfig(t *testing.T) {
	assert.Equal(t, macro.DefaultZones(), zones(config.AccumulationConfig{}))

	cfg := loadConfig(t, `
[[accumulation.zones]]
symbol = "ETH"
min = "2000"
max = "2600"
`)
	z := zones(cfg.Accumulation)
	require.Len(t, z, 1)
	assert.Equal(t, "ETH", z[0].Symbol)
	assert.True(t, z[0].Max.Equal(decimal.RequireFromString("2600")))
}

func TestExecutorConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "live"
	cfg.Execution.RetryPolicy = "fast"
	cfg.Execution.LegTimeout.Duration = 3 * time.Second

	ec, err := executorConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeLive, ec.Mode)
	assert.Equal(t, "fast", ec.Retry.Name)
	assert.Equal(t, 3*time.Second, ec.Retry.AttemptTimeout)
	assert.Equal(t, cfg.Execution.IdempotencyTTL.Duration, ec.KeyTTL)

	cfg.Mode = "monitor"
	ec, err = executorConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, domain.ModePaper, ec.Mode)

	cfg.Execution.RetryPolicy = "forever"
	_, err = executorConfig(&cfg)
	assert.Error(t, err)
}

func TestLiveConnectors(t *testing.T) {
	cfg := config.Defaults()
	cfg.Trading.Venues = []string{"alpha", "beta"}
	cfg.Venues = map[string]config.VenueConfig{
		"alpha": {BaseURL: "https://alpha.example", APIKey: "k", Secret: "s"},
		"beta":  {BaseURL: "https://beta.example", APIKey: "k", Secret: "s"},
	}
	conns, err := liveConnectors(&cfg, testLogger())
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, "alpha", conns[0].Name())
	assert.Equal(t, "beta", conns[1].Name())

	delete(cfg.Venues, "beta")
	_, err = liveConnectors(&cfg, testLogger())
	assert.ErrorContains(t, err, "beta")
}

func TestBreakerTransitionsUpdateGauge(t *testing.T) {
	cfg := config.Defaults()
	cfg.Breaker.FailureThreshold = 2
	journal := service.NewJournal(8, time.Second, testLogger())
	defer journal.Close()
	alerts := notify.NewAlerts(notify.NewNotifier(nil, nil, testLogger()), 8, testLogger())

	cb := newBreaker(cfg.Breaker, nil, journal, alerts, testLogger())
	gauge := metrics.CircuitState.WithLabelValues("execution")
	assert.Equal(t, float64(resilience.StateClosed), testutil.ToFloat64(gauge))

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, resilience.StateOpen, cb.State())
	assert.Equal(t, float64(resilience.StateOpen), testutil.ToFloat64(gauge))

	cb.Reset()
	assert.Equal(t, float64(resilience.StateClosed), testutil.ToFloat64(gauge))
}

func TestWireAndBuildPaper(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Defaults()
	cfg.Postgres.Enabled = false
	cfg.Macro.Enabled = false
	cfg.Redis.Addr = mr.Addr()
	ctx := context.Background()

	deps, cleanup, err := Wire(ctx, &cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.PositionStore)
	assert.Nil(t, deps.Archiver)
	assert.Contains(t, deps.Checks, "redis")
	assert.NotContains(t, deps.Checks, "postgres")
	require.NoError(t, deps.Checks["redis"](ctx))

	comps, err := Build(ctx, &cfg, deps, testLogger())
	require.NoError(t, err)
	defer comps.Journal.Close()

	assert.Equal(t, domain.ModePaper, comps.Executor.Mode())
	assert.Nil(t, comps.Archiver)

	now := time.Now().UTC()
	require.NoError(t, deps.QuoteCache.SetQuote(ctx, domain.PriceQuote{
		Venue: "binance", Symbol: "BTC/USDT", Price: decimal.RequireFromString("68000"), ObservedAt: now,
	}))
	require.NoError(t, deps.QuoteCache.SetQuote(ctx, domain.PriceQuote{
		Venue: "coinbase", Symbol: "BTC/USDT", Price: decimal.RequireFromString("68500"), ObservedAt: now,
	}))
	quotes, err := comps.Quotes.Quotes(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Len(t, quotes, 2)

	status := comps.statusSnapshot()
	for _, key := range []string{"mode", "risk", "portfolio", "circuit_breaker", "regime"} {
		assert.Contains(t, status, key)
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Defaults()
	cfg.Postgres.Enabled = false
	cfg.Redis.Addr = mr.Addr()
	cfg.Mode = "backtest"

	a := New(&cfg, testLogger())
	defer a.Close()
	err := a.Run(context.Background())
	assert.ErrorContains(t, err, "unsupported mode")
}
