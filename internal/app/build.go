package app

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/arbitrage"
	"github.com/alanyoungcy/spreadbot/internal/config"
	"github.com/alanyoungcy/spreadbot/internal/crypto"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/executor"
	"github.com/alanyoungcy/spreadbot/internal/macro"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
	"github.com/alanyoungcy/spreadbot/internal/notify"
	"github.com/alanyoungcy/spreadbot/internal/pipeline"
	"github.com/alanyoungcy/spreadbot/internal/resilience"
	"github.com/alanyoungcy/spreadbot/internal/service"
	"github.com/alanyoungcy/spreadbot/internal/venue"
)

// Components are the decision-core services built on top of Dependencies.
type Components struct {
	Journal  *service.Journal
	Alerts   *notify.Alerts
	Ledger   *service.PositionLedger
	Regime   *macro.Detector
	Risk     *service.RiskEngine
	Breaker  *resilience.CircuitBreaker
	Executor *executor.Coordinator
	Core     *pipeline.Core
	Quotes   *pipeline.CacheQuoteSource
	Archiver *pipeline.Archiver
}

// Build assembles the services in dependency order: journal and alerts,
// the ledger (restored from postgres), regime and calendar, risk, breaker,
// idempotency keys, connectors and the coordinator.
func Build(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Components, error) {
	c := &Components{}
	c.Journal = service.NewJournal(1024, 5*time.Second, logger)
	c.Alerts = notify.NewAlerts(deps.Notifier, cfg.Notify.QueueSize, logger)

	c.Ledger = service.NewPositionLedger(service.LedgerDeps{
		Store:   deps.PositionStore,
		Bus:     deps.SignalBus,
		Audit:   deps.AuditStore,
		Journal: c.Journal,
	}, logger)
	if deps.PositionStore != nil {
		open, err := deps.PositionStore.GetOpen(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: restore positions: %w", err)
		}
		c.Ledger.Restore(open)
		logger.InfoContext(ctx, "app: positions restored", slog.Int("open", len(open)))
	}

	source, err := regimeSource(cfg.Regime, deps.RegimeCache, logger)
	if err != nil {
		return nil, err
	}
	presets, err := regimePresets(cfg.Regime)
	if err != nil {
		return nil, err
	}
	c.Regime = macro.NewDetector(source, presets, logger)
	c.Regime.OnChange(c.Alerts.RegimeChange)

	riskDeps := service.RiskDeps{
		Regime:  c.Regime,
		Audit:   deps.AuditStore,
		Journal: c.Journal,
		OnHalt:  c.Alerts.DailyLimit,
	}
	if cfg.Macro.Enabled {
		cal, err := calendar(cfg.Macro)
		if err != nil {
			return nil, err
		}
		riskDeps.Calendar = cal
	}
	if cfg.Accumulation.Enabled {
		riskDeps.Accumulation = macro.NewZones(zones(cfg.Accumulation))
	}
	c.Risk = service.NewRiskEngine(riskConfig(cfg.Risk), c.Ledger, riskDeps, logger)

	c.Breaker = newBreaker(cfg.Breaker, deps.AuditStore, c.Journal, c.Alerts, logger)

	execCfg, err := executorConfig(cfg)
	if err != nil {
		return nil, err
	}
	keys := executor.NewKeySet(deps.Idempotency, execCfg.KeyTTL, logger)
	if deps.ExecutionStore != nil {
		recent, err := deps.ExecutionStore.ListKeysSince(ctx, time.Now().Add(-execCfg.KeyTTL))
		if err != nil {
			return nil, fmt.Errorf("app: warm idempotency keys: %w", err)
		}
		keys.Warm(recent)
	}

	var connectors []domain.Connector
	if execCfg.Mode == domain.ModeLive {
		connectors, err = liveConnectors(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	c.Executor = executor.NewCoordinator(execCfg, executor.Deps{
		Positions:  c.Ledger,
		Connectors: connectors,
		Breaker:    c.Breaker,
		Keys:       keys,
		Store:      deps.ExecutionStore,
		Bus:        deps.SignalBus,
		Journal:    c.Journal,
		Alerts:     c.Alerts,
	}, logger)

	c.Core = pipeline.NewCore(arbitrage.NewEvaluator(costModel(cfg.Cost)), c.Risk, c.Executor, logger)
	c.Quotes = pipeline.NewCacheQuoteSource(deps.QuoteCache, cfg.Trading.Venues, cfg.Trading.MaxQuoteAge.Duration)

	if deps.Archiver != nil {
		c.Archiver = pipeline.NewArchiver(deps.Archiver, cfg.Archive.RetentionDays, logger)
	}
	return c, nil
}

func costModel(c config.CostConfig) arbitrage.CostModel {
	return arbitrage.CostModel{
		FeeRate:         c.FeeRate.Decimal,
		SlippageRate:    c.SlippageRate.Decimal,
		MinSpreadMargin: c.MinSpreadMargin.Decimal,
	}
}

func riskConfig(r config.RiskConfig) service.RiskConfig {
	return service.RiskConfig{
		InitialBalance:     r.InitialBalance.Decimal,
		MaxPositionCap:     r.MaxPositionCap.Decimal,
		StopLossPct:        r.StopLossPct.Decimal,
		TakeProfitPct:      r.TakeProfitPct.NullDecimal,
		CapitalPctPerTrade: r.CapitalPctPerTrade.Decimal,
		MaxExposurePct:     r.MaxExposurePct.Decimal,
		DailyLossLimitPct:  r.DailyLossLimitPct.Decimal,
	}
}

// regimeSource returns nil for source "none", which disables overrides.
func regimeSource(r config.RegimeConfig, cache domain.RegimeCache, logger *slog.Logger) (macro.Source, error) {
	switch strings.ToLower(r.Source) {
	case "", "none":
		return nil, nil
	case "static":
		regime, err := macro.ParseRegime(r.Static)
		if err != nil {
			return nil, fmt.Errorf("app: regime: %w", err)
		}
		return macro.StaticSource(regime), nil
	case "redis":
		return macro.CacheSource{Cache: cache}, nil
	case "coingecko":
		th := macro.DefaultThresholds()
		if r.DefensiveDominance > 0 {
			th.DefensiveDominance = r.DefensiveDominance
		}
		if r.RiskOnDominance > 0 {
			th.RiskOnDominance = r.RiskOnDominance
		}
		if r.RiskOnSupply > 0 {
			th.RiskOnSupply = r.RiskOnSupply
		}
		return macro.NewCoinGeckoSource(r.CoinGeckoURL, th, r.Refresh.Duration, logger), nil
	default:
		return nil, fmt.Errorf("app: unknown regime source %q", r.Source)
	}
}

// regimePresets overlays configured presets on the defaults.
func regimePresets(r config.RegimeConfig) (map[domain.Regime]domain.RegimeConfig, error) {
	presets := maps.Clone(macro.DefaultPresets())
	for name, p := range r.Presets {
		regime, err := macro.ParseRegime(name)
		if err != nil {
			return nil, fmt.Errorf("app: regime preset: %w", err)
		}
		presets[regime] = domain.RegimeConfig{
			Regime:             regime,
			MaxPositionCap:     p.MaxPositionCap.Decimal,
			CapitalPctPerTrade: p.CapitalPctPerTrade.Decimal,
			StopLossPct:        p.StopLossPct.Decimal,
			TakeProfitPct:      p.TakeProfitPct.NullDecimal,
			AvoidNewPositions:  p.AvoidNewPositions,
			AccumulationOnly:   p.AccumulationOnly,
			MaxDailyTrades:     p.MaxDailyTrades,
		}
	}
	return presets, nil
}

// calendar uses the built-in schedule unless events are configured. Event
// times are RFC 3339, or a bare date for all-day events.
func calendar(m config.MacroConfig) (*macro.Calendar, error) {
	minImpact, err := macro.ParseImpact(m.MinImpact)
	if err != nil {
		return nil, fmt.Errorf("app: macro: %w", err)
	}
	if len(m.Events) == 0 {
		return macro.NewCalendar(macro.DefaultEvents(), minImpact), nil
	}

	events := make([]macro.Event, 0, len(m.Events))
	for _, e := range m.Events {
		impact, err := macro.ParseImpact(e.Impact)
		if err != nil {
			return nil, fmt.Errorf("app: macro event %q: %w", e.Name, err)
		}
		layout := time.RFC3339
		if e.AllDay {
			layout = time.DateOnly
		}
		at, err := time.Parse(layout, e.At)
		if err != nil {
			return nil, fmt.Errorf("app: macro event %q: %w", e.Name, err)
		}
		events = append(events, macro.Event{
			Name:   e.Name,
			At:     at.UTC(),
			Window: e.Window.Duration,
			Impact: impact,
			AllDay: e.AllDay,
		})
	}
	return macro.NewCalendar(events, minImpact), nil
}

func zones(a config.AccumulationConfig) []macro.Zone {
	if len(a.Zones) == 0 {
		return macro.DefaultZones()
	}
	out := make([]macro.Zone, 0, len(a.Zones))
	for _, z := range a.Zones {
		out = append(out, macro.Zone{Symbol: z.Symbol, Min: z.Min.Decimal, Max: z.Max.Decimal})
	}
	return out
}

func executorConfig(cfg *config.Config) (executor.Config, error) {
	e := cfg.Execution
	policy, ok := resilience.PolicyByName(e.RetryPolicy)
	if !ok {
		return executor.Config{}, fmt.Errorf("app: unknown retry policy %q", e.RetryPolicy)
	}
	if e.LegTimeout.Duration > 0 {
		policy.AttemptTimeout = e.LegTimeout.Duration
	}

	mode := domain.ModePaper
	if strings.EqualFold(cfg.Mode, "live") {
		mode = domain.ModeLive
	}
	return executor.Config{
		Mode:            mode,
		FeeRate:         e.FeeRate.Decimal,
		PaperSlippage:   e.PaperSlippage.Decimal,
		PaperLatencyMin: e.PaperLatencyMin.Duration,
		PaperLatencyMax: e.PaperLatencyMax.Duration,
		Seed:            e.Seed,
		Retry:           policy,
		KeyTTL:          e.IdempotencyTTL.Duration,
	}, nil
}

// newBreaker builds the execution breaker. Transitions update the gauge,
// land in the audit log and alert when the circuit opens.
func newBreaker(b config.BreakerConfig, audit domain.AuditStore, journal *service.Journal, alerts *notify.Alerts, logger *slog.Logger) *resilience.CircuitBreaker {
	const name = "execution"
	var cb *resilience.CircuitBreaker
	cb = resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name:             name,
		FailureThreshold: b.FailureThreshold,
		RecoveryTimeout:  b.RecoveryTimeout.Duration,
		HalfOpenMaxCalls: b.HalfOpenMaxCalls,
	}, logger, resilience.WithTransitionHook(func(from, to resilience.State) {
		metrics.CircuitState.WithLabelValues(name).Set(float64(to))
		if audit != nil {
			detail := map[string]any{"breaker": name, "from": from.String(), "to": to.String()}
			journal.Submit("audit circuit_state", func(ctx context.Context) error {
				return audit.Log(ctx, "circuit_state", detail)
			})
		}
		if to == resilience.StateOpen {
			alerts.CircuitOpen(name, cb.Snapshot().ConsecutiveFailures, cb.RetryAfter())
		}
	}))
	metrics.CircuitState.WithLabelValues(name).Set(float64(resilience.StateClosed))
	return cb
}

// liveConnectors builds one signed HTTP connector per traded venue.
func liveConnectors(cfg *config.Config, logger *slog.Logger) ([]domain.Connector, error) {
	out := make([]domain.Connector, 0, len(cfg.Trading.Venues))
	for _, name := range cfg.Trading.Venues {
		v, ok := cfg.Venues[name]
		if !ok {
			return nil, fmt.Errorf("app: venue %s: not configured", name)
		}
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:           v.Secret,
			EncryptedPath: v.EncryptedSecretPath,
			Password:      v.SecretPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("app: venue %s: %w", name, err)
		}
		out = append(out, venue.NewHTTPConnector(venue.Config{
			Name:      name,
			BaseURL:   v.BaseURL,
			OrderPath: v.OrderPath,
			Auth: &crypto.HMACAuth{
				Key:          v.APIKey,
				Secret:       secret,
				Passphrase:   v.Passphrase,
				Base64Secret: v.Base64Secret,
			},
			RatePerSecond: v.RatePerSecond,
			Burst:         v.Burst,
			Timeout:       v.Timeout.Duration,
		}, logger))
	}
	return out, nil
}

// statusSnapshot is sent to websocket clients when they connect.
func (c *Components) statusSnapshot() map[string]any {
	return map[string]any{
		"mode":            c.Executor.Mode(),
		"risk":            c.Risk.Stats(),
		"portfolio":       c.Ledger.Summary(),
		"circuit_breaker": c.Breaker.Snapshot(),
		"regime":          c.Regime.Last(),
	}
}
