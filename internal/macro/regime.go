package macro

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// ParseRegime parses a regime name (case-insensitive).
func ParseRegime(s string) (domain.Regime, error) {
	r := domain.Regime(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("macro: unknown regime %q", s)
	}
	return r, nil
}

// DefaultPresets returns the risk overrides for each regime.
func DefaultPresets() map[domain.Regime]domain.RegimeConfig {
	dec := decimal.RequireFromString
	tp := func(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }
	return map[domain.Regime]domain.RegimeConfig{
		domain.RegimeDefensive: {
			Regime:             domain.RegimeDefensive,
			MaxPositionCap:     dec("0.005"),
			CapitalPctPerTrade: dec("0.005"),
			StopLossPct:        dec("0.05"),
			TakeProfitPct:      tp("0.10"),
			AvoidNewPositions:  true,
			AccumulationOnly:   true,
			MaxDailyTrades:     5,
		},
		domain.RegimeNeutral: {
			Regime:             domain.RegimeNeutral,
			MaxPositionCap:     dec("0.01"),
			CapitalPctPerTrade: dec("0.01"),
			StopLossPct:        dec("0.07"),
			TakeProfitPct:      tp("0.15"),
			MaxDailyTrades:     15,
		},
		domain.RegimeRiskOn: {
			Regime:             domain.RegimeRiskOn,
			MaxPositionCap:     dec("0.015"),
			CapitalPctPerTrade: dec("0.015"),
			StopLossPct:        dec("0.10"),
			TakeProfitPct:      tp("0.25"),
			MaxDailyTrades:     30,
		},
	}
}

// Thresholds classify market data into a regime.
type Thresholds struct {
	DefensiveDominance float64 // USDT dominance % above which DEFENSIVE
	RiskOnDominance    float64 // USDT dominance % below which RISK_ON is possible
	RiskOnSupply       float64 // stablecoin supply (billions) required for RISK_ON
}

// DefaultThresholds are 8.5%, 7% and $150B.
func DefaultThresholds() Thresholds {
	return Thresholds{DefensiveDominance: 8.5, RiskOnDominance: 7.0, RiskOnSupply: 150}
}

// Classify maps USDT dominance and stablecoin supply to a regime.
func Classify(usdtDominance, stableSupply float64, th Thresholds) domain.Regime {
	switch {
	case usdtDominance > th.DefensiveDominance:
		return domain.RegimeDefensive
	case usdtDominance < th.RiskOnDominance && stableSupply > th.RiskOnSupply:
		return domain.RegimeRiskOn
	default:
		return domain.RegimeNeutral
	}
}

// Source reports the current regime.
type Source interface {
	Regime(ctx context.Context) (domain.Regime, error)
}

// StaticSource always reports the same regime.
type StaticSource domain.Regime

// Regime implements Source.
func (s StaticSource) Regime(context.Context) (domain.Regime, error) {
	return domain.Regime(s), nil
}

// CacheSource reads a regime published by an external process.
type CacheSource struct {
	Cache domain.RegimeCache
}

// Regime implements Source.
func (s CacheSource) Regime(ctx context.Context) (domain.Regime, error) {
	r, err := s.Cache.GetRegime(ctx)
	if err != nil {
		return "", fmt.Errorf("macro: read regime: %w", err)
	}
	return r, nil
}

// Detector resolves the current regime into its risk overrides and
// implements domain.RegimeProvider. On a source error it keeps serving the
// last known regime.
type Detector struct {
	source   Source
	presets  map[domain.Regime]domain.RegimeConfig
	logger   *slog.Logger
	onChange func(from, to domain.Regime)

	mu   sync.Mutex
	last domain.Regime
}

// NewDetector creates a Detector. A nil source disables regime overrides.
func NewDetector(source Source, presets map[domain.Regime]domain.RegimeConfig, logger *slog.Logger) *Detector {
	if presets == nil {
		presets = DefaultPresets()
	}
	return &Detector{
		source:  source,
		presets: presets,
		logger:  logger.With(slog.String("component", "regime")),
	}
}

// OnChange registers a callback for regime transitions.
func (d *Detector) OnChange(fn func(from, to domain.Regime)) { d.onChange = fn }

// Current implements domain.RegimeProvider.
func (d *Detector) Current(ctx context.Context) (domain.RegimeConfig, bool, error) {
	if d.source == nil {
		return domain.RegimeConfig{}, false, nil
	}

	regime, err := d.source.Regime(ctx)
	d.mu.Lock()
	if err != nil || !regime.Valid() {
		last := d.last
		d.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("macro: invalid regime %q", regime)
		}
		cfg, ok := d.presets[last]
		return cfg, ok, err
	}
	prev := d.last
	d.last = regime
	d.mu.Unlock()

	if prev != regime {
		d.logger.InfoContext(ctx, "regime: changed", slog.String("from", string(prev)), slog.String("to", string(regime)))
		if d.onChange != nil {
			d.onChange(prev, regime)
		}
	}

	cfg, ok := d.presets[regime]
	if !ok {
		return domain.RegimeConfig{}, false, fmt.Errorf("macro: no preset for regime %s", regime)
	}
	return cfg, true, nil
}

// Last returns the most recently observed regime.
func (d *Detector) Last() domain.Regime {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
