package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Regime is an externally computed macro risk posture.
type Regime string

const (
	RegimeDefensive Regime = "DEFENSIVE"
	RegimeNeutral   Regime = "NEUTRAL"
	RegimeRiskOn    Regime = "RISK_ON"
)

// Valid reports whether r is a known regime.
func (r Regime) Valid() bool {
	switch r {
	case RegimeDefensive, RegimeNeutral, RegimeRiskOn:
		return true
	}
	return false
}

// RegimeConfig holds the risk parameter overrides for one regime.
type RegimeConfig struct {
	Regime             Regime              `json:"regime"`
	MaxPositionCap     decimal.Decimal     `json:"max_position_cap"`
	CapitalPctPerTrade decimal.Decimal     `json:"capital_pct_per_trade"`
	StopLossPct        decimal.Decimal     `json:"stop_loss_pct"`
	TakeProfitPct      decimal.NullDecimal `json:"take_profit_pct"`
	AvoidNewPositions  bool                `json:"avoid_new_positions"`
	AccumulationOnly   bool                `json:"accumulation_only"`
	MaxDailyTrades     int                 `json:"max_daily_trades"`
}

// RegimeProvider reports the current regime parameters. ok is false when
// no regime overrides apply.
type RegimeProvider interface {
	Current(ctx context.Context) (cfg RegimeConfig, ok bool, err error)
}

// PauseChecker reports whether trading is inside a macro pause window.
type PauseChecker interface {
	ShouldPause(ctx context.Context) (pause bool, reason string)
}

// AccumulationFilter decides whether a price is acceptable for entries
// when a regime restricts trading to accumulation bands. known is false for
// symbols without a configured band.
type AccumulationFilter interface {
	ShouldAccumulate(symbol string, price decimal.Decimal) (allowed bool, known bool)
}
