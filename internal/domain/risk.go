package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskAction is the RiskEngine verdict.
type RiskAction string

const (
	RiskApprove RiskAction = "APPROVE"
	RiskModify  RiskAction = "MODIFY"
	RiskReject  RiskAction = "REJECT"
	RiskHold    RiskAction = "HOLD"
)

// Valid reports whether a is a known action.
func (a RiskAction) Valid() bool {
	switch a {
	case RiskApprove, RiskModify, RiskReject, RiskHold:
		return true
	}
	return false
}

// RiskLevel grades a decision.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Valid reports whether l is a known level.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical:
		return true
	}
	return false
}

// RiskDecision is derived from a TradeSignal and the portfolio state at
// assessment time. PositionID is set when an APPROVE/MODIFY opened a
// position in the ledger.
type RiskDecision struct {
	Decision           RiskAction          `json:"decision"`
	Reason             string              `json:"reason"`
	Symbol             string              `json:"symbol,omitempty"`
	Venue              string              `json:"venue,omitempty"`
	EntryPrice         decimal.Decimal     `json:"entry_price"`
	AllocationNotional decimal.Decimal     `json:"allocation_notional"`
	PositionSize       decimal.Decimal     `json:"position_size"`
	StopLossPrice      decimal.NullDecimal `json:"stop_loss_price"`
	TakeProfitPrice    decimal.NullDecimal `json:"take_profit_price"`
	MaxPosition        decimal.Decimal     `json:"max_position"`
	CurrentExposure    decimal.Decimal     `json:"current_exposure"`
	RiskLevel          RiskLevel           `json:"risk_level"`
	Regime             Regime              `json:"regime,omitempty"`
	PositionID         string              `json:"position_id,omitempty"`
	AssessedAt         time.Time           `json:"assessed_at"`
}

// Approved reports whether the decision allows execution.
func (d RiskDecision) Approved() bool {
	return d.Decision == RiskApprove || d.Decision == RiskModify
}

// Err returns a *RiskRejection for a decision that does not allow trading.
func (d RiskDecision) Err() error {
	if d.Approved() {
		return nil
	}
	return &RiskRejection{Reason: d.Reason, Level: d.RiskLevel}
}

// RiskStats is a snapshot of RiskEngine counters.
type RiskStats struct {
	Approved       int64           `json:"approved"`
	Rejected       int64           `json:"rejected"`
	Held           int64           `json:"held"`
	TradesToday    int             `json:"trades_today"`
	Halted         bool            `json:"halted"`
	HaltReason     string          `json:"halt_reason,omitempty"`
	Balance        decimal.Decimal `json:"balance"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	DailyPnL       decimal.Decimal `json:"daily_pnl"`
	Regime         Regime          `json:"regime,omitempty"`
}
