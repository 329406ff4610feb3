package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalDecision is the outcome of a spread evaluation.
type SignalDecision string

const (
	DecisionTrade   SignalDecision = "TRADE"
	DecisionNoTrade SignalDecision = "NO_TRADE"
)

// Valid reports whether d is a known decision.
func (d SignalDecision) Valid() bool {
	return d == DecisionTrade || d == DecisionNoTrade
}

// Confidence grades a TRADE signal by its expected profit.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Valid reports whether c is a known confidence level.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// TradeSignal is produced once per evaluation and never mutated. On
// NO_TRADE the venue and price fields are left empty.
type TradeSignal struct {
	Decision          SignalDecision  `json:"decision"`
	Reason            string          `json:"reason,omitempty"`
	Symbol            string          `json:"symbol,omitempty"`
	BuyVenue          string          `json:"buy_venue,omitempty"`
	SellVenue         string          `json:"sell_venue,omitempty"`
	BuyPrice          decimal.Decimal `json:"buy_price"`
	SellPrice         decimal.Decimal `json:"sell_price"`
	SpreadPct         decimal.Decimal `json:"spread_pct"`
	ThresholdPct      decimal.Decimal `json:"threshold_pct"`
	ExpectedProfitPct decimal.Decimal `json:"expected_profit_pct"`
	Confidence        Confidence      `json:"confidence"`
	CreatedAt         time.Time       `json:"created_at"`
}

// IsTrade reports whether the signal asks for execution.
func (s TradeSignal) IsTrade() bool {
	return s.Decision == DecisionTrade
}
