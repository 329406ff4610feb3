package executor

import (
	"fmt"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// validateShapes rejects unknown enum values.
func validateShapes(signal domain.TradeSignal, risk domain.RiskDecision) error {
	if !signal.Decision.Valid() {
		return &domain.ValidationError{Field: "signal.decision", Reason: fmt.Sprintf("unknown value %q", signal.Decision)}
	}
	if !signal.Confidence.Valid() {
		return &domain.ValidationError{Field: "signal.confidence", Reason: fmt.Sprintf("unknown value %q", signal.Confidence)}
	}
	if !risk.Decision.Valid() {
		return &domain.ValidationError{Field: "risk.decision", Reason: fmt.Sprintf("unknown value %q", risk.Decision)}
	}
	if !risk.RiskLevel.Valid() {
		return &domain.ValidationError{Field: "risk.risk_level", Reason: fmt.Sprintf("unknown value %q", risk.RiskLevel)}
	}
	return nil
}

// validateOrder checks the fields an order is built from.
func validateOrder(signal domain.TradeSignal, risk domain.RiskDecision) error {
	switch {
	case signal.BuyVenue == "":
		return &domain.ValidationError{Field: "signal.buy_venue", Reason: "required"}
	case signal.SellVenue == "":
		return &domain.ValidationError{Field: "signal.sell_venue", Reason: "required"}
	case signal.BuyVenue == signal.SellVenue:
		return &domain.ValidationError{Field: "signal.sell_venue", Reason: "must differ from buy venue"}
	case !signal.BuyPrice.IsPositive():
		return &domain.ValidationError{Field: "signal.buy_price", Reason: "must be positive"}
	case !signal.SellPrice.IsPositive():
		return &domain.ValidationError{Field: "signal.sell_price", Reason: "must be positive"}
	case !risk.PositionSize.IsPositive():
		return &domain.ValidationError{Field: "risk.position_size", Reason: "must be positive"}
	}
	return nil
}
