package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction of a position.
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// CloseReason records which transition closed a position.
type CloseReason string

const (
	CloseStopLoss   CloseReason = "STOP_LOSS"
	CloseTakeProfit CloseReason = "TAKE_PROFIT"
	CloseManual     CloseReason = "MANUAL"
	CloseCancelled  CloseReason = "CANCELLED"
)

// Position is owned by the PositionLedger. Callers receive copies.
type Position struct {
	ID              string              `json:"id"`
	Venue           string              `json:"venue"`
	Symbol          string              `json:"symbol"`
	Side            PositionSide        `json:"side"`
	EntryPrice      decimal.Decimal     `json:"entry_price"`
	Quantity        decimal.Decimal     `json:"quantity"`
	StopLossPrice   decimal.Decimal     `json:"stop_loss_price"`
	TakeProfitPrice decimal.NullDecimal `json:"take_profit_price"`
	Status          PositionStatus      `json:"status"`
	ClosePrice      decimal.NullDecimal `json:"close_price"`
	CloseReason     CloseReason         `json:"close_reason,omitempty"`
	RealizedPnL     decimal.Decimal     `json:"realized_pnl"`
	Unbalanced      bool                `json:"unbalanced"`
	Note            string              `json:"note,omitempty"`
	OpenedAt        time.Time           `json:"opened_at"`
	ClosedAt        *time.Time          `json:"closed_at,omitempty"`
}

// Notional is entry price times quantity.
func (p Position) Notional() decimal.Decimal {
	return p.EntryPrice.Mul(p.Quantity)
}

// PnLAt returns the P&L of closing the position at exit.
func (p Position) PnLAt(exit decimal.Decimal) decimal.Decimal {
	diff := exit.Sub(p.EntryPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}

// ClosedPosition is the result of a close transition.
type ClosedPosition struct {
	Position  Position        `json:"position"`
	Reason    CloseReason     `json:"reason"`
	ExitPrice decimal.Decimal `json:"exit_price"`
	PnL       decimal.Decimal `json:"pnl"`
}

// OpenPositionRequest carries everything needed to open a position.
type OpenPositionRequest struct {
	Venue           string
	Symbol          string
	Side            PositionSide
	EntryPrice      decimal.Decimal
	Quantity        decimal.Decimal
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.NullDecimal
}

// PortfolioSummary is a snapshot of the ledger.
type PortfolioSummary struct {
	OpenPositions   int             `json:"open_positions"`
	ClosedPositions int             `json:"closed_positions"`
	Unbalanced      int             `json:"unbalanced"`
	Exposure        decimal.Decimal `json:"exposure"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`
	DailyPnL        decimal.Decimal `json:"daily_pnl"`
	StopLosses      int64           `json:"stop_losses"`
	TakeProfits     int64           `json:"take_profits"`
}
