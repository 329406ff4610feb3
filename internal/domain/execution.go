package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecMode selects simulated or real order placement.
type ExecMode string

const (
	ModePaper ExecMode = "PAPER"
	ModeLive  ExecMode = "LIVE"
)

// ExecStatus is the terminal state of a TradeExecution.
type ExecStatus string

const (
	ExecPending  ExecStatus = "PENDING"
	ExecFilled   ExecStatus = "FILLED"
	ExecPartial  ExecStatus = "PARTIAL"
	ExecRejected ExecStatus = "REJECTED"
	ExecFailed   ExecStatus = "FAILED"
)

// LegStatus is the state of one side of a two-venue trade.
type LegStatus string

const (
	LegFilled  LegStatus = "FILLED"
	LegFailed  LegStatus = "FAILED"
	LegSkipped LegStatus = "SKIPPED"
)

// ExecutionLeg records one order of a trade.
type ExecutionLeg struct {
	Side          OrderSide       `json:"side"`
	Venue         string          `json:"venue"`
	OrderID       string          `json:"order_id,omitempty"`
	ExpectedPrice decimal.Decimal `json:"expected_price"`
	FilledPrice   decimal.Decimal `json:"filled_price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Fee           decimal.Decimal `json:"fee"`
	Status        LegStatus       `json:"status"`
	Error         string          `json:"error,omitempty"`
}

// Latency splits the time from signal to fill.
type Latency struct {
	Signal    time.Duration `json:"signal"`
	Risk      time.Duration `json:"risk"`
	Execution time.Duration `json:"execution"`
	Total     time.Duration `json:"total"`
}

// TradeExecution is the append-only record of one execution attempt.
// IdempotencyKey identifies the logical request; ID identifies the attempt.
type TradeExecution struct {
	ID                 string              `json:"id"`
	IdempotencyKey     string              `json:"idempotency_key"`
	Mode               ExecMode            `json:"mode"`
	Status             ExecStatus          `json:"status"`
	Symbol             string              `json:"symbol,omitempty"`
	PositionID         string              `json:"position_id,omitempty"`
	BuyVenue           string              `json:"buy_venue,omitempty"`
	SellVenue          string              `json:"sell_venue,omitempty"`
	BuyPrice           decimal.Decimal     `json:"buy_price"`
	SellPrice          decimal.Decimal     `json:"sell_price"`
	Quantity           decimal.Decimal     `json:"quantity"`
	AllocationNotional decimal.Decimal     `json:"allocation_notional"`
	SpreadPct          decimal.Decimal     `json:"spread_pct"`
	RiskDecision       RiskAction          `json:"risk_decision,omitempty"`
	FillBuyPrice       decimal.NullDecimal `json:"fill_buy_price"`
	FillSellPrice      decimal.NullDecimal `json:"fill_sell_price"`
	Fees               decimal.Decimal     `json:"fees"`
	NetPnL             decimal.NullDecimal `json:"net_pnl"`
	Legs               []ExecutionLeg      `json:"legs,omitempty"`
	Unbalanced         bool                `json:"unbalanced"`
	Latency            Latency             `json:"latency"`
	ErrorMessage       string              `json:"error_message,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
}

// ExecutionStats is the running aggregate over terminal records.
type ExecutionStats struct {
	Total       int64           `json:"total"`
	Successful  int64           `json:"successful"`
	Failed      int64           `json:"failed"`
	Rejected    int64           `json:"rejected"`
	Duplicates  int64           `json:"duplicates"`
	Paper       int64           `json:"paper"`
	Live        int64           `json:"live"`
	SuccessRate float64         `json:"success_rate_pct"`
	AvgLatency  time.Duration   `json:"avg_latency"`
	TotalNetPnL decimal.Decimal `json:"total_net_pnl"`
}
