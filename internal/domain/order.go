package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderRequest is a single limit order sent to a venue.
type OrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Venue         string          `json:"venue"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	LimitPrice    decimal.Decimal `json:"limit_price"`
}

// OrderFill is a venue's report of an executed order, collapsed to a single
// average fill price.
type OrderFill struct {
	OrderID     string          `json:"order_id"`
	FilledPrice decimal.Decimal `json:"filled_price"`
	FilledQty   decimal.Decimal `json:"filled_qty"`
	Fee         decimal.Decimal `json:"fee"`
	FilledAt    time.Time       `json:"filled_at"`
}
