package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is one venue's view of a symbol at a point in time.
type PriceQuote struct {
	Venue      string          `json:"venue"`
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Volume24h  decimal.Decimal `json:"volume_24h"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Stale reports whether the quote is older than maxAge at now. A zero
// maxAge disables the check.
func (q PriceQuote) Stale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 || q.ObservedAt.IsZero() {
		return false
	}
	return now.Sub(q.ObservedAt) > maxAge
}
