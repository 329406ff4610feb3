package domain

import "context"

// Connector places orders on one venue. Implementations return
// *TransientNetworkError for failures worth retrying.
type Connector interface {
	Name() string
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderFill, error)
}

// QuoteSource supplies the latest quotes for a symbol across venues.
type QuoteSource interface {
	Quotes(ctx context.Context, symbol string) ([]PriceQuote, error)
}
