package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// CacheQuoteSource reads the latest quote per venue from the quote cache
// and drops quotes older than MaxAge.
type CacheQuoteSource struct {
	cache  domain.QuoteCache
	venues []string
	maxAge time.Duration
	now    func() time.Time
}

// NewCacheQuoteSource creates a quote source over venues.
func NewCacheQuoteSource(cache domain.QuoteCache, venues []string, maxAge time.Duration) *CacheQuoteSource {
	return &CacheQuoteSource{cache: cache, venues: venues, maxAge: maxAge, now: time.Now}
}

// Quotes returns the fresh quotes for symbol in venue order.
func (s *CacheQuoteSource) Quotes(ctx context.Context, symbol string) ([]domain.PriceQuote, error) {
	quotes, err := s.cache.GetQuotes(ctx, s.venues, symbol)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read quotes %s: %w", symbol, err)
	}
	now := s.now()
	fresh := quotes[:0]
	for _, q := range quotes {
		if !q.Stale(now, s.maxAge) {
			fresh = append(fresh, q)
		}
	}
	return fresh, nil
}

var _ domain.QuoteSource = (*CacheQuoteSource)(nil)
