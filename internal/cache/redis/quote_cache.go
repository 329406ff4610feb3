package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// QuoteCache implements domain.QuoteCache. Each quote is a hash at
// "quote:{venue}:{symbol}" with decimal strings and a nanosecond
// timestamp.
type QuoteCache struct {
	c   *Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache. Entries expire after ttl; zero keeps
// them forever.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{c: c, ttl: ttl}
}

func (qc *QuoteCache) quoteKey(venue, symbol string) string {
	return qc.c.key("quote", venue, symbol)
}

// SetQuote stores the latest quote for its venue and symbol.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	key := qc.quoteKey(q.Venue, q.Symbol)
	ts := q.ObservedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	pipe := qc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price":  q.Price.String(),
		"bid":    q.Bid.String(),
		"ask":    q.Ask.String(),
		"volume": q.Volume24h.String(),
		"ts":     strconv.FormatInt(ts.UnixNano(), 10),
	})
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", q.Venue, q.Symbol, err)
	}
	return nil
}

// GetQuote returns domain.ErrNotFound when no quote is cached.
func (qc *QuoteCache) GetQuote(ctx context.Context, venue, symbol string) (domain.PriceQuote, error) {
	vals, err := qc.c.rdb.HGetAll(ctx, qc.quoteKey(venue, symbol)).Result()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s/%s: %w", venue, symbol, err)
	}
	if len(vals) == 0 {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	q, err := parseQuote(venue, symbol, vals)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s/%s: %w", venue, symbol, err)
	}
	return q, nil
}

// GetQuotes fetches the quotes of several venues in one pipeline. Venues
// without a cached or parseable quote are omitted; order follows venues.
func (qc *QuoteCache) GetQuotes(ctx context.Context, venues []string, symbol string) ([]domain.PriceQuote, error) {
	if len(venues) == 0 {
		return nil, nil
	}
	pipe := qc.c.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(venues))
	for i, v := range venues {
		cmds[i] = pipe.HGetAll(ctx, qc.quoteKey(v, symbol))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes %s: %w", symbol, err)
	}

	out := make([]domain.PriceQuote, 0, len(venues))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := parseQuote(venues[i], symbol, vals)
		if err != nil {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func parseQuote(venue, symbol string, vals map[string]string) (domain.PriceQuote, error) {
	q := domain.PriceQuote{Venue: venue, Symbol: symbol}
	var err error
	if q.Price, err = decimal.NewFromString(vals["price"]); err != nil {
		return q, fmt.Errorf("parse price: %w", err)
	}
	for field, dst := range map[string]*decimal.Decimal{"bid": &q.Bid, "ask": &q.Ask, "volume": &q.Volume24h} {
		if s, ok := vals[field]; ok && s != "" {
			if *dst, err = decimal.NewFromString(s); err != nil {
				return q, fmt.Errorf("parse %s: %w", field, err)
			}
		}
	}
	if s, ok := vals["ts"]; ok {
		ns, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return q, fmt.Errorf("parse ts: %w", err)
		}
		q.ObservedAt = time.Unix(0, ns).UTC()
	}
	return q, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
