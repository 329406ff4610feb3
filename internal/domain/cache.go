package domain

import (
	"context"
	"time"
)

// QuoteCache holds the latest quote per venue and symbol.
type QuoteCache interface {
	SetQuote(ctx context.Context, q PriceQuote) error
	GetQuote(ctx context.Context, venue, symbol string) (PriceQuote, error)
	GetQuotes(ctx context.Context, venues []string, symbol string) ([]PriceQuote, error)
}

// IdempotencyStore records execution keys. Claim returns false when the key
// was already claimed.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Seen(ctx context.Context, key string) (bool, error)
}

// RegimeCache stores the externally published regime.
type RegimeCache interface {
	SetRegime(ctx context.Context, regime Regime) error
	GetRegime(ctx context.Context) (Regime, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel and stream names.
const (
	ChannelExecutions = "executions"
	ChannelPositions  = "positions"
	ChannelAlerts     = "alerts"
	StreamExecutions  = "stream:executions"
	StreamPositions   = "stream:positions"
)
