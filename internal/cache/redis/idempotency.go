package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// IdempotencyStore implements domain.IdempotencyStore with SET NX under
// "idem:{key}".
type IdempotencyStore struct {
	c *Client
}

// NewIdempotencyStore creates an IdempotencyStore backed by the given Client.
func NewIdempotencyStore(c *Client) *IdempotencyStore {
	return &IdempotencyStore{c: c}
}

// Claim records key for ttl and reports whether this caller was first.
func (s *IdempotencyStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.c.rdb.SetNX(ctx, s.c.key("idem", key), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim %s: %w", key, err)
	}
	return ok, nil
}

// Seen reports whether key is currently claimed.
func (s *IdempotencyStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.c.rdb.Exists(ctx, s.c.key("idem", key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: seen %s: %w", key, err)
	}
	return n > 0, nil
}

var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
