package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// RegimeCache implements domain.RegimeCache. An external classifier
// publishes the current regime name at "regime:current".
type RegimeCache struct {
	c *Client
}

// NewRegimeCache creates a RegimeCache backed by the given Client.
func NewRegimeCache(c *Client) *RegimeCache {
	return &RegimeCache{c: c}
}

// SetRegime stores regime.
func (rc *RegimeCache) SetRegime(ctx context.Context, regime domain.Regime) error {
	if !regime.Valid() {
		return &domain.ValidationError{Field: "regime", Reason: fmt.Sprintf("unknown regime %q", regime)}
	}
	if err := rc.c.rdb.Set(ctx, rc.c.key("regime", "current"), string(regime), 0).Err(); err != nil {
		return fmt.Errorf("redis: set regime: %w", err)
	}
	return nil
}

// GetRegime returns domain.ErrNotFound when nothing was published.
func (rc *RegimeCache) GetRegime(ctx context.Context) (domain.Regime, error) {
	s, err := rc.c.rdb.Get(ctx, rc.c.key("regime", "current")).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("redis: get regime: %w", err)
	}
	r := domain.Regime(s)
	if !r.Valid() {
		return "", fmt.Errorf("redis: get regime: unknown regime %q", s)
	}
	return r, nil
}

var _ domain.RegimeCache = (*RegimeCache)(nil)
