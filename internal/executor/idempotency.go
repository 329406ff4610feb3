package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// KeySet tracks executed idempotency keys. The in-memory set is
// authoritative for this process; the optional store carries keys across
// restarts and replicas.
type KeySet struct {
	store  domain.IdempotencyStore
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // key -> claimed at
}

// NewKeySet creates a KeySet. store may be nil.
func NewKeySet(store domain.IdempotencyStore, ttl time.Duration, logger *slog.Logger) *KeySet {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &KeySet{
		store:  store,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "idempotency")),
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// Seen reports whether key was already claimed, here or in the store.
func (k *KeySet) Seen(ctx context.Context, key string) bool {
	k.mu.Lock()
	at, ok := k.seen[key]
	k.mu.Unlock()
	if ok && k.now().Sub(at) < k.ttl {
		return true
	}
	if k.store == nil {
		return false
	}
	seen, err := k.store.Seen(ctx, key)
	if err != nil {
		k.logger.WarnContext(ctx, "idempotency: store lookup failed", slog.String("error", err.Error()))
		return false
	}
	return seen
}

// Claim marks key as executed. It returns false when another caller
// claimed it first. A store failure degrades to the in-memory set.
func (k *KeySet) Claim(ctx context.Context, key string) bool {
	now := k.now()
	k.mu.Lock()
	if at, ok := k.seen[key]; ok && now.Sub(at) < k.ttl {
		k.mu.Unlock()
		return false
	}
	k.seen[key] = now
	k.mu.Unlock()

	if k.store == nil {
		return true
	}
	ok, err := k.store.Claim(ctx, key, k.ttl)
	if err != nil {
		k.logger.WarnContext(ctx, "idempotency: store claim failed, using local set",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return true
	}
	return ok
}

// Warm loads keys executed before a restart.
func (k *KeySet) Warm(keys []string) {
	now := k.now()
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, key := range keys {
		k.seen[key] = now
	}
}

// Cleanup removes entries older than the TTL.
func (k *KeySet) Cleanup() {
	now := k.now()
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, at := range k.seen {
		if now.Sub(at) >= k.ttl {
			delete(k.seen, key)
		}
	}
}

// Len returns the number of keys held in memory.
func (k *KeySet) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.seen)
}

// DeriveKey builds a deterministic key from the fields that identify one
// logical execution request.
func DeriveKey(signal domain.TradeSignal, risk domain.RiskDecision, signalTs time.Time) string {
	h := sha256.New()
	for _, part := range []string{
		signal.Symbol,
		signal.BuyVenue,
		signal.SellVenue,
		signal.BuyPrice.String(),
		signal.SellPrice.String(),
		risk.PositionSize.String(),
		risk.PositionID,
		strconv.FormatInt(signalTs.UnixNano(), 10),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
