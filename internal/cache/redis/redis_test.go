package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr(), KeyPrefix: "sb"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestQuoteCache_RoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	qc := NewQuoteCache(c, time.Minute)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, qc.SetQuote(ctx, domain.PriceQuote{
		Venue: "A", Symbol: "BTC/USDT", Price: decimal.RequireFromString("68000.12"), ObservedAt: at,
	}))
	require.NoError(t, qc.SetQuote(ctx, domain.PriceQuote{
		Venue: "B", Symbol: "BTC/USDT", Price: decimal.RequireFromString("69000"), ObservedAt: at,
	}))

	assert.True(t, mr.Exists("sb:quote:A:BTC/USDT"))
	assert.Equal(t, time.Minute, mr.TTL("sb:quote:A:BTC/USDT"))

	q, err := qc.GetQuote(ctx, "A", "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "68000.12", q.Price.String())
	assert.True(t, q.ObservedAt.Equal(at))

	quotes, err := qc.GetQuotes(ctx, []string{"C", "B", "A"}, "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "B", quotes[0].Venue)
	assert.Equal(t, "A", quotes[1].Venue)

	_, err = qc.GetQuote(ctx, "C", "BTC/USDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIdempotencyStore_ClaimOnce(t *testing.T) {
	c, mr := newTestClient(t)
	s := NewIdempotencyStore(c)
	ctx := context.Background()

	ok, err := s.Claim(ctx, "abc", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(ctx, "abc", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	seen, err := s.Seen(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, seen)

	mr.FastForward(2 * time.Hour)
	seen, err = s.Seen(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRegimeCache(t *testing.T) {
	c, mr := newTestClient(t)
	rc := NewRegimeCache(c)
	ctx := context.Background()

	_, err := rc.GetRegime(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, rc.SetRegime(ctx, domain.RegimeRiskOn))
	r, err := rc.GetRegime(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeRiskOn, r)

	var ve *domain.ValidationError
	assert.True(t, errors.As(rc.SetRegime(ctx, "BULLISH"), &ve))

	require.NoError(t, mr.Set("sb:regime:current", "garbage"))
	_, err = rc.GetRegime(ctx)
	assert.Error(t, err)
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "cycle:BTC/USDT", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "cycle:BTC/USDT", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	assert.False(t, mr.Exists("sb:lock:cycle:BTC/USDT"))

	again, err := lm.Acquire(ctx, "cycle:BTC/USDT", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockManager_UnlockKeepsForeignLock(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	other, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	unlock()
	assert.True(t, mr.Exists("sb:lock:k"))
	other()
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "5.6.7.8", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, err = rl.Allow(ctx, "1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, domain.ChannelExecutions)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelExecutions, []byte(`{"id":"1"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"id":"1"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestSignalBus_Streams(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamExecutions, []byte(p)))
	}

	msgs, err := bus.StreamRead(ctx, domain.StreamExecutions, "0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", string(msgs[0].Payload))

	rest, err := bus.StreamRead(ctx, domain.StreamExecutions, msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", string(rest[0].Payload))
}
