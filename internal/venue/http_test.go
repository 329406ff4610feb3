package venue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/crypto"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/resilience"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func order() domain.OrderRequest {
	return domain.OrderRequest{
		ClientOrderID: "abc-buy",
		Venue:         "alpha",
		Symbol:        "BTC/USDT",
		Side:          domain.OrderSideBuy,
		Quantity:      decimal.RequireFromString("0.007"),
		LimitPrice:    decimal.RequireFromString("68000"),
	}
}

func TestPlaceOrderSignedFill(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "k", Secret: "s"}
	var payload orderPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &payload))

		ok := auth.Verify(r.Method, r.URL.Path, string(raw),
			r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature))
		if !ok || r.Header.Get(crypto.HeaderKey) != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"order_id":"o-1","status":"FILLED","filled_price":"68010.5","filled_qty":"0.007","fee":0.47,"filled_at":1700000000000}`))
	}))
	defer srv.Close()

	c := NewHTTPConnector(Config{Name: "alpha", BaseURL: srv.URL + "/", Auth: auth}, testLogger())
	fill, err := c.PlaceOrder(context.Background(), order())
	require.NoError(t, err)

	assert.Equal(t, "alpha", c.Name())
	assert.Equal(t, "o-1", fill.OrderID)
	assert.True(t, fill.FilledPrice.Equal(decimal.RequireFromString("68010.5")))
	assert.True(t, fill.Fee.Equal(decimal.RequireFromString("0.47")))
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), fill.FilledAt)
	assert.Equal(t, orderPayload{
		ClientOrderID: "abc-buy", Symbol: "BTC/USDT", Side: "BUY", Type: "LIMIT",
		Quantity: "0.007", Price: "68000",
	}, payload)
}

func TestPlaceOrderErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		is        error
	}{
		{name: "server error", status: http.StatusBadGateway, body: "upstream", transient: true},
		{name: "rate limited", status: http.StatusTooManyRequests, body: "slow down", transient: true, is: domain.ErrRateLimited},
		{name: "unauthorized", status: http.StatusUnauthorized, body: "bad key", is: domain.ErrUnauthorized},
		{name: "bad request", status: http.StatusBadRequest, body: "invalid qty"},
		{name: "gateway rejection", status: http.StatusOK, body: `{"status":"REJECTED","message":"insufficient balance"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPConnector(Config{Name: "alpha", BaseURL: srv.URL}, testLogger()).
				PlaceOrder(context.Background(), order())
			require.Error(t, err)

			var tne *domain.TransientNetworkError
			assert.Equal(t, tt.transient, errors.As(err, &tne))
			assert.Equal(t, tt.transient, resilience.IsRetryable(err))
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestPlaceOrderNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTPConnector(Config{Name: "alpha", BaseURL: url}, testLogger()).
		PlaceOrder(context.Background(), order())
	var tne *domain.TransientNetworkError
	assert.True(t, errors.As(err, &tne))
}

func TestPlaceOrderRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"order_id":"o","status":"FILLED","filled_price":"1","filled_qty":"1"}`))
	}))
	defer srv.Close()

	c := NewHTTPConnector(Config{Name: "alpha", BaseURL: srv.URL, RatePerSecond: 1, Burst: 1}, testLogger())
	_, err := c.PlaceOrder(context.Background(), order())
	require.NoError(t, err)

	// The second call needs a token a second away; the deadline is shorter.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.PlaceOrder(ctx, order())
	assert.ErrorContains(t, err, "rate limit wait")
	assert.Equal(t, int32(1), calls.Load())
}

func TestPlaceOrderRateLimitWaitClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"order_id":"o","status":"FILLED","filled_price":"1","filled_qty":"1"}`))
	}))
	defer srv.Close()

	tests := []struct {
		name      string
		ctx       func() (context.Context, context.CancelFunc)
		transient bool
	}{
		{
			name: "deadline before next token",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 50*time.Millisecond)
			},
			transient: true,
		},
		{
			name: "cancelled",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewHTTPConnector(Config{Name: "alpha", BaseURL: srv.URL, RatePerSecond: 0.1, Burst: 1}, testLogger())
			_, err := c.PlaceOrder(context.Background(), order())
			require.NoError(t, err)

			ctx, cancel := tt.ctx()
			defer cancel()
			_, err = c.PlaceOrder(ctx, order())
			require.Error(t, err)
			assert.ErrorContains(t, err, "rate limit wait")

			var tne *domain.TransientNetworkError
			assert.Equal(t, tt.transient, errors.As(err, &tne))
			assert.Equal(t, tt.transient, resilience.IsRetryable(err))
			if !tt.transient {
				assert.ErrorIs(t, err, context.Canceled)
			}
		})
	}
}
