package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/arbitrage"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/executor"
	"github.com/alanyoungcy/spreadbot/internal/pipeline"
	"github.com/alanyoungcy/spreadbot/internal/server/handler"
	"github.com/alanyoungcy/spreadbot/internal/service"
)

const testKey = "s3cret"

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memQuotes struct {
	mu     sync.Mutex
	quotes map[string]domain.PriceQuote
}

func (m *memQuotes) SetQuote(_ context.Context, q domain.PriceQuote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quotes == nil {
		m.quotes = make(map[string]domain.PriceQuote)
	}
	m.quotes[q.Venue+"|"+q.Symbol] = q
	return nil
}

func (m *memQuotes) GetQuote(_ context.Context, venue, symbol string) (domain.PriceQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[venue+"|"+symbol]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	return q, nil
}

func (m *memQuotes) GetQuotes(ctx context.Context, venues []string, symbol string) ([]domain.PriceQuote, error) {
	var out []domain.PriceQuote
	for _, v := range venues {
		if q, err := m.GetQuote(ctx, v, symbol); err == nil {
			out = append(out, q)
		}
	}
	return out, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

type fixture struct {
	handler http.Handler
	ledger  *service.PositionLedger
	cache   *memQuotes
}

func newFixture(t *testing.T, trading bool, limiter domain.RateLimiter) *fixture {
	t.Helper()
	logger := testLogger()
	ledger := service.NewPositionLedger(service.LedgerDeps{}, logger)
	risk := service.NewRiskEngine(service.DefaultRiskConfig(), ledger, service.RiskDeps{}, logger)
	cfg := executor.DefaultConfig()
	cfg.PaperLatencyMin, cfg.PaperLatencyMax = 0, 0
	exec := executor.NewCoordinator(cfg, executor.Deps{Positions: ledger}, logger)
	eval := arbitrage.NewEvaluator(arbitrage.CostModel{
		FeeRate:         decimal.RequireFromString("0.001"),
		SlippageRate:    decimal.RequireFromString("0.0005"),
		MinSpreadMargin: decimal.RequireFromString("0.002"),
	})
	core := pipeline.NewCore(eval, risk, exec, logger)
	cache := &memQuotes{}

	handlers := Handlers{
		Health:    handler.NewHealthHandler("paper", nil, logger),
		Stats:     handler.NewStatsHandler(risk, ledger, exec, exec.Breaker()),
		Positions: handler.NewPositionHandler(ledger, logger),
		Trading: handler.NewTradingHandler(handler.TradingDeps{
			Trader:  core,
			Risk:    risk,
			Cache:   cache,
			Quotes:  pipeline.NewCacheQuoteSource(cache, []string{"A", "B"}, 0),
			Trading: trading,
		}, logger),
		Metrics: http.NotFoundHandler(),
	}
	cfgSrv := Config{APIKey: testKey, RateLimit: 10, RateWindow: time.Second}
	return &fixture{
		handler: Routes(cfgSrv, handlers, nil, limiter, logger),
		ledger:  ledger,
		cache:   cache,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t, true, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "paper", body["mode"])
}

func TestAuth(t *testing.T) {
	f := newFixture(t, true, nil)
	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong bearer", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer " + testKey, http.StatusOK},
		{"api key header", "X-API-Key", testKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestQuoteToExecutionFlow(t *testing.T) {
	f := newFixture(t, true, nil)

	rec := f.do(t, http.MethodPost, "/api/quotes", map[string]any{
		"quotes": []map[string]string{
			{"venue": "A", "symbol": "BTC/USDT", "price": "68000"},
			{"venue": "B", "symbol": "BTC/USDT", "price": "69000"},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/evaluate", map[string]string{"symbol": "BTC/USDT"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	signal := decode[domain.TradeSignal](t, rec)
	require.Equal(t, domain.DecisionTrade, signal.Decision)
	assert.Equal(t, "A", signal.BuyVenue)

	rec = f.do(t, http.MethodPost, "/api/assess", map[string]any{"signal": signal})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decision := decode[domain.RiskDecision](t, rec)
	require.True(t, decision.Approved(), decision.Reason)
	require.NotEmpty(t, decision.PositionID)

	body := map[string]any{"signal": signal, "decision": decision, "idempotency_key": "k-1"}
	rec = f.do(t, http.MethodPost, "/api/execute", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	exec := decode[domain.TradeExecution](t, rec)
	assert.Equal(t, domain.ExecFilled, exec.Status)
	assert.Equal(t, "k-1", exec.IdempotencyKey)

	// Replaying the key is answered without a second fill.
	rec = f.do(t, http.MethodPost, "/api/execute", body)
	again := decode[domain.TradeExecution](t, rec)
	assert.Equal(t, domain.ExecRejected, again.Status)
	assert.Equal(t, domain.ErrAlreadyExecuted.Error(), again.ErrorMessage)

	rec = f.do(t, http.MethodGet, "/api/executions?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Executions []domain.TradeExecution `json:"executions"`
	}](t, rec)
	assert.Len(t, list.Executions, 2)

	rec = f.do(t, http.MethodGet, "/api/positions?status=open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	positions := decode[struct {
		Positions []domain.Position `json:"positions"`
	}](t, rec)
	require.Len(t, positions.Positions, 1)

	rec = f.do(t, http.MethodPost, "/api/positions/"+decision.PositionID+"/close", map[string]string{"price": "68500"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode[domain.ClosedPosition](t, rec)
	assert.Equal(t, domain.CloseManual, closed.Reason)
	assert.True(t, closed.PnL.IsPositive())

	rec = f.do(t, http.MethodPost, "/api/positions/"+decision.PositionID+"/close", map[string]string{"price": "68500"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, true, nil)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"empty quotes", http.MethodPost, "/api/quotes", map[string]any{}, http.StatusBadRequest},
		{"non-positive price", http.MethodPost, "/api/quotes", map[string]any{
			"quotes": []map[string]string{{"venue": "A", "symbol": "X", "price": "0"}},
		}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/evaluate", map[string]any{"nope": 1}, http.StatusBadRequest},
		{"evaluate without input", http.MethodPost, "/api/evaluate", map[string]any{}, http.StatusBadRequest},
		{"bad status filter", http.MethodGet, "/api/positions?status=pending", nil, http.StatusBadRequest},
		{"close unknown", http.MethodPost, "/api/positions/missing/close", map[string]string{"price": "1"}, http.StatusNotFound},
		{"close trigger reason", http.MethodPost, "/api/positions/missing/close",
			map[string]string{"price": "1", "reason": "STOP_LOSS"}, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/api/execute", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestEvaluatePostedQuotes(t *testing.T) {
	f := newFixture(t, true, nil)
	rec := f.do(t, http.MethodPost, "/api/evaluate", map[string]any{
		"quotes": []map[string]string{{"venue": "A", "symbol": "ETH/USDT", "price": "3500"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	signal := decode[domain.TradeSignal](t, rec)
	assert.Equal(t, domain.DecisionNoTrade, signal.Decision)
}

func TestMonitorModeBlocksTrading(t *testing.T) {
	f := newFixture(t, false, nil)
	for _, path := range []string{"/api/assess", "/api/execute"} {
		t.Run(path, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, path, map[string]any{})
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
	rec := f.do(t, http.MethodPost, "/api/evaluate", map[string]any{
		"quotes": []map[string]string{{"venue": "A", "symbol": "X", "price": "1"}},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRiskReset(t *testing.T) {
	f := newFixture(t, true, nil)
	rec := f.do(t, http.MethodPost, "/api/risk/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[domain.RiskStats](t, rec)
	assert.False(t, stats.Halted)
	assert.Zero(t, stats.TradesToday)
}

func TestStats(t *testing.T) {
	f := newFixture(t, true, nil)
	rec := f.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "PAPER", body["mode"])
	breaker := body["circuit_breaker"].(map[string]any)
	assert.Equal(t, "CLOSED", breaker["state"])
}

func TestRateLimited(t *testing.T) {
	f := newFixture(t, true, denyLimiter{})
	rec := f.do(t, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, true, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/execute", nil)
	req.Header.Set("Origin", "http://dash.local")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://dash.local", rec.Header().Get("Access-Control-Allow-Origin"))
}
