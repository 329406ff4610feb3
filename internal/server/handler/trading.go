package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// Trader runs the evaluate, assess and execute stages.
type Trader interface {
	Evaluate(quotes []domain.PriceQuote) domain.TradeSignal
	Assess(ctx context.Context, signal domain.TradeSignal, currentPrice decimal.Decimal) domain.RiskDecision
	Execute(ctx context.Context, signal domain.TradeSignal, decision domain.RiskDecision, signalTs time.Time) domain.TradeExecution
	ExecuteWithKey(ctx context.Context, key string, signal domain.TradeSignal, decision domain.RiskDecision, signalTs time.Time) domain.TradeExecution
}

// RiskControl is the admin surface of the risk engine.
type RiskControl interface {
	ResetDaily(ctx context.Context)
	Stats() domain.RiskStats
}

// TradingHandler serves the decision endpoints.
type TradingHandler struct {
	trader  Trader
	risk    RiskControl
	cache   domain.QuoteCache
	quotes  domain.QuoteSource
	trading bool
	logger  *slog.Logger
}

// TradingDeps groups the TradingHandler collaborators.
type TradingDeps struct {
	Trader Trader
	Risk   RiskControl
	Cache  domain.QuoteCache
	Quotes domain.QuoteSource
	// Trading is false in monitor mode. Assess and execute then return 403.
	Trading bool
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(deps TradingDeps, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{
		trader:  deps.Trader,
		risk:    deps.Risk,
		cache:   deps.Cache,
		quotes:  deps.Quotes,
		trading: deps.Trading,
		logger:  logger,
	}
}

type quotesRequest struct {
	Symbol string              `json:"symbol,omitempty"`
	Quotes []domain.PriceQuote `json:"quotes,omitempty"`
}

// IngestQuotes stores venue quotes in the quote cache. A missing
// observed_at is stamped with the receive time.
// POST /api/quotes
func (h *TradingHandler) IngestQuotes(w http.ResponseWriter, r *http.Request) {
	var req quotesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Quotes) == 0 {
		writeError(w, http.StatusBadRequest, "quotes required")
		return
	}

	now := time.Now().UTC()
	for i := range req.Quotes {
		q := &req.Quotes[i]
		q.Venue = strings.TrimSpace(q.Venue)
		q.Symbol = strings.TrimSpace(q.Symbol)
		if q.Venue == "" || q.Symbol == "" {
			writeError(w, http.StatusBadRequest, "venue and symbol required")
			return
		}
		if !q.Price.IsPositive() {
			writeError(w, http.StatusBadRequest, "price must be positive")
			return
		}
		if q.ObservedAt.IsZero() {
			q.ObservedAt = now
		}
	}

	for _, q := range req.Quotes {
		if err := h.cache.SetQuote(r.Context(), q); err != nil {
			h.logger.ErrorContext(r.Context(), "handler: store quote failed",
				slog.String("venue", q.Venue),
				slog.String("symbol", q.Symbol),
				slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to store quotes")
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"stored": len(req.Quotes)})
}

// Evaluate runs the spread evaluator over the posted quotes, or over the
// cached quotes for symbol when none are posted.
// POST /api/evaluate
func (h *TradingHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req quotesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	quotes := req.Quotes
	if len(quotes) == 0 {
		if req.Symbol == "" {
			writeError(w, http.StatusBadRequest, "quotes or symbol required")
			return
		}
		var err error
		quotes, err = h.quotes.Quotes(r.Context(), req.Symbol)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: read quotes failed",
				slog.String("symbol", req.Symbol),
				slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to read quotes")
			return
		}
	}
	writeJSON(w, http.StatusOK, h.trader.Evaluate(quotes))
}

type assessRequest struct {
	Signal       domain.TradeSignal `json:"signal"`
	CurrentPrice decimal.Decimal    `json:"current_price"`
}

// Assess sizes a signal. An approved decision opens a ledger position.
// current_price defaults to the signal's buy price.
// POST /api/assess
func (h *TradingHandler) Assess(w http.ResponseWriter, r *http.Request) {
	if !h.trading {
		writeError(w, http.StatusForbidden, "trading disabled in monitor mode")
		return
	}
	var req assessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price := req.CurrentPrice
	if price.IsZero() {
		price = req.Signal.BuyPrice
	}
	writeJSON(w, http.StatusOK, h.trader.Assess(r.Context(), req.Signal, price))
}

type executeRequest struct {
	Signal         domain.TradeSignal  `json:"signal"`
	Decision       domain.RiskDecision `json:"decision"`
	SignalTs       time.Time           `json:"signal_ts"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
}

// Execute runs the coordinator. The key comes from the body or the
// Idempotency-Key header. Every outcome, rejections included, is a 200 with
// the execution record.
// POST /api/execute
func (h *TradingHandler) Execute(w http.ResponseWriter, r *http.Request) {
	if !h.trading {
		writeError(w, http.StatusForbidden, "trading disabled in monitor mode")
		return
	}
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SignalTs.IsZero() {
		req.SignalTs = req.Signal.CreatedAt
	}

	key := req.IdempotencyKey
	if key == "" {
		key = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	var exec domain.TradeExecution
	if key != "" {
		exec = h.trader.ExecuteWithKey(r.Context(), key, req.Signal, req.Decision, req.SignalTs)
	} else {
		exec = h.trader.Execute(r.Context(), req.Signal, req.Decision, req.SignalTs)
	}
	writeJSON(w, http.StatusOK, exec)
}

// ResetRisk clears the daily counters and the halted flag.
// POST /api/risk/reset
func (h *TradingHandler) ResetRisk(w http.ResponseWriter, r *http.Request) {
	h.risk.ResetDaily(r.Context())
	h.logger.InfoContext(r.Context(), "handler: daily risk state reset")
	writeJSON(w, http.StatusOK, h.risk.Stats())
}
