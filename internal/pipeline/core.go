package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spreadbot/internal/arbitrage"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/executor"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
	"github.com/alanyoungcy/spreadbot/internal/service"
)

// Core is the three-call decision API: evaluate quotes, assess the signal,
// execute the decision. None of the calls return errors; every outcome is
// a record.
type Core struct {
	evaluator *arbitrage.Evaluator
	risk      *service.RiskEngine
	exec      *executor.Coordinator
	logger    *slog.Logger
}

// NewCore wires the three stages.
func NewCore(evaluator *arbitrage.Evaluator, risk *service.RiskEngine, exec *executor.Coordinator, logger *slog.Logger) *Core {
	return &Core{
		evaluator: evaluator,
		risk:      risk,
		exec:      exec,
		logger:    logger.With(slog.String("component", "core")),
	}
}

// Evaluate turns venue quotes into a signal.
func (c *Core) Evaluate(quotes []domain.PriceQuote) domain.TradeSignal {
	sig := c.evaluator.Evaluate(quotes)
	metrics.SignalsTotal.WithLabelValues(string(sig.Decision)).Inc()
	if sig.Symbol != "" && !sig.SpreadPct.IsZero() {
		metrics.SpreadPct.WithLabelValues(sig.Symbol).Set(sig.SpreadPct.InexactFloat64())
	}
	if sig.IsTrade() {
		c.logger.Info("core: trade signal",
			slog.String("symbol", sig.Symbol),
			slog.String("buy_venue", sig.BuyVenue),
			slog.String("sell_venue", sig.SellVenue),
			slog.String("spread_pct", sig.SpreadPct.String()),
			slog.String("confidence", string(sig.Confidence)),
		)
	}
	return sig
}

// Assess sizes the signal at currentPrice.
func (c *Core) Assess(ctx context.Context, signal domain.TradeSignal, currentPrice decimal.Decimal) domain.RiskDecision {
	return c.risk.Assess(ctx, signal, currentPrice)
}

// Execute runs the decision under a key derived from its contents.
func (c *Core) Execute(ctx context.Context, signal domain.TradeSignal, decision domain.RiskDecision, signalTs time.Time) domain.TradeExecution {
	return c.exec.Execute(ctx, signal, decision, signalTs)
}

// ExecuteWithKey runs the decision under a caller supplied idempotency key.
func (c *Core) ExecuteWithKey(ctx context.Context, key string, signal domain.TradeSignal, decision domain.RiskDecision, signalTs time.Time) domain.TradeExecution {
	return c.exec.ExecuteWithKey(ctx, key, signal, decision, signalTs)
}

// Risk returns the risk engine.
func (c *Core) Risk() *service.RiskEngine { return c.risk }

// Executor returns the execution coordinator.
func (c *Core) Executor() *executor.Coordinator { return c.exec }
