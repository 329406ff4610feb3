package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
	"github.com/alanyoungcy/spreadbot/internal/resilience"
	"github.com/alanyoungcy/spreadbot/internal/service"
)

const recentSize = 200

// Config controls execution.
type Config struct {
	Mode            domain.ExecMode
	FeeRate         decimal.Decimal
	PaperSlippage   decimal.Decimal
	PaperLatencyMin time.Duration
	PaperLatencyMax time.Duration
	Seed            uint64
	Retry           resilience.Policy
	KeyTTL          time.Duration
}

// DefaultConfig returns paper mode with a 0.1% fee per leg, up to 0.1%
// slippage and 100-500ms simulated latency.
func DefaultConfig() Config {
	return Config{
		Mode:            domain.ModePaper,
		FeeRate:         decimal.RequireFromString("0.001"),
		PaperSlippage:   decimal.RequireFromString("0.001"),
		PaperLatencyMin: 100 * time.Millisecond,
		PaperLatencyMax: 500 * time.Millisecond,
		Seed:            1,
		Retry:           resilience.DefaultPolicy,
		KeyTTL:          24 * time.Hour,
	}
}

// PositionUpdater is the part of the ledger the coordinator writes to.
type PositionUpdater interface {
	Cancel(ctx context.Context, id string) error
	MarkUnbalanced(ctx context.Context, id, note string) error
}

// Alerter is notified of every terminal execution except duplicates.
type Alerter interface {
	ExecutionResult(ctx context.Context, exec domain.TradeExecution)
}

// Deps are the collaborators of a Coordinator. Only Positions is required.
type Deps struct {
	Positions  PositionUpdater
	Connectors []domain.Connector
	Breaker    *resilience.CircuitBreaker
	Keys       *KeySet
	Store      domain.ExecutionStore
	Bus        domain.SignalBus
	Journal    *service.Journal
	Alerts     Alerter
}

// Coordinator turns approved risk decisions into paper or live trades.
// Execute is safe for concurrent use and always returns a terminal record.
type Coordinator struct {
	cfg        Config
	deps       Deps
	connectors map[string]domain.Connector
	breaker    *resilience.CircuitBreaker
	keys       *KeySet
	retrier    *resilience.Retrier
	paper      *paperFiller
	logger     *slog.Logger
	now        func() time.Time

	stats statsTracker

	mu     sync.Mutex
	recent []domain.TradeExecution
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config, deps Deps, logger *slog.Logger) *Coordinator {
	logger = logger.With(slog.String("component", "executor"))
	c := &Coordinator{
		cfg:        cfg,
		deps:       deps,
		connectors: make(map[string]domain.Connector, len(deps.Connectors)),
		breaker:    deps.Breaker,
		keys:       deps.Keys,
		retrier:    resilience.NewRetrier(cfg.Retry, logger, resilience.WithSeed(cfg.Seed)),
		paper:      newPaperFiller(cfg),
		logger:     logger,
		now:        time.Now,
	}
	for _, conn := range deps.Connectors {
		c.connectors[conn.Name()] = conn
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig("execution"), logger)
	}
	if c.keys == nil {
		c.keys = NewKeySet(nil, cfg.KeyTTL, logger)
	}
	return c
}

// Execute runs one execution under a key derived from the request.
func (c *Coordinator) Execute(ctx context.Context, signal domain.TradeSignal, risk domain.RiskDecision, signalTs time.Time) domain.TradeExecution {
	return c.ExecuteWithKey(ctx, DeriveKey(signal, risk, signalTs), signal, risk, signalTs)
}

// ExecuteWithKey runs one execution under an explicit idempotency key. A
// key that was already executed yields a REJECTED record with no side
// effects.
func (c *Coordinator) ExecuteWithKey(ctx context.Context, key string, signal domain.TradeSignal, risk domain.RiskDecision, signalTs time.Time) domain.TradeExecution {
	if key == "" {
		key = DeriveKey(signal, risk, signalTs)
	}
	start := c.now()
	exec := c.newRecord(key, signal, risk, signalTs, start)

	if err := validateShapes(signal, risk); err != nil {
		return c.reject(ctx, exec, risk, err.Error())
	}
	if c.keys.Seen(ctx, key) {
		return c.duplicate(ctx, exec)
	}
	if !signal.IsTrade() {
		return c.reject(ctx, exec, risk, "Strategy did not signal TRADE")
	}
	if err := risk.Err(); err != nil {
		return c.reject(ctx, exec, risk, err.Error())
	}
	if err := validateOrder(signal, risk); err != nil {
		return c.reject(ctx, exec, risk, err.Error())
	}
	if c.cfg.Mode == domain.ModeLive {
		for _, venue := range []string{signal.BuyVenue, signal.SellVenue} {
			if _, ok := c.connectors[venue]; !ok {
				return c.reject(ctx, exec, risk, fmt.Sprintf("%s: %s", domain.ErrNoConnector, venue))
			}
		}
	}
	if !c.keys.Claim(ctx, key) {
		return c.duplicate(ctx, exec)
	}
	if err := c.breaker.Check(); err != nil {
		return c.reject(ctx, exec, risk, err.Error())
	}

	dispatchStart := c.now()
	var (
		buy, sell domain.ExecutionLeg
		simulated time.Duration
		err       error
	)
	if c.cfg.Mode == domain.ModePaper {
		buy, sell, simulated = c.paper.fill(exec)
	} else {
		buy, sell, err = c.placeLegs(ctx, exec)
	}
	exec.Latency.Execution = c.now().Sub(dispatchStart) + simulated
	exec.Latency.Total = exec.Latency.Signal + exec.Latency.Execution
	exec.Legs = []domain.ExecutionLeg{buy, sell}

	c.settle(&exec, buy, sell, err)

	switch exec.Status {
	case domain.ExecFilled, domain.ExecPartial:
		c.breaker.RecordSuccess()
	default:
		c.breaker.RecordFailure()
	}
	c.updatePosition(ctx, exec, risk.PositionID)
	return c.finish(ctx, exec, false)
}

func (c *Coordinator) newRecord(key string, signal domain.TradeSignal, risk domain.RiskDecision, signalTs, start time.Time) domain.TradeExecution {
	exec := domain.TradeExecution{
		ID:                 uuid.NewString(),
		IdempotencyKey:     key,
		Mode:               c.cfg.Mode,
		Status:             domain.ExecPending,
		Symbol:             signal.Symbol,
		PositionID:         risk.PositionID,
		BuyVenue:           signal.BuyVenue,
		SellVenue:          signal.SellVenue,
		BuyPrice:           signal.BuyPrice,
		SellPrice:          signal.SellPrice,
		Quantity:           risk.PositionSize,
		AllocationNotional: risk.AllocationNotional,
		SpreadPct:          signal.SpreadPct,
		RiskDecision:       risk.Decision,
		CreatedAt:          start.UTC(),
	}
	if !signalTs.IsZero() && start.After(signalTs) {
		exec.Latency.Signal = start.Sub(signalTs)
	}
	if !risk.AssessedAt.IsZero() && !signal.CreatedAt.IsZero() && risk.AssessedAt.After(signal.CreatedAt) {
		exec.Latency.Risk = risk.AssessedAt.Sub(signal.CreatedAt)
	}
	exec.Latency.Total = exec.Latency.Signal
	return exec
}

// settle derives the terminal status and P&L from the legs.
func (c *Coordinator) settle(exec *domain.TradeExecution, buy, sell domain.ExecutionLeg, err error) {
	buyOK := buy.Status == domain.LegFilled
	sellOK := sell.Status == domain.LegFilled

	switch {
	case buyOK && sellOK:
		exec.FillBuyPrice = decimal.NewNullDecimal(buy.FilledPrice)
		exec.FillSellPrice = decimal.NewNullDecimal(sell.FilledPrice)
		exec.Fees = buy.Fee.Add(sell.Fee)
		gross := sell.FilledPrice.Mul(sell.Quantity).Sub(buy.FilledPrice.Mul(buy.Quantity))
		exec.NetPnL = decimal.NewNullDecimal(gross.Sub(exec.Fees))
		exec.Status = domain.ExecFilled
		if buy.Quantity.LessThan(exec.Quantity) || sell.Quantity.LessThan(exec.Quantity) {
			exec.Status = domain.ExecPartial
		}
		if !buy.Quantity.Equal(sell.Quantity) {
			exec.Unbalanced = true
			exec.ErrorMessage = fmt.Sprintf("leg quantities differ: bought %s, sold %s", buy.Quantity, sell.Quantity)
		}
	case buyOK || sellOK:
		completed, failed := buy, sell
		if sellOK {
			completed, failed = sell, buy
		}
		if err == nil {
			err = errors.New(failed.Error)
		}
		pf := &domain.PartialExecutionFailure{Completed: completed, Failed: failed, Err: err}
		exec.Status = domain.ExecFailed
		exec.Unbalanced = true
		exec.Fees = completed.Fee
		if completed.Side == domain.OrderSideBuy {
			exec.FillBuyPrice = decimal.NewNullDecimal(completed.FilledPrice)
		} else {
			exec.FillSellPrice = decimal.NewNullDecimal(completed.FilledPrice)
		}
		exec.ErrorMessage = pf.Error()
	default:
		exec.Status = domain.ExecFailed
		if err != nil {
			exec.ErrorMessage = err.Error()
		} else {
			exec.ErrorMessage = "no leg filled"
		}
	}
}

func (c *Coordinator) updatePosition(ctx context.Context, exec domain.TradeExecution, positionID string) {
	if positionID == "" || c.deps.Positions == nil {
		return
	}
	var err error
	switch {
	case exec.Unbalanced:
		err = c.deps.Positions.MarkUnbalanced(ctx, positionID, "reconciliation required: "+exec.ErrorMessage)
	case exec.Status == domain.ExecFailed || exec.Status == domain.ExecRejected:
		err = c.deps.Positions.Cancel(ctx, positionID)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "executor: position update failed",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
	}
}

// reject ends a request before any order is sent. A position opened for
// it by the risk engine is cancelled.
func (c *Coordinator) reject(ctx context.Context, exec domain.TradeExecution, risk domain.RiskDecision, reason string) domain.TradeExecution {
	exec.Status = domain.ExecRejected
	exec.ErrorMessage = reason
	if risk.Approved() {
		c.updatePosition(ctx, exec, risk.PositionID)
	}
	return c.finish(ctx, exec, false)
}

func (c *Coordinator) duplicate(ctx context.Context, exec domain.TradeExecution) domain.TradeExecution {
	exec.Status = domain.ExecRejected
	exec.ErrorMessage = domain.ErrAlreadyExecuted.Error()
	return c.finish(ctx, exec, true)
}

func (c *Coordinator) finish(ctx context.Context, exec domain.TradeExecution, duplicate bool) domain.TradeExecution {
	c.stats.record(exec, duplicate)
	metrics.ExecutionsTotal.WithLabelValues(string(exec.Mode), string(exec.Status)).Inc()
	if exec.Status != domain.ExecRejected {
		metrics.ExecutionLatency.Observe(exec.Latency.Total.Seconds())
	}

	c.mu.Lock()
	c.recent = append(c.recent, exec)
	if len(c.recent) > recentSize {
		c.recent = c.recent[len(c.recent)-recentSize:]
	}
	c.mu.Unlock()

	attrs := []any{
		slog.String("execution_id", exec.ID),
		slog.String("key", exec.IdempotencyKey),
		slog.String("mode", string(exec.Mode)),
		slog.String("status", string(exec.Status)),
		slog.String("symbol", exec.Symbol),
		slog.Duration("latency", exec.Latency.Total),
	}
	switch exec.Status {
	case domain.ExecFilled, domain.ExecPartial:
		c.logger.InfoContext(ctx, "executor: trade executed", append(attrs,
			slog.String("net_pnl", exec.NetPnL.Decimal.String()),
			slog.String("fees", exec.Fees.String()))...)
	case domain.ExecFailed:
		c.logger.ErrorContext(ctx, "executor: trade failed", append(attrs,
			slog.Bool("unbalanced", exec.Unbalanced),
			slog.String("error", exec.ErrorMessage))...)
	default:
		c.logger.WarnContext(ctx, "executor: trade rejected", append(attrs,
			slog.String("reason", exec.ErrorMessage))...)
	}

	c.journal(exec)
	if c.deps.Alerts != nil && !duplicate {
		c.deps.Alerts.ExecutionResult(ctx, exec)
	}
	return exec
}

func (c *Coordinator) journal(exec domain.TradeExecution) {
	if c.deps.Journal == nil {
		return
	}
	if st := c.deps.Store; st != nil {
		c.deps.Journal.Submit("execution_create", func(ctx context.Context) error {
			return st.Create(ctx, exec)
		})
	}
	if bus := c.deps.Bus; bus != nil {
		payload, err := json.Marshal(exec)
		if err != nil {
			c.logger.Warn("executor: marshal execution failed", slog.String("error", err.Error()))
			return
		}
		c.deps.Journal.Submit("execution_publish", func(ctx context.Context) error {
			if err := bus.Publish(ctx, domain.ChannelExecutions, payload); err != nil {
				return err
			}
			return bus.StreamAppend(ctx, domain.StreamExecutions, payload)
		})
	}
}

// Stats returns the running aggregates.
func (c *Coordinator) Stats() domain.ExecutionStats { return c.stats.snapshot() }

// Recent returns up to limit of the latest records, newest first.
func (c *Coordinator) Recent(limit int) []domain.TradeExecution {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > len(c.recent) {
		limit = len(c.recent)
	}
	out := make([]domain.TradeExecution, 0, limit)
	for i := len(c.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.recent[i])
	}
	return out
}

// Breaker returns the execution circuit breaker.
func (c *Coordinator) Breaker() *resilience.CircuitBreaker { return c.breaker }

// Keys returns the idempotency key set.
func (c *Coordinator) Keys() *KeySet { return c.keys }

// Mode returns the execution mode.
func (c *Coordinator) Mode() domain.ExecMode { return c.cfg.Mode }

// RunMaintenance expires old idempotency keys until ctx is cancelled.
func (c *Coordinator) RunMaintenance(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.keys.Cleanup()
		}
	}
}
