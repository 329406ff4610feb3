package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
	"github.com/alanyoungcy/spreadbot/internal/service"
)

// RunnerConfig schedules the background loops.
type RunnerConfig struct {
	Symbols         []string
	PollInterval    time.Duration
	TriggerInterval time.Duration
	CycleLockTTL    time.Duration
	// Trading disables the decision cycle when false (monitor mode).
	Trading             bool
	ResetCron           string
	ArchiveCron         string
	MaintenanceInterval time.Duration
}

// PositionAlerter is told about positions closed by the trigger scan.
type PositionAlerter interface {
	PositionClosed(c domain.ClosedPosition)
}

// RunnerDeps are the collaborators of a Runner. Locks, Alerts and
// Archiver may be nil.
type RunnerDeps struct {
	Core     *Core
	Quotes   domain.QuoteSource
	Ledger   *service.PositionLedger
	Locks    domain.LockManager
	Alerts   PositionAlerter
	Archiver *Archiver
}

// Runner drives the decision cycle, the stop-loss scan, the daily reset
// and the archive cron.
type Runner struct {
	cfg    RunnerConfig
	deps   RunnerDeps
	logger *slog.Logger
}

// NewRunner fills in defaults: 1s poll, 1s trigger scan, reset at 00:00 UTC.
func NewRunner(cfg RunnerConfig, deps RunnerDeps, logger *slog.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.TriggerInterval <= 0 {
		cfg.TriggerInterval = time.Second
	}
	if cfg.CycleLockTTL <= 0 {
		cfg.CycleLockTTL = 30 * time.Second
	}
	if cfg.ResetCron == "" {
		cfg.ResetCron = "0 0 * * *"
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = time.Minute
	}
	return &Runner{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "runner")),
	}
}

// Run starts every loop and blocks until ctx is cancelled or one fails.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "runner: starting",
		slog.Any("symbols", r.cfg.Symbols),
		slog.Bool("trading", r.cfg.Trading),
		slog.Duration("poll_interval", r.cfg.PollInterval),
	)

	g, ctx := errgroup.WithContext(ctx)
	if r.cfg.Trading {
		g.Go(func() error { return clean(ctx, "trading loop", r.tradingLoop(ctx)) })
	}
	g.Go(func() error { return clean(ctx, "trigger scan", r.triggerLoop(ctx)) })
	g.Go(func() error {
		return clean(ctx, "daily reset", runCron(ctx, r.cfg.ResetCron, r.logger, "daily_reset", func(ctx context.Context) error {
			r.deps.Core.Risk().ResetDaily(ctx)
			return nil
		}))
	})
	g.Go(func() error {
		return clean(ctx, "maintenance", r.deps.Core.Executor().RunMaintenance(ctx, r.cfg.MaintenanceInterval))
	})
	if r.deps.Archiver != nil && r.cfg.ArchiveCron != "" {
		g.Go(func() error { return clean(ctx, "archiver", r.deps.Archiver.RunCron(ctx, r.cfg.ArchiveCron)) })
	}

	err := g.Wait()
	if err != nil {
		r.logger.Error("runner: stopped with error", slog.String("error", err.Error()))
		return err
	}
	r.logger.Info("runner: stopped")
	return nil
}

// clean treats an error after cancellation as a clean shutdown.
func clean(ctx context.Context, name string, err error) error {
	if err == nil || ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (r *Runner) tradingLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, symbol := range r.cfg.Symbols {
				if _, err := r.RunCycle(ctx, symbol); err != nil {
					r.logger.WarnContext(ctx, "runner: cycle failed",
						slog.String("symbol", symbol),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// RunCycle evaluates, assesses and executes once for symbol under the
// cycle:<symbol> lock. Every TRADE signal reaches the coordinator, so a
// risk rejection still yields a REJECTED record. A cycle already running
// elsewhere is skipped without error.
func (r *Runner) RunCycle(ctx context.Context, symbol string) (*domain.TradeExecution, error) {
	if r.deps.Locks != nil {
		unlock, err := r.deps.Locks.Acquire(ctx, "cycle:"+symbol, r.cfg.CycleLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, nil
		}
		if err != nil {
			metrics.CycleErrorsTotal.WithLabelValues("lock").Inc()
			return nil, fmt.Errorf("acquire cycle lock: %w", err)
		}
		defer unlock()
	}

	quotes, err := r.deps.Quotes.Quotes(ctx, symbol)
	if err != nil {
		metrics.CycleErrorsTotal.WithLabelValues("quotes").Inc()
		return nil, err
	}

	core := r.deps.Core
	signal := core.Evaluate(quotes)
	if !signal.IsTrade() {
		return nil, nil
	}
	decision := core.Assess(ctx, signal, signal.BuyPrice)
	exec := core.Execute(ctx, signal, decision, signal.CreatedAt)
	return &exec, nil
}

func (r *Runner) triggerLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.TriggerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.ScanTriggers(ctx)
		}
	}
}

// ScanTriggers closes positions whose venue price crossed a stop-loss or
// take-profit, one symbol at a time.
func (r *Runner) ScanTriggers(ctx context.Context) []domain.ClosedPosition {
	symbols := make(map[string]bool)
	for _, s := range r.cfg.Symbols {
		symbols[s] = true
	}
	for _, p := range r.deps.Ledger.Positions(domain.PositionStatusOpen) {
		symbols[p.Symbol] = true
	}

	var all []domain.ClosedPosition
	for symbol := range symbols {
		quotes, err := r.deps.Quotes.Quotes(ctx, symbol)
		if err != nil {
			metrics.CycleErrorsTotal.WithLabelValues("trigger_quotes").Inc()
			r.logger.WarnContext(ctx, "runner: trigger scan quotes failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		prices := make(map[string]decimal.Decimal, len(quotes))
		for _, q := range quotes {
			prices[q.Venue] = q.Price
		}
		closed := r.deps.Ledger.CheckSymbolTriggers(ctx, symbol, prices)
		for _, c := range closed {
			if r.deps.Alerts != nil {
				r.deps.Alerts.PositionClosed(c)
			}
		}
		all = append(all, closed...)
	}
	return all
}
