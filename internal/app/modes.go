package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/spreadbot/internal/metrics"
	"github.com/alanyoungcy/spreadbot/internal/pipeline"
	"github.com/alanyoungcy/spreadbot/internal/server"
	"github.com/alanyoungcy/spreadbot/internal/server/handler"
	"github.com/alanyoungcy/spreadbot/internal/server/ws"
)

// TradeMode runs the decision cycle, the trigger scan, alert delivery and
// the API. Paper and live differ only in how the coordinator fills legs.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.run(ctx, deps, true)
}

// MonitorMode keeps the trigger scan, the daily reset and the API running
// but never opens positions.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.run(ctx, deps, false)
}

func (a *App) run(ctx context.Context, deps *Dependencies, trading bool) error {
	comps, err := Build(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return err
	}
	// Runs after every goroutine below has returned, so queued writes drain.
	defer comps.Journal.Close()

	g, ctx := errgroup.WithContext(ctx)

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Symbols:             a.cfg.Trading.Symbols,
		PollInterval:        a.cfg.Trading.PollInterval.Duration,
		TriggerInterval:     a.cfg.Trading.TriggerInterval.Duration,
		CycleLockTTL:        a.cfg.Trading.CycleLockTTL.Duration,
		Trading:             trading,
		ResetCron:           a.cfg.Trading.ResetCron,
		ArchiveCron:         a.cfg.Archive.Cron,
		MaintenanceInterval: a.cfg.Execution.MaintenanceInterval.Duration,
	}, pipeline.RunnerDeps{
		Core:     comps.Core,
		Quotes:   comps.Quotes,
		Ledger:   comps.Ledger,
		Locks:    deps.LockManager,
		Alerts:   comps.Alerts,
		Archiver: comps.Archiver,
	}, a.logger)

	g.Go(func() error { return runner.Run(ctx) })
	g.Go(func() error { return ignoreCancel(comps.Alerts.Run(ctx)) })

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.SignalBus, comps.statusSnapshot, a.cfg.Server.CORSOrigins, a.logger)
		srv := a.newServer(deps, comps, hub, trading)
		g.Go(func() error { return ignoreCancel(hub.Run(ctx)) })
		g.Go(func() error { return srv.Run(ctx) })
	}

	a.logger.InfoContext(ctx, "app: running",
		slog.String("exec_mode", string(comps.Executor.Mode())),
		slog.Bool("trading", trading),
		slog.Bool("server", a.cfg.Server.Enabled),
	)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

func (a *App) newServer(deps *Dependencies, comps *Components, hub *ws.Hub, trading bool) *server.Server {
	var metricsHandler http.Handler
	if a.cfg.Metrics.Enabled {
		metricsHandler = metrics.Handler(nil)
	}
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(string(comps.Executor.Mode()), deps.Checks, a.logger),
		Stats:     handler.NewStatsHandler(comps.Risk, comps.Ledger, comps.Executor, comps.Breaker),
		Positions: handler.NewPositionHandler(comps.Ledger, a.logger),
		Trading: handler.NewTradingHandler(handler.TradingDeps{
			Trader:  comps.Core,
			Risk:    comps.Risk,
			Cache:   deps.QuoteCache,
			Quotes:  comps.Quotes,
			Trading: trading,
		}, a.logger),
		Metrics: metricsHandler,
	}
	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
