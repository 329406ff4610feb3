package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// Archiver copies execution and position history older than the retention
// window to cold storage.
type Archiver struct {
	blob          domain.Archiver
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates an Archiver. retentionDays below 1 is treated as 1.
func NewArchiver(blob domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	if retentionDays < 1 {
		retentionDays = 1
	}
	return &Archiver{
		blob:          blob,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run performs one archive pass with the cutoff at midnight UTC,
// retentionDays ago.
func (a *Archiver) Run(ctx context.Context) error {
	today := a.now().UTC().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -a.retentionDays)

	execs, err := a.blob.ArchiveExecutions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving executions before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	positions, err := a.blob.ArchivePositions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving positions before %s: %w", cutoff.Format(time.DateOnly), err)
	}

	a.logger.InfoContext(ctx, "archiver: run complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("executions", execs),
		slog.Int64("positions", positions),
	)
	return nil
}

// RunCron runs the archiver on a 5-field cron schedule (UTC) until ctx is
// cancelled. Failed runs are logged and retried at the next trigger.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	return runCron(ctx, expr, a.logger, "archive", a.Run)
}

// runCron calls fn at every trigger of expr until ctx is cancelled.
func runCron(ctx context.Context, expr string, logger *slog.Logger, name string, fn func(context.Context) error) error {
	if err := ValidateCron(expr); err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	for {
		next, err := nextCronTime(expr, time.Now().UTC())
		if err != nil {
			return err
		}
		logger.DebugContext(ctx, "pipeline: waiting for cron trigger",
			slog.String("job", name),
			slog.Time("next_run", next),
		)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := fn(ctx); err != nil {
				logger.ErrorContext(ctx, "pipeline: cron job failed",
					slog.String("job", name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
