package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Archiver moves old runs and cycle logs to cold storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Run archives everything older than the retention window.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().AddDate(0, 0, -a.retentionDays)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	runs, err := a.blobArchiver.ArchiveRuns(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive runs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	cycles, err := a.blobArchiver.ArchiveCycles(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive cycles before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("runs_archived", runs),
		slog.Int64("cycles_archived", cycles),
	)
	return nil
}

// RunCron runs the archiver on schedule until ctx is cancelled. Example:
// "0 3 1 * *" runs at 03:00 on the first of every month.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", expr))

	for {
		next := sched.Next(a.now())
		if next.IsZero() {
			return fmt.Errorf("pipeline: schedule %q never fires", expr)
		}
		wait := time.Until(next)
		a.logger.DebugContext(ctx, "archiver waiting for next trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.InfoContext(ctx, "archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
