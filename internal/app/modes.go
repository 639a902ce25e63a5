package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/server"
	"github.com/alanyoungcy/arbbot/internal/server/handler"
	"github.com/alanyoungcy/arbbot/internal/server/ws"
)

// refillDrainTimeout bounds how long once mode waits for queued top-ups.
const refillDrainTimeout = 2 * time.Minute

// CronMode runs scheduled cycles, the refill worker, the archiver and, when
// enabled, the operator API.
func (a *App) CronMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting cron mode", slog.String("schedule", a.cfg.Automation.Schedule))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Refill.Run(ctx)
	})
	g.Go(func() error {
		return deps.Orchestrator.RunCron(ctx, a.cfg.Automation.Schedule)
	})
	a.startArchiver(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// ServerMode serves the operator API. Stages only run when an operator
// triggers them.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Refill.Run(ctx)
	})
	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// OnceMode runs one cycle, or the stage chosen with WithStage, and returns
// after the refill queue drains.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode", slog.String("stage", string(a.stage)))

	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = deps.Refill.Run(workerCtx)
	}()
	defer func() {
		stopWorker()
		<-workerDone
	}()

	log, err := deps.Orchestrator.RunStage(ctx, a.stage)
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}
	a.logger.InfoContext(ctx, "cycle finished",
		slog.String("cycle_id", log.ID),
		slog.String("status", string(log.Status)),
		slog.String("reason", log.Reason),
	)

	drainCtx, cancel := context.WithTimeout(ctx, refillDrainTimeout)
	defer cancel()
	if err := deps.Refill.Wait(drainCtx); err != nil {
		a.logger.WarnContext(ctx, "refill queue did not drain", slog.String("error", err.Error()))
	}

	if log.Status == domain.CycleFailed {
		return fmt.Errorf("once mode: cycle %s failed: %s", log.ID, log.Error)
	}
	return nil
}

// startArchiver adds the archive cron to g when archival is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	g.Go(func() error {
		return deps.Archiver.RunCron(ctx, a.cfg.Archive.Cron)
	})
}

// startHTTPServer adds the operator API and the WebSocket hub to g. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.Bus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:     handler.NewStatusHandler(a.cfg.Mode, a.cfg.ChainNames(), a.startedAt, deps.SettingsSvc, deps.AlertSvc, a.logger),
		Settings:   handler.NewSettingsHandler(deps.SettingsSvc, deps.Breaker, a.logger),
		Strategies: handler.NewStrategyHandler(deps.Strategies, deps.Audit, a.logger),
		Runs:       handler.NewRunHandler(deps.Runs, deps.Engine, a.logger),
		Alerts:     handler.NewAlertHandler(deps.AlertSvc, a.logger),
		FeePayers:  handler.NewFeePayerHandler(deps.FeePayerSvc, a.logger),
		Cycles:     handler.NewCycleHandler(deps.Cycles, deps.Orchestrator, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
