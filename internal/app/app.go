// Package app owns the arbbot lifecycle. It wires stores, chains, services
// and the pipeline together and starts the goroutines of the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/arbbot/internal/config"
	"github.com/alanyoungcy/arbbot/internal/domain"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	stage     domain.Stage
	startedAt time.Time
	closers   []func()
}

// Option customizes an App.
type Option func(*App)

// WithStage makes once mode run a single stage instead of a full cycle.
func WithStage(stage domain.Stage) Option {
	return func(a *App) { a.stage = stage }
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *App {
	a := &App{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "app")),
		stage:     domain.StageCycle,
		startedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run wires all dependencies, starts the configured mode and blocks until
// it finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Any("chains", a.cfg.ChainNames()),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "cron":
		return a.CronMode(ctx, deps)
	case "server":
		return a.ServerMode(ctx, deps)
	case "once":
		return a.OnceMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
