// Package server is the operator HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/server/handler"
	"github.com/alanyoungcy/arbbot/internal/server/middleware"
	"github.com/alanyoungcy/arbbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Settings   *handler.SettingsHandler
	Strategies *handler.StrategyHandler
	Runs       *handler.RunHandler
	Alerts     *handler.AlertHandler
	FeePayers  *handler.FeePayerHandler
	Cycles     *handler.CycleHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in auth, rate limit,
// logging and CORS middleware. wsHub and limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/settings", handlers.Settings.GetSettings)
	mux.HandleFunc("PUT /api/settings/automation", handlers.Settings.SetAutomation)
	mux.HandleFunc("PUT /api/settings/flash-loans", handlers.Settings.SetFlashLoans)
	mux.HandleFunc("POST /api/safe-mode/trip", handlers.Settings.TripSafeMode)
	mux.HandleFunc("POST /api/safe-mode/clear", handlers.Settings.ClearSafeMode)

	mux.HandleFunc("GET /api/strategies", handlers.Strategies.ListStrategies)
	mux.HandleFunc("GET /api/strategies/{id}", handlers.Strategies.GetStrategy)
	mux.HandleFunc("PUT /api/strategies/{id}", handlers.Strategies.PutStrategy)
	mux.HandleFunc("PUT /api/strategies/{id}/risk", handlers.Strategies.PutRiskLimits)
	mux.HandleFunc("PUT /api/strategies/{id}/enabled", handlers.Strategies.PutEnabled)

	mux.HandleFunc("GET /api/runs", handlers.Runs.ListRuns)
	mux.HandleFunc("GET /api/runs/{id}", handlers.Runs.GetRun)
	mux.HandleFunc("POST /api/runs/{id}/execute", handlers.Runs.ExecuteRun)

	mux.HandleFunc("GET /api/alerts", handlers.Alerts.ListAlerts)
	mux.HandleFunc("POST /api/alerts/ack", handlers.Alerts.AcknowledgeAlerts)

	mux.HandleFunc("GET /api/fee-payers", handlers.FeePayers.ListFeePayers)
	mux.HandleFunc("POST /api/fee-payers", handlers.FeePayers.RegisterFeePayer)
	mux.HandleFunc("POST /api/fee-payers/generate", handlers.FeePayers.GenerateFeePayers)
	mux.HandleFunc("POST /api/fee-payers/{id}/deactivate", handlers.FeePayers.DeactivateFeePayer)
	mux.HandleFunc("GET /api/top-ups", handlers.FeePayers.ListTopUps)

	mux.HandleFunc("GET /api/cycles", handlers.Cycles.ListCycles)
	mux.HandleFunc("POST /api/cycles/trigger", handlers.Cycles.TriggerCycle)
	mux.HandleFunc("POST /api/stages/{stage}", handlers.Cycles.RunStage)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
