package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// StatusSource supplies what the status endpoint reports.
type StatusSource interface {
	Get(ctx context.Context) (domain.Settings, error)
}

// OpenAlertLister counts outstanding alerts.
type OpenAlertLister interface {
	ListOpen(ctx context.Context) ([]domain.Alert, error)
}

// StatusHandler serves the backend status for the dashboard.
type StatusHandler struct {
	mode      string
	chains    []string
	startedAt time.Time
	settings  StatusSource
	alerts    OpenAlertLister
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, chains []string, startedAt time.Time, settings StatusSource, alerts OpenAlertLister, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		chains:    chains,
		startedAt: startedAt,
		settings:  settings,
		alerts:    alerts,
		logger:    logHandler(logger, "status"),
	}
}

// GetStatus responds with the run mode, configured chains, the settings
// snapshot and the number of open alerts.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get status", err)
		return
	}
	open, err := h.alerts.ListOpen(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"chains":         emptyIfNil(h.chains),
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"settings":       settings,
		"open_alerts":    len(open),
	})
}
