package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// SettingsController defines the settings operations the handler needs.
type SettingsController interface {
	Get(ctx context.Context) (domain.Settings, error)
	SetAutomation(ctx context.Context, enabled bool, operator string) (domain.Settings, error)
	SetFlashLoans(ctx context.Context, enabled bool, operator string) (domain.Settings, error)
	ClearSafeMode(ctx context.Context, operator string) (domain.Settings, error)
}

// SafeModeTripper trips the circuit breaker and raises its alert.
type SafeModeTripper interface {
	Trip(ctx context.Context, reason string, detail map[string]any) error
}

// SettingsHandler serves global settings and safe mode endpoints.
type SettingsHandler struct {
	settings SettingsController
	breaker  SafeModeTripper
	logger   *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(settings SettingsController, breaker SafeModeTripper, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, breaker: breaker, logger: logHandler(logger, "settings")}
}

type toggleRequest struct {
	Enabled  *bool  `json:"enabled"`
	Operator string `json:"operator"`
}

type tripRequest struct {
	Reason   string `json:"reason"`
	Operator string `json:"operator"`
}

type clearRequest struct {
	Operator string `json:"operator"`
}

// GetSettings returns the current settings.
// GET /api/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// SetAutomation toggles unattended cycles.
// PUT /api/settings/automation
func (h *SettingsHandler) SetAutomation(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "set automation", h.settings.SetAutomation)
}

// SetFlashLoans toggles flash loan usage.
// PUT /api/settings/flash-loans
func (h *SettingsHandler) SetFlashLoans(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "set flash loans", h.settings.SetFlashLoans)
}

func (h *SettingsHandler) toggle(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	apply func(context.Context, bool, string) (domain.Settings, error),
) {
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	s, err := apply(r.Context(), *req.Enabled, operatorName(r, req.Operator))
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// TripSafeMode turns safe mode on by operator request.
// POST /api/safe-mode/trip
func (h *SettingsHandler) TripSafeMode(w http.ResponseWriter, r *http.Request) {
	var req tripRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual trip"
	}
	operator := operatorName(r, req.Operator)
	reason = fmt.Sprintf("%s (by %s)", reason, operator)

	if err := h.breaker.Trip(r.Context(), reason, map[string]any{"operator": operator}); err != nil {
		writeServiceError(w, r, h.logger, "trip safe mode", err)
		return
	}
	h.logger.WarnContext(r.Context(), "safe mode tripped by operator", slog.String("operator", operator))

	s, err := h.settings.Get(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ClearSafeMode acknowledges open alerts and clears safe mode.
// POST /api/safe-mode/clear
func (h *SettingsHandler) ClearSafeMode(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := h.settings.ClearSafeMode(r.Context(), operatorName(r, req.Operator))
	if err != nil {
		writeServiceError(w, r, h.logger, "clear safe mode", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
