package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// AlertManager defines the alert operations the handler needs.
type AlertManager interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Alert, error)
	ListOpen(ctx context.Context) ([]domain.Alert, error)
	AcknowledgeAll(ctx context.Context, operator string) (int, error)
}

// AlertHandler serves operator alerts.
type AlertHandler struct {
	alerts AlertManager
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(alerts AlertManager, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{alerts: alerts, logger: logHandler(logger, "alerts")}
}

// ListAlerts returns alerts newest first; ?open=true limits to the
// unacknowledged ones.
// GET /api/alerts
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	var (
		alerts []domain.Alert
		err    error
	)
	if r.URL.Query().Get("open") == "true" {
		alerts, err = h.alerts.ListOpen(r.Context())
	} else {
		var opts domain.ListOpts
		if opts, err = parseListOpts(r); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		alerts, err = h.alerts.List(r.Context(), opts)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": emptyIfNil(alerts)})
}

// AcknowledgeAlerts acknowledges every open alert. Safe mode stays on until
// it is cleared explicitly.
// POST /api/alerts/ack
func (h *AlertHandler) AcknowledgeAlerts(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := h.alerts.AcknowledgeAll(r.Context(), operatorName(r, req.Operator))
	if err != nil {
		writeServiceError(w, r, h.logger, "acknowledge alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"acknowledged": n})
}
