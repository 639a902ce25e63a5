package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// StrategyHandler serves strategy CRUD endpoints.
type StrategyHandler struct {
	strategies domain.StrategyStore
	audit      domain.AuditStore
	logger     *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler. audit may be nil.
func NewStrategyHandler(strategies domain.StrategyStore, audit domain.AuditStore, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{strategies: strategies, audit: audit, logger: logHandler(logger, "strategies")}
}

type enabledRequest struct {
	Enabled     *bool `json:"enabled"`
	AutoEnabled *bool `json:"auto_enabled"`
}

// ListStrategies returns every strategy.
// GET /api/strategies
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	list, err := h.strategies.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list strategies", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": emptyIfNil(list)})
}

// GetStrategy returns one strategy.
// GET /api/strategies/{id}
func (h *StrategyHandler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	s, err := h.strategies.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get strategy", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// PutStrategy creates or replaces a strategy. The path id wins over the
// body.
// PUT /api/strategies/{id}
func (h *StrategyHandler) PutStrategy(w http.ResponseWriter, r *http.Request) {
	var s domain.Strategy
	if err := decodeJSON(r, &s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.ID = pathParam(r, "id")
	if err := s.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.strategies.Upsert(r.Context(), s); err != nil {
		writeServiceError(w, r, h.logger, "upsert strategy", err)
		return
	}
	h.auditLog(r, "strategy.upsert", map[string]any{"strategy_id": s.ID, "operator": operatorName(r, "")})
	h.respondWith(w, r, s.ID)
}

// PutRiskLimits replaces the risk limits of a strategy.
// PUT /api/strategies/{id}/risk
func (h *StrategyHandler) PutRiskLimits(w http.ResponseWriter, r *http.Request) {
	var limits domain.RiskLimits
	if err := decodeJSON(r, &limits); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := limits.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := pathParam(r, "id")
	if err := h.strategies.UpdateRiskLimits(r.Context(), id, limits); err != nil {
		writeServiceError(w, r, h.logger, "update risk limits", err)
		return
	}
	h.auditLog(r, "strategy.risk", map[string]any{"strategy_id": id, "operator": operatorName(r, "")})
	h.respondWith(w, r, id)
}

// PutEnabled switches a strategy and its auto-execution on or off. A field
// left out keeps its current value.
// PUT /api/strategies/{id}/enabled
func (h *StrategyHandler) PutEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil && req.AutoEnabled == nil {
		writeError(w, http.StatusBadRequest, "enabled or auto_enabled is required")
		return
	}
	id := pathParam(r, "id")
	cur, err := h.strategies.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get strategy", err)
		return
	}
	enabled, auto := cur.Enabled, cur.AutoEnabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	if req.AutoEnabled != nil {
		auto = *req.AutoEnabled
	}
	if err := h.strategies.SetEnabled(r.Context(), id, enabled, auto); err != nil {
		writeServiceError(w, r, h.logger, "set enabled", err)
		return
	}
	h.auditLog(r, "strategy.enabled", map[string]any{
		"strategy_id":  id,
		"enabled":      enabled,
		"auto_enabled": auto,
		"operator":     operatorName(r, ""),
	})
	h.respondWith(w, r, id)
}

func (h *StrategyHandler) respondWith(w http.ResponseWriter, r *http.Request, id string) {
	s, err := h.strategies.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get strategy", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *StrategyHandler) auditLog(r *http.Request, event string, detail map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(r.Context(), event, detail); err != nil {
		h.logger.WarnContext(r.Context(), "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
