package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// StageRunner runs one pipeline stage, or a whole cycle, on demand, and
// hands cycles to the cron loop.
type StageRunner interface {
	RunStage(ctx context.Context, stage domain.Stage) (domain.CycleLog, error)
	TriggerCycle() (queued bool, err error)
}

// CycleHandler serves cycle logs and manual stage triggers.
type CycleHandler struct {
	cycles domain.CycleLogStore
	stages StageRunner
	logger *slog.Logger
}

// NewCycleHandler creates a CycleHandler.
func NewCycleHandler(cycles domain.CycleLogStore, stages StageRunner, logger *slog.Logger) *CycleHandler {
	return &CycleHandler{cycles: cycles, stages: stages, logger: logHandler(logger, "cycles")}
}

// ListCycles returns cycle logs newest first.
// GET /api/cycles
func (h *CycleHandler) ListCycles(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := h.cycles.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list cycles", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": emptyIfNil(logs)})
}

// RunStage runs one stage synchronously and returns its cycle log. A stage
// blocked by a running cycle comes back as a skipped log.
// POST /api/stages/{stage}
func (h *CycleHandler) RunStage(w http.ResponseWriter, r *http.Request) {
	stage, ok := domain.ParseStage(pathParam(r, "stage"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown stage %q", pathParam(r, "stage")))
		return
	}
	h.logger.InfoContext(r.Context(), "manual stage requested", slog.String("stage", string(stage)))

	log, err := h.stages.RunStage(r.Context(), stage)
	if err != nil {
		writeServiceError(w, r, h.logger, "run stage", err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}

// TriggerCycle queues an immediate cycle on the cron loop and returns
// without waiting for it. The cycle shows up in /api/cycles with trigger
// "manual".
// POST /api/cycles/trigger
func (h *CycleHandler) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	queued, err := h.stages.TriggerCycle()
	if err != nil {
		writeServiceError(w, r, h.logger, "trigger cycle", err)
		return
	}
	h.logger.InfoContext(r.Context(), "cycle trigger requested", slog.Bool("queued", queued))
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}
