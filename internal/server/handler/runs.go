package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/executor"
)

// RunExecutor executes a single run.
type RunExecutor interface {
	Execute(ctx context.Context, runID string, opts executor.ExecuteOptions) (domain.Run, error)
}

// RunHandler serves run listings and manual execution.
type RunHandler struct {
	runs     domain.RunStore
	executor RunExecutor
	logger   *slog.Logger
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(runs domain.RunStore, exec RunExecutor, logger *slog.Logger) *RunHandler {
	return &RunHandler{runs: runs, executor: exec, logger: logHandler(logger, "runs")}
}

// executeResponse carries the finalized run. Error is set when execution
// failed after the run was claimed.
type executeResponse struct {
	Run   domain.Run `json:"run"`
	Error string     `json:"error,omitempty"`
}

// ListRuns returns runs newest first, filtered by strategy_id, status and
// decision.
// GET /api/runs
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	filter := domain.RunFilter{
		StrategyID: q.Get("strategy_id"),
		Status:     domain.RunStatus(q.Get("status")),
		Decision:   domain.Decision(q.Get("decision")),
	}
	runs, err := h.runs.List(r.Context(), filter, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": emptyIfNil(runs)})
}

// GetRun returns one run.
// GET /api/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ExecuteRun executes an approved or manual_only run. A run that is not
// executable answers 409. A run that was attempted and failed answers 200
// with the FAILED run and the cause.
// POST /api/runs/{id}/execute
func (h *RunHandler) ExecuteRun(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	before, err := h.runs.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get run", err)
		return
	}
	h.logger.InfoContext(r.Context(), "manual execution requested", slog.String("run_id", id))

	run, err := h.executor.Execute(r.Context(), id, executor.ExecuteOptions{Manual: true})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, executeResponse{Run: run})
	case before.Status == domain.RunSimulated && run.Status == domain.RunFailed:
		writeJSON(w, http.StatusOK, executeResponse{Run: run, Error: err.Error()})
	default:
		writeServiceError(w, r, h.logger, "execute run", err)
	}
}
