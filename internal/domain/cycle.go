package domain

import "time"

// Stage names a pipeline stage.
type Stage string

const (
	StageScan    Stage = "scan"
	StageDecide  Stage = "decide"
	StageExecute Stage = "execute"
	StageWallets Stage = "wallets"
	StageCycle   Stage = "cycle"
)

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, bool) {
	switch st := Stage(s); st {
	case StageScan, StageDecide, StageExecute, StageWallets, StageCycle:
		return st, true
	}
	return "", false
}

// CycleStatus summarizes one orchestrator run.
type CycleStatus string

const (
	CycleSuccess CycleStatus = "success"
	CyclePartial CycleStatus = "partial"
	CycleFailed  CycleStatus = "failed"
	CycleSkipped CycleStatus = "skipped"
)

// CycleTrigger records what started a cycle.
type CycleTrigger string

const (
	TriggerScheduled CycleTrigger = "scheduled"
	TriggerManual    CycleTrigger = "manual"
)

// StageResult is the outcome of one stage.
type StageResult struct {
	Stage      Stage          `json:"stage"`
	Attempted  int            `json:"attempted"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	SkipReason string         `json:"skip_reason,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	Err        string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// AddError records a per-item failure.
func (r *StageResult) AddError(err error) {
	r.Failed++
	r.Errors = append(r.Errors, err.Error())
}

// SetDetail stores a detail value.
func (r *StageResult) SetDetail(key string, v any) {
	if r.Detail == nil {
		r.Detail = make(map[string]any)
	}
	r.Detail[key] = v
}

// CycleLog is the append-only record of one orchestrator run.
type CycleLog struct {
	ID         string        `json:"id"`
	Trigger    CycleTrigger  `json:"trigger"`
	Status     CycleStatus   `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	Stages     []StageResult `json:"stages"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}
