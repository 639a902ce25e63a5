package domain

import (
	"context"
	"math/big"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// StrategyStore persists operator-defined strategies.
type StrategyStore interface {
	Get(ctx context.Context, id string) (Strategy, error)
	List(ctx context.Context) ([]Strategy, error)
	Upsert(ctx context.Context, s Strategy) error
	UpdateRiskLimits(ctx context.Context, id string, limits RiskLimits) error
	SetEnabled(ctx context.Context, id string, enabled, autoEnabled bool) error
}

// RunStore persists runs. Decisions and finalization are conditional
// updates: MarkDecision only applies to pending runs and Finalize only to
// SIMULATED runs, returning ErrConflict otherwise.
type RunStore interface {
	Create(ctx context.Context, run Run) error
	Get(ctx context.Context, id string) (Run, error)
	ListPendingDecision(ctx context.Context) ([]Run, error)
	ListApproved(ctx context.Context, autoOnly bool) ([]Run, error)
	// CountApprovedPending counts approved, not yet finalized runs created
	// since the given time. An empty strategyID counts all strategies.
	CountApprovedPending(ctx context.Context, strategyID string, since time.Time) (int, error)
	MarkDecision(ctx context.Context, id string, decision Decision, reason string, auto bool, at time.Time) error
	Finalize(ctx context.Context, id string, f RunFinalization) error
	List(ctx context.Context, filter RunFilter, opts ListOpts) ([]Run, error)
}

// RiskLedgerStore persists daily risk ledgers. Record is an atomic
// increment of one trade and its realized PnL.
type RiskLedgerStore interface {
	Get(ctx context.Context, strategyID string, chain Chain, day time.Time) (DailyRiskLedger, error)
	Record(ctx context.Context, strategyID string, chain Chain, day time.Time, pnl *big.Int) (DailyRiskLedger, error)
	Totals(ctx context.Context, day time.Time) (DailyTotals, error)
}

// FeePayerStore persists the fee payer fleet.
type FeePayerStore interface {
	Create(ctx context.Context, fp FeePayer) error
	Get(ctx context.Context, id string) (FeePayer, error)
	List(ctx context.Context, filter FeePayerFilter) ([]FeePayer, error)
	UpdateBalance(ctx context.Context, id string, balance *big.Int, at time.Time) error
	MarkUsed(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
}

// TopUpStore logs funding transfers.
type TopUpStore interface {
	Record(ctx context.Context, t TopUp) error
	List(ctx context.Context, opts ListOpts) ([]TopUp, error)
}

// SettingsStore persists the global settings row. Update applies only when
// the stored version equals expectedVersion and returns ErrConflict
// otherwise.
type SettingsStore interface {
	Get(ctx context.Context) (Settings, error)
	Init(ctx context.Context, defaults Settings) error
	Update(ctx context.Context, expectedVersion int64, s Settings) (Settings, error)
}

// CycleLogStore persists orchestrator cycle logs.
type CycleLogStore interface {
	Insert(ctx context.Context, log CycleLog) error
	List(ctx context.Context, opts ListOpts) ([]CycleLog, error)
}

// AlertStore persists operator alerts.
type AlertStore interface {
	Create(ctx context.Context, a Alert) error
	ListOpen(ctx context.Context) ([]Alert, error)
	List(ctx context.Context, opts ListOpts) ([]Alert, error)
	AcknowledgeAll(ctx context.Context, by string, at time.Time) (int, error)
}

// AuditEntry is a single audit log row. Actor is the operator named in the
// detail, or "system" for unattended changes.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Actor     string         `json:"actor"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditActor extracts the actor of an audit detail.
func AuditActor(detail map[string]any) string {
	if op, ok := detail["operator"].(string); ok && op != "" {
		return op
	}
	return "system"
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
