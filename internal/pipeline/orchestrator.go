// Package pipeline drives the automation cycle (scan, decide, execute,
// wallets) on a cron schedule and archives old records to cold storage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/service"
)

// cycleLockKey serializes cycles and manual stage runs across processes.
const cycleLockKey = "cycle"

const defaultCycleLockTTL = 10 * time.Minute

// Scanner prices enabled strategies into runs.
type Scanner interface {
	ScanAll(ctx context.Context, settings domain.Settings) (domain.StageResult, error)
}

// Decider approves or rejects pending runs.
type Decider interface {
	DecidePending(ctx context.Context, settings domain.Settings) (domain.StageResult, error)
}

// Executor executes auto-approved runs.
type Executor interface {
	ExecuteApproved(ctx context.Context) (domain.StageResult, error)
}

// WalletKeeper keeps fee payers funded.
type WalletKeeper interface {
	CheckAndTopUp(ctx context.Context, source domain.FundingSource) (domain.StageResult, error)
}

// SettingsReader returns the current global settings.
type SettingsReader interface {
	Get(ctx context.Context) (domain.Settings, error)
}

// OrchestratorConfig tunes the orchestrator.
type OrchestratorConfig struct {
	// LockTTL bounds how long a crashed cycle can block the next one.
	LockTTL time.Duration
}

// Orchestrator is the sole unattended entry point of the pipeline.
type Orchestrator struct {
	scanner  Scanner
	decider  Decider
	executor Executor
	wallets  WalletKeeper
	settings SettingsReader
	cycles   domain.CycleLogStore
	locks    domain.LockManager
	bus      domain.SignalBus
	cfg      OrchestratorConfig
	logger   *slog.Logger

	trigger chan struct{}
	// cronActive is set while a RunCron loop consumes trigger.
	cronActive atomic.Bool
	now        func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	scanner Scanner,
	decider Decider,
	executor Executor,
	wallets WalletKeeper,
	settings SettingsReader,
	cycles domain.CycleLogStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultCycleLockTTL
	}
	return &Orchestrator{
		scanner:  scanner,
		decider:  decider,
		executor: executor,
		wallets:  wallets,
		settings: settings,
		cycles:   cycles,
		locks:    locks,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "orchestrator")),
		trigger:  make(chan struct{}, 1),
		now:      time.Now,
	}
}

// RunCycle runs one full cycle and stores its log. Stage failures are part
// of the log, not of the returned error, which only reports a failure to
// store the log.
func (o *Orchestrator) RunCycle(ctx context.Context, trigger domain.CycleTrigger) (domain.CycleLog, error) {
	log := o.newLog(trigger)

	unlock, err := o.locks.Acquire(ctx, cycleLockKey, o.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return o.finish(ctx, log, domain.CycleSkipped, "previous cycle still running")
		}
		log.Error = err.Error()
		return o.finish(ctx, log, domain.CycleFailed, "cycle lock unavailable")
	}
	defer unlock()

	settings, err := o.settings.Get(ctx)
	if err != nil {
		log.Error = err.Error()
		return o.finish(ctx, log, domain.CycleFailed, "settings unavailable")
	}
	if !settings.AutomationEnabled {
		return o.finish(ctx, log, domain.CycleSkipped, "automation disabled")
	}

	for _, stage := range []domain.Stage{domain.StageScan, domain.StageDecide, domain.StageExecute, domain.StageWallets} {
		if ctx.Err() != nil {
			break
		}
		res := o.runStage(ctx, stage, settings)
		log.Stages = append(log.Stages, res)
	}
	status, reason := settle(ctx, log.Stages)
	return o.finish(ctx, log, status, reason)
}

// RunStage runs a single stage on operator request. "cycle" runs a full
// cycle. Other stages still take the cycle lock but ignore the automation
// switch.
func (o *Orchestrator) RunStage(ctx context.Context, stage domain.Stage) (domain.CycleLog, error) {
	if stage == domain.StageCycle {
		return o.RunCycle(ctx, domain.TriggerManual)
	}
	if _, ok := domain.ParseStage(string(stage)); !ok {
		return domain.CycleLog{}, fmt.Errorf("pipeline: unknown stage %q: %w", stage, domain.ErrInvalidInput)
	}

	log := o.newLog(domain.TriggerManual)
	unlock, err := o.locks.Acquire(ctx, cycleLockKey, o.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return o.finish(ctx, log, domain.CycleSkipped, "previous cycle still running")
		}
		log.Error = err.Error()
		return o.finish(ctx, log, domain.CycleFailed, "cycle lock unavailable")
	}
	defer unlock()

	settings, err := o.settings.Get(ctx)
	if err != nil {
		log.Error = err.Error()
		return o.finish(ctx, log, domain.CycleFailed, "settings unavailable")
	}
	log.Stages = append(log.Stages, o.runStage(ctx, stage, settings))
	status, reason := settle(ctx, log.Stages)
	return o.finish(ctx, log, status, reason)
}

// settle scores the stages that ran. A cancelled cycle is never a success,
// whatever the stages that did run reported.
func settle(ctx context.Context, stages []domain.StageResult) (domain.CycleStatus, string) {
	status := cycleStatus(stages)
	if ctx.Err() == nil {
		return status, ""
	}
	if status != domain.CycleFailed {
		status = domain.CyclePartial
	}
	return status, "cancelled"
}

// TriggerCycle asks the running RunCron loop for an immediate cycle and
// returns without waiting for it. queued is false when a trigger is already
// pending. Without a cron loop the request fails with domain.ErrConflict.
func (o *Orchestrator) TriggerCycle() (queued bool, err error) {
	if !o.cronActive.Load() {
		return false, fmt.Errorf("pipeline: trigger cycle: cron loop not running: %w", domain.ErrConflict)
	}
	select {
	case o.trigger <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

// RunCron runs cycles on schedule until ctx is cancelled.
func (o *Orchestrator) RunCron(ctx context.Context, schedule string) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if !o.cronActive.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline: cron loop already running: %w", domain.ErrConflict)
	}
	defer o.cronActive.Store(false)
	o.logger.InfoContext(ctx, "orchestrator cron started", slog.String("schedule", schedule))

	for {
		next := sched.Next(o.now())
		if next.IsZero() {
			return fmt.Errorf("pipeline: schedule %q never fires", schedule)
		}
		timer := time.NewTimer(time.Until(next))

		var trigger domain.CycleTrigger
		select {
		case <-ctx.Done():
			timer.Stop()
			o.logger.InfoContext(ctx, "orchestrator cron stopped")
			return ctx.Err()
		case <-timer.C:
			trigger = domain.TriggerScheduled
		case <-o.trigger:
			timer.Stop()
			trigger = domain.TriggerManual
		}

		if _, err := o.RunCycle(ctx, trigger); err != nil {
			o.logger.ErrorContext(ctx, "cycle failed", slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) runStage(ctx context.Context, stage domain.Stage, settings domain.Settings) domain.StageResult {
	var (
		res domain.StageResult
		err error
	)
	switch stage {
	case domain.StageScan:
		res, err = o.scanner.ScanAll(ctx, settings)
	case domain.StageDecide:
		res, err = o.decider.DecidePending(ctx, settings)
	case domain.StageExecute:
		// Decisions may have tripped the breaker since the snapshot.
		if fresh, ferr := o.settings.Get(ctx); ferr == nil {
			settings = fresh
		}
		if settings.SafeMode {
			now := o.now().UTC()
			res = domain.StageResult{StartedAt: now, FinishedAt: now, SkipReason: "safe mode active"}
			break
		}
		res, err = o.executor.ExecuteApproved(ctx)
	case domain.StageWallets:
		res, err = o.wallets.CheckAndTopUp(ctx, domain.FundingConfigured)
	}
	res.Stage = stage
	if err != nil {
		if res.Err == "" {
			res.Err = err.Error()
		}
		o.logger.ErrorContext(ctx, "stage failed",
			slog.String("stage", string(stage)),
			slog.String("error", err.Error()),
		)
	}
	o.logger.InfoContext(ctx, "stage finished",
		slog.String("stage", string(stage)),
		slog.Int("attempted", res.Attempted),
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
		slog.String("skip_reason", res.SkipReason),
	)
	return res
}

// cycleStatus is failed when every stage that ran errored, partial when any
// stage errored or any item failed, success otherwise.
func cycleStatus(stages []domain.StageResult) domain.CycleStatus {
	var ran, errored int
	itemFailed := false
	for _, s := range stages {
		if s.SkipReason != "" && s.Err == "" {
			continue
		}
		ran++
		if s.Err != "" {
			errored++
		}
		if s.Failed > 0 {
			itemFailed = true
		}
	}
	switch {
	case ran > 0 && errored == ran:
		return domain.CycleFailed
	case errored > 0 || itemFailed:
		return domain.CyclePartial
	default:
		return domain.CycleSuccess
	}
}

func (o *Orchestrator) newLog(trigger domain.CycleTrigger) domain.CycleLog {
	return domain.CycleLog{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: o.now().UTC(),
	}
}

func (o *Orchestrator) finish(ctx context.Context, log domain.CycleLog, status domain.CycleStatus, reason string) (domain.CycleLog, error) {
	log.Status = status
	log.Reason = reason
	log.FinishedAt = o.now().UTC()

	// The log outlives a cancelled cycle.
	storeCtx := context.WithoutCancel(ctx)
	level := slog.LevelInfo
	if status == domain.CycleFailed || status == domain.CyclePartial {
		level = slog.LevelWarn
	}
	o.logger.Log(storeCtx, level, "cycle finished",
		slog.String("cycle_id", log.ID),
		slog.String("trigger", string(log.Trigger)),
		slog.String("status", string(status)),
		slog.String("reason", reason),
		slog.Duration("elapsed", log.FinishedAt.Sub(log.StartedAt)),
	)

	if err := o.cycles.Insert(storeCtx, log); err != nil {
		return log, fmt.Errorf("pipeline: store cycle log %s: %w", log.ID, err)
	}
	service.Publish(storeCtx, o.bus, o.logger, domain.ChannelCycle, "cycle_finished", log)
	return log, nil
}
