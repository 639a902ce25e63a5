package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/store/memory"
)

// stageFake records calls and returns a canned result.
type stageFake struct {
	calls atomic.Int32
	res   domain.StageResult
	err   error
	hook  func()
}

func (f *stageFake) call() (domain.StageResult, error) {
	f.calls.Add(1)
	if f.hook != nil {
		f.hook()
	}
	return f.res, f.err
}

type fakeScanner struct{ stageFake }

func (f *fakeScanner) ScanAll(context.Context, domain.Settings) (domain.StageResult, error) {
	return f.call()
}

type fakeDecider struct{ stageFake }

func (f *fakeDecider) DecidePending(context.Context, domain.Settings) (domain.StageResult, error) {
	return f.call()
}

type fakeExecutor struct{ stageFake }

func (f *fakeExecutor) ExecuteApproved(context.Context) (domain.StageResult, error) {
	return f.call()
}

type fakeWallets struct{ stageFake }

func (f *fakeWallets) CheckAndTopUp(context.Context, domain.FundingSource) (domain.StageResult, error) {
	return f.call()
}

type fakeSettings struct {
	mu sync.Mutex
	s  domain.Settings
}

func (f *fakeSettings) Get(context.Context) (domain.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s, nil
}

func (f *fakeSettings) set(mutate func(*domain.Settings)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(&f.s)
}

type harness struct {
	scan     *fakeScanner
	decide   *fakeDecider
	exec     *fakeExecutor
	wallets  *fakeWallets
	settings *fakeSettings
	cycles   *memory.CycleLogStore
	locks    *memory.LockManager
	bus      *memory.SignalBus
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		scan:     &fakeScanner{},
		decide:   &fakeDecider{},
		exec:     &fakeExecutor{},
		wallets:  &fakeWallets{},
		settings: &fakeSettings{s: domain.Settings{AutomationEnabled: true, NetworkMode: domain.ModeMainnet}},
		cycles:   memory.NewCycleLogStore(),
		locks:    memory.NewLockManager(),
		bus:      memory.NewSignalBus(0),
	}
	h.scan.res = domain.StageResult{Attempted: 2, Succeeded: 2}
	h.decide.res = domain.StageResult{Attempted: 2, Succeeded: 2}
	h.exec.res = domain.StageResult{Attempted: 1, Succeeded: 1}
	h.orch = NewOrchestrator(h.scan, h.decide, h.exec, h.wallets, h.settings,
		h.cycles, h.locks, h.bus, OrchestratorConfig{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func (h *harness) storedLogs(t *testing.T) []domain.CycleLog {
	t.Helper()
	logs, err := h.cycles.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	return logs
}

func stageNames(log domain.CycleLog) []domain.Stage {
	out := make([]domain.Stage, 0, len(log.Stages))
	for _, s := range log.Stages {
		out = append(out, s.Stage)
	}
	return out
}

func TestRunCycle_Success(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := h.bus.Subscribe(ctx, domain.ChannelCycle)
	require.NoError(t, err)

	log, err := h.orch.RunCycle(ctx, domain.TriggerScheduled)
	require.NoError(t, err)

	assert.Equal(t, domain.CycleSuccess, log.Status)
	assert.Equal(t, domain.TriggerScheduled, log.Trigger)
	assert.Equal(t, []domain.Stage{domain.StageScan, domain.StageDecide, domain.StageExecute, domain.StageWallets}, stageNames(log))
	assert.False(t, log.FinishedAt.Before(log.StartedAt))

	stored := h.storedLogs(t)
	require.Len(t, stored, 1)
	assert.Equal(t, log.ID, stored[0].ID)

	select {
	case msg := <-events:
		var ev domain.Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, "cycle_finished", ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no cycle event published")
	}

	// The cycle lock is released afterwards.
	_, err = h.orch.RunCycle(ctx, domain.TriggerScheduled)
	require.NoError(t, err)
	assert.Len(t, h.storedLogs(t), 2)
}

func TestRunCycle_Skipped(t *testing.T) {
	t.Run("automation disabled", func(t *testing.T) {
		h := newHarness(t)
		h.settings.set(func(s *domain.Settings) { s.AutomationEnabled = false })

		log, err := h.orch.RunCycle(context.Background(), domain.TriggerScheduled)
		require.NoError(t, err)
		assert.Equal(t, domain.CycleSkipped, log.Status)
		assert.Equal(t, "automation disabled", log.Reason)
		assert.Empty(t, log.Stages)
		assert.Zero(t, h.scan.calls.Load())
		assert.Len(t, h.storedLogs(t), 1)
	})

	t.Run("previous cycle still running", func(t *testing.T) {
		h := newHarness(t)
		unlock, err := h.locks.Acquire(context.Background(), cycleLockKey, time.Minute)
		require.NoError(t, err)
		defer unlock()

		log, err := h.orch.RunCycle(context.Background(), domain.TriggerScheduled)
		require.NoError(t, err)
		assert.Equal(t, domain.CycleSkipped, log.Status)
		assert.Equal(t, "previous cycle still running", log.Reason)
		assert.Zero(t, h.scan.calls.Load())
		assert.Len(t, h.storedLogs(t), 1)
	})
}

func TestRunCycle_SafeModeSkipsExecute(t *testing.T) {
	h := newHarness(t)
	h.settings.set(func(s *domain.Settings) { s.SafeMode = true })

	log, err := h.orch.RunCycle(context.Background(), domain.TriggerScheduled)
	require.NoError(t, err)

	require.Len(t, log.Stages, 4)
	exec := log.Stages[2]
	assert.Equal(t, domain.StageExecute, exec.Stage)
	assert.Equal(t, "safe mode active", exec.SkipReason)
	assert.Zero(t, h.exec.calls.Load())
	assert.EqualValues(t, 1, h.wallets.calls.Load())
	assert.Equal(t, domain.CycleSuccess, log.Status)
}

func TestRunCycle_SafeModeTrippedMidCycle(t *testing.T) {
	h := newHarness(t)
	h.decide.hook = func() {
		h.settings.set(func(s *domain.Settings) { s.SafeMode = true })
	}

	log, err := h.orch.RunCycle(context.Background(), domain.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, "safe mode active", log.Stages[2].SkipReason)
	assert.Zero(t, h.exec.calls.Load())
}

func TestRunCycle_Status(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		setup func(h *harness)
		want  domain.CycleStatus
	}{
		{
			name:  "item failure is partial",
			setup: func(h *harness) { h.scan.res.Failed = 1 },
			want:  domain.CyclePartial,
		},
		{
			name:  "one stage error is partial",
			setup: func(h *harness) { h.decide.err = boom },
			want:  domain.CyclePartial,
		},
		{
			name: "every stage errored is failed",
			setup: func(h *harness) {
				h.scan.err = boom
				h.decide.err = boom
				h.exec.err = boom
				h.wallets.err = boom
			},
			want: domain.CycleFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			log, err := h.orch.RunCycle(context.Background(), domain.TriggerScheduled)
			require.NoError(t, err)
			assert.Equal(t, tt.want, log.Status)
			// Later stages still run after an earlier one errors.
			assert.Len(t, log.Stages, 4)
			assert.EqualValues(t, 1, h.wallets.calls.Load())
		})
	}
}

func TestRunCycle_CancelledAfterScan(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.scan.hook = cancel

	log, err := h.orch.RunCycle(ctx, domain.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, domain.CyclePartial, log.Status)
	assert.Equal(t, "cancelled", log.Reason)
	assert.Equal(t, []domain.Stage{domain.StageScan}, stageNames(log))
	assert.Zero(t, h.decide.calls.Load())

	stored := h.storedLogs(t)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.CyclePartial, stored[0].Status)
}

func TestRunCycle_StageErrorRecorded(t *testing.T) {
	h := newHarness(t)
	h.decide.err = errors.New("database down")

	log, err := h.orch.RunCycle(context.Background(), domain.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, "database down", log.Stages[1].Err)
	assert.Equal(t, domain.StageDecide, log.Stages[1].Stage)
}

func TestRunStage(t *testing.T) {
	h := newHarness(t)
	h.settings.set(func(s *domain.Settings) { s.AutomationEnabled = false })

	log, err := h.orch.RunStage(context.Background(), domain.StageScan)
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerManual, log.Trigger)
	assert.Equal(t, []domain.Stage{domain.StageScan}, stageNames(log))
	assert.Equal(t, domain.CycleSuccess, log.Status)
	assert.EqualValues(t, 1, h.scan.calls.Load())
	assert.Zero(t, h.decide.calls.Load())

	log, err = h.orch.RunStage(context.Background(), domain.StageCycle)
	require.NoError(t, err)
	assert.Equal(t, domain.CycleSkipped, log.Status)
	assert.Equal(t, domain.TriggerManual, log.Trigger)

	_, err = h.orch.RunStage(context.Background(), domain.Stage("bogus"))
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRunCron_ManualTrigger(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.orch.RunCron(ctx, "@every 1h") }()

	require.Eventually(t, func() bool {
		queued, err := h.orch.TriggerCycle()
		return err == nil && queued
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		logs, _ := h.cycles.List(context.Background(), domain.ListOpts{})
		return len(logs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	logs := h.storedLogs(t)
	assert.Equal(t, domain.TriggerManual, logs[0].Trigger)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("RunCron did not stop")
	}
}

func TestTriggerCycle_Coalesces(t *testing.T) {
	h := newHarness(t)
	h.orch.cronActive.Store(true)

	queued, err := h.orch.TriggerCycle()
	require.NoError(t, err)
	assert.True(t, queued)
	queued, err = h.orch.TriggerCycle()
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestTriggerCycle_NeedsCronLoop(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.TriggerCycle()
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRunCron_BadSchedule(t *testing.T) {
	h := newHarness(t)
	err := h.orch.RunCron(context.Background(), "every minute")
	require.Error(t, err)
}
