package executor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

type funcRefiller struct {
	topUp func() (domain.StageResult, error)
	sweep func(amount *big.Int) error
}

func (f funcRefiller) TopUpChain(context.Context, domain.Chain, domain.Network, domain.FundingSource, string) (domain.StageResult, error) {
	return f.topUp()
}

func (f funcRefiller) Sweep(_ context.Context, _ domain.Chain, _ domain.Network, amount *big.Int, _ string) (domain.TopUp, error) {
	return domain.TopUp{}, f.sweep(amount)
}

type recordingAlerts struct {
	raised []domain.Alert
}

func (r *recordingAlerts) Raise(_ context.Context, a domain.Alert) (domain.Alert, bool, error) {
	r.raised = append(r.raised, a)
	return a, true, nil
}

func runWorker(t *testing.T, w *RefillWorker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Run(ctx) }()
}

func TestRefillWorker_RecoversFromPanic(t *testing.T) {
	alerts := &recordingAlerts{}
	w := NewRefillWorker(funcRefiller{
		topUp: func() (domain.StageResult, error) { panic("boom") },
	}, alerts, 2, time.Second, testLogger())
	runWorker(t, w)

	require.True(t, w.Enqueue(RefillJob{Kind: RefillTopUp, RunID: "r1", Chain: testChain}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Wait(ctx))

	require.Len(t, alerts.raised, 1)
	assert.Equal(t, domain.AlertRefillFailed, alerts.raised[0].Kind)
	assert.Contains(t, alerts.raised[0].Message, "refill panic: boom")
}

func TestRefillWorker_PartialTopUpFails(t *testing.T) {
	alerts := &recordingAlerts{}
	w := NewRefillWorker(funcRefiller{
		topUp: func() (domain.StageResult, error) {
			return domain.StageResult{Attempted: 2, Succeeded: 1, Failed: 1, Errors: []string{"rpc down"}}, nil
		},
	}, alerts, 2, time.Second, testLogger())
	runWorker(t, w)

	w.Enqueue(RefillJob{Kind: RefillTopUp, RunID: "r1"})
	require.NoError(t, w.Wait(context.Background()))
	require.Len(t, alerts.raised, 1)
	assert.Contains(t, alerts.raised[0].Message, "1 of 2 top-ups failed")
}

func TestRefillWorker_Sweep(t *testing.T) {
	var swept *big.Int
	w := NewRefillWorker(funcRefiller{
		sweep: func(amount *big.Int) error {
			swept = amount
			return nil
		},
	}, nil, 2, time.Second, testLogger())
	runWorker(t, w)

	w.Enqueue(RefillJob{Kind: RefillSweep, RunID: "r1", Amount: big.NewInt(42)})
	require.NoError(t, w.Wait(context.Background()))
	assert.Equal(t, "42", swept.String())
}

func TestRefillWorker_DropsWhenFull(t *testing.T) {
	w := NewRefillWorker(funcRefiller{
		topUp: func() (domain.StageResult, error) { return domain.StageResult{}, errors.New("unused") },
	}, nil, 1, time.Second, testLogger())

	assert.True(t, w.Enqueue(RefillJob{RunID: "r1"}))
	assert.False(t, w.Enqueue(RefillJob{RunID: "r2"}))
	assert.Len(t, w.jobs, 1)
}

func TestRefillWorker_WaitWhileEnqueueing(t *testing.T) {
	var swept atomic.Int64
	w := NewRefillWorker(funcRefiller{
		sweep: func(*big.Int) error {
			swept.Add(1)
			return nil
		},
	}, nil, 8, time.Second, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, w.Wait(ctx), "idle worker returns at once")
	runWorker(t, w)

	var (
		accepted atomic.Int64
		wg       sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if w.Enqueue(RefillJob{Kind: RefillSweep, RunID: "r", Amount: big.NewInt(1)}) {
					accepted.Add(1)
				}
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, w.Wait(ctx))
			}
		}()
	}
	wg.Wait()

	require.NoError(t, w.Wait(ctx))
	assert.Equal(t, accepted.Load(), swept.Load())
}
