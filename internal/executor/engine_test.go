package executor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/chain/chaintest"
	"github.com/alanyoungcy/arbbot/internal/domain"
)

func TestExecute_Success(t *testing.T) {
	h := newHarness(t, nil, Config{})
	ctx := context.Background()
	h.adapter.SetBalance(executorAddr, usdcMint, 2_000_000_000)
	h.adapter.SubmitFunc = profitOnSubmit(usdcMint, 8_000_000)
	run := h.approvedRun(t, testStrategy("s1"), domain.DecisionApproved)

	got, err := h.engine.Execute(ctx, run.ID, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunExecuted, got.Status)
	assert.Equal(t, "sig-ok", got.TxSignature)
	assert.Equal(t, "8993940", got.EstimatedProfit.String())
	assert.Equal(t, "8000000", got.RealizedProfit.String())
	assert.Equal(t, "-993940", got.ProfitDrift.String())
	assert.Equal(t, executorAddr, got.FeePayer)

	stored, err := h.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunExecuted, stored.Status)
	assert.Equal(t, "8000000", stored.RealizedProfit.String())

	ledger, err := h.ledger.Get(ctx, "s1", testChain, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.TradeCount)
	assert.Equal(t, "8000000", ledger.RealizedPnL.String())

	units := h.adapter.Submitted()
	require.Len(t, units, 1)
	assert.Equal(t, []string{executorAddr}, units[0].Signers)
	assert.Len(t, units[0].LookupTables, 2)

	// A finalized run cannot run again.
	_, err = h.engine.Execute(ctx, run.ID, ExecuteOptions{})
	assert.ErrorIs(t, err, domain.ErrNotExecutable)
	assert.Len(t, h.adapter.Submitted(), 1)
}

// Scenario: leg B turns into fallback data between scan and execution.
func TestExecute_FallbackQuoteBlocked(t *testing.T) {
	h := newHarness(t, nil, Config{})
	ctx := context.Background()
	run := h.approvedRun(t, testStrategy("s1"), domain.DecisionApproved)
	h.source.SetLeg(nativeMint, usdcMint, chaintest.Leg{Num: 101, Den: 100, Fallback: true})

	got, err := h.engine.Execute(ctx, run.ID, ExecuteOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMockQuote)
	assert.Equal(t, domain.RunFailed, got.Status)
	assert.Equal(t, "blocked: quote is mock data", got.ErrorMessage)
	assert.Nil(t, got.RealizedProfit)
	assert.Empty(t, h.adapter.Submitted())

	stored, err := h.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, stored.Status)
	assert.Nil(t, stored.RealizedProfit)

	ledger, err := h.ledger.Get(ctx, "s1", testChain, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, ledger.TradeCount)
}

// Scenario: the legs are real but the native rate that prices fees is
// fallback data.
func TestExecute_FallbackNativeRateBlocked(t *testing.T) {
	h := newHarness(t, nil, Config{})
	h.adapter.SubmitFunc = profitOnSubmit(usdcMint, 8_000_000)
	h.source.SetLeg(usdcMint, "BONK", chaintest.Leg{Num: 1000, Den: 1})
	h.source.SetLeg("BONK", usdcMint, chaintest.Leg{Num: 101, Den: 100_000})
	h.source.SetLeg(nativeMint, usdcMint, chaintest.Leg{Num: 101, Den: 100, Fallback: true})
	st := testStrategy("bonk")
	st.TokenOut = "BONK"
	run := h.approvedRun(t, st, domain.DecisionApproved)

	got, err := h.engine.Execute(context.Background(), run.ID, ExecuteOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMockQuote)
	assert.Equal(t, domain.RunFailed, got.Status)
	assert.Equal(t, "blocked: quote is mock data", got.ErrorMessage)
	assert.Empty(t, h.adapter.Submitted())
}

func TestExecute_Blocked(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, h *harness)
		reason  string
		target  error
	}{
		{
			name: "safe mode",
			prepare: func(t *testing.T, h *harness) {
				_, _, err := h.settings.TripSafeMode(context.Background(), "test")
				require.NoError(t, err)
			},
			reason: "blocked: safe mode active",
			target: domain.ErrSafeMode,
		},
		{
			name: "strategy disabled after approval",
			prepare: func(t *testing.T, h *harness) {
				st := testStrategy("s1")
				st.Enabled = false
				require.NoError(t, h.strategies.Upsert(context.Background(), st))
			},
			reason: "blocked: strategy disabled",
			target: domain.ErrNotExecutable,
		},
		{
			name: "automation disabled after approval",
			prepare: func(t *testing.T, h *harness) {
				_, err := h.settings.SetAutomation(context.Background(), false, "ops")
				require.NoError(t, err)
			},
			reason: "blocked: automation disabled",
			target: domain.ErrNotExecutable,
		},
		{
			name: "strategy trade cap used up",
			prepare: func(t *testing.T, h *harness) {
				st := testStrategy("s1")
				st.Risk.MaxTradesPerDay = 10
				require.NoError(t, h.strategies.Upsert(context.Background(), st))
				h.recordTrades(t, "s1", 10, 1)
			},
			reason: "blocked: daily limit reached: strategy trades 10/10",
			target: domain.ErrDailyLimit,
		},
		{
			name: "strategy loss cap used up",
			prepare: func(t *testing.T, h *harness) {
				st := testStrategy("s1")
				st.Risk.MaxDailyLoss = big.NewInt(500)
				require.NoError(t, h.strategies.Upsert(context.Background(), st))
				h.recordTrades(t, "s1", 1, -500)
			},
			reason: "blocked: daily limit reached: strategy loss 500 reached cap 500",
			target: domain.ErrDailyLimit,
		},
		{
			name: "global trade cap used up",
			prepare: func(t *testing.T, h *harness) {
				_, err := h.settings.Apply(context.Background(), func(s *domain.Settings) error {
					s.GlobalMaxDailyTrades = 3
					return nil
				})
				require.NoError(t, err)
				h.recordTrades(t, "other", 3, 1)
			},
			reason: "blocked: daily limit reached: global trades 3/3",
			target: domain.ErrDailyLimit,
		},
		{
			name: "global loss cap used up",
			prepare: func(t *testing.T, h *harness) {
				_, err := h.settings.Apply(context.Background(), func(s *domain.Settings) error {
					s.GlobalMaxDailyLoss = big.NewInt(1_000)
					return nil
				})
				require.NoError(t, err)
				h.recordTrades(t, "other", 2, -600)
			},
			reason: "blocked: daily limit reached: global loss 1200 reached cap 1000",
			target: domain.ErrDailyLimit,
		},
		{
			name: "no route",
			prepare: func(_ *testing.T, h *harness) {
				h.source.SetLeg(nativeMint, usdcMint, chaintest.Leg{NoRoute: true})
			},
			reason: "blocked: stale quote (no route on leg B)",
			target: domain.ErrNoRoute,
		},
		{
			name: "stale price",
			prepare: func(_ *testing.T, h *harness) {
				h.source.SetLeg(nativeMint, usdcMint, chaintest.Leg{Num: 1, Den: 1})
			},
			reason: "blocked: stale quote: net -1006000 (-11 bps) below thresholds",
			target: domain.ErrNotExecutable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, Config{})
			run := h.approvedRun(t, testStrategy("s1"), domain.DecisionApproved)
			tt.prepare(t, h)

			got, err := h.engine.Execute(context.Background(), run.ID, ExecuteOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, domain.RunFailed, got.Status)
			assert.Equal(t, tt.reason, got.ErrorMessage)
			assert.Nil(t, got.RealizedProfit)
			assert.Empty(t, h.adapter.Submitted())
		})
	}
}

func TestExecute_SettlementFailure(t *testing.T) {
	h := newHarness(t, nil, Config{})
	ctx := context.Background()
	h.adapter.SubmitFunc = func(context.Context, *chaintest.Adapter, domain.SettlementUnit) (domain.Settlement, error) {
		return domain.Settlement{}, &domain.SettlementError{
			Kind:      domain.SettlementReverted,
			Reference: "sig-bad",
			Err:       errors.New("slippage tolerance exceeded"),
		}
	}
	run := h.approvedRun(t, testStrategy("s1"), domain.DecisionApproved)

	got, err := h.engine.Execute(ctx, run.ID, ExecuteOptions{})
	var se *domain.SettlementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.SettlementReverted, se.Kind)
	assert.Equal(t, domain.RunFailed, got.Status)
	assert.Equal(t, "settlement reverted: slippage tolerance exceeded", got.ErrorMessage)
	assert.Nil(t, got.RealizedProfit)
	assert.Equal(t, "8993940", got.EstimatedProfit.String(), "last known estimate is kept")

	ledger, err := h.ledger.Get(ctx, "s1", testChain, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, ledger.TradeCount)
}

func TestExecute_ManualOnly(t *testing.T) {
	h := newHarness(t, nil, Config{})
	ctx := context.Background()
	h.adapter.SubmitFunc = profitOnSubmit(usdcMint, 8_000_000)
	run := h.approvedRun(t, testStrategy("s1"), domain.DecisionManualOnly)

	got, err := h.engine.Execute(ctx, run.ID, ExecuteOptions{})
	assert.ErrorIs(t, err, domain.ErrNotExecutable)
	assert.Equal(t, domain.RunSimulated, got.Status)

	got, err = h.engine.Execute(ctx, run.ID, ExecuteOptions{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, domain.RunExecuted, got.Status)
}

func TestExecute_LockHeld(t *testing.T) {
	h := newHarness(t, nil, Config{})
	ctx := context.Background()
	run := h.approvedRun(t, testStrategy("s1"), domain.DecisionApproved)

	unlock, err := h.locks.Acquire(ctx, "execute:run:"+run.ID, time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = h.engine.Execute(ctx, run.ID, ExecuteOptions{})
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestExecute_UsesFeePayer(t *testing.T) {
	h := newHarness(t, nil, Config{})
	ctx := context.Background()
	h.adapter.SubmitFunc = profitOnSubmit(usdcMint, 8_000_000)
	payers, err := h.feePayers.Generate(ctx, testChain, domain.NetworkMainnet, 1)
	require.NoError(t, err)
	require.NoError(t, h.payers.UpdateBalance(ctx, payers[0].ID, big.NewInt(2_000_000), time.Now()))
	run := h.approvedRun(t, testStrategy("s1"), domain.DecisionApproved)

	got, err := h.engine.Execute(ctx, run.ID, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, payers[0].Address, got.FeePayer)

	units := h.adapter.Submitted()
	require.Len(t, units, 1)
	assert.Equal(t, payers[0].Address, units[0].FeePayer)
	assert.Equal(t, []string{executorAddr, payers[0].Address}, units[0].Signers)

	fp, err := h.payers.Get(ctx, payers[0].ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, fp.UsageCount)
}

func TestExecute_DivergenceTripsSafeMode(t *testing.T) {
	h := newHarness(t, nil, Config{})
	ctx := context.Background()
	h.adapter.SubmitFunc = profitOnSubmit(usdcMint, 1_000)
	first := h.approvedRun(t, testStrategy("s1"), domain.DecisionApproved)
	second := h.approvedRun(t, testStrategy("s2"), domain.DecisionApproved)

	got, err := h.engine.Execute(ctx, first.ID, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunExecuted, got.Status)

	st, err := h.settings.Get(ctx)
	require.NoError(t, err)
	assert.True(t, st.SafeMode)

	got, err = h.engine.Execute(ctx, second.ID, ExecuteOptions{})
	assert.ErrorIs(t, err, domain.ErrSafeMode)
	assert.Equal(t, "blocked: safe mode active", got.ErrorMessage)
}

type fakeFlashLoan struct{}

func (fakeFlashLoan) Name() string { return "fake" }

func (fakeFlashLoan) Legs(_ context.Context, loan domain.FlashLoanConfig, borrower string) (FlashLoanLegs, error) {
	meta := []domain.AccountMeta{{Pubkey: borrower, IsSigner: true, IsWritable: true}}
	return FlashLoanLegs{
		Borrow:       []domain.Instruction{{Program: "Lender", Accounts: meta, Data: []byte("borrow " + loan.LoanAmount.String()), Phase: domain.PhaseSetup}},
		Repay:        []domain.Instruction{{Program: "Lender", Accounts: meta, Data: []byte("repay"), Phase: domain.PhaseCleanup}},
		LookupTables: []string{"lender-alt"},
	}, nil
}

func TestExecute_FlashLoanWrapsUnit(t *testing.T) {
	h := newHarness(t, nil, Config{})
	ctx := context.Background()
	h.flashLoans.Register(fakeFlashLoan{})
	h.adapter.SubmitFunc = profitOnSubmit(usdcMint, 8_000_000)
	_, err := h.settings.SetFlashLoans(ctx, true, "ops")
	require.NoError(t, err)

	st := testStrategy("s1")
	st.FlashLoan = &domain.FlashLoanConfig{Provider: "fake", LoanToken: usdcMint, LoanAmount: big.NewInt(1_000_000_000), FeeBps: 9}
	run := h.approvedRun(t, st, domain.DecisionApproved)

	got, err := h.engine.Execute(ctx, run.ID, ExecuteOptions{})
	require.NoError(t, err)
	assert.True(t, got.FlashLoanUsed)
	assert.Equal(t, "900000", got.Waterfall.FlashLoanFee.String())

	units := h.adapter.Submitted()
	require.Len(t, units, 1)
	ins := units[0].Instructions
	require.GreaterOrEqual(t, len(ins), 4)
	assert.Equal(t, domain.PhaseComputeBudget, ins[0].Phase)
	assert.Equal(t, domain.PhaseComputeBudget, ins[1].Phase)
	assert.Equal(t, "borrow 1000000000", string(ins[2].Data))
	assert.Equal(t, "repay", string(ins[len(ins)-1].Data))
	assert.Contains(t, units[0].LookupTables, "lender-alt")
}

type blockingRefiller struct {
	release chan struct{}
	mu      sync.Mutex
	jobs    []string
	done    chan struct{}
}

func (b *blockingRefiller) TopUpChain(ctx context.Context, _ domain.Chain, _ domain.Network, source domain.FundingSource, runID string) (domain.StageResult, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return domain.StageResult{}, ctx.Err()
	}
	b.mu.Lock()
	b.jobs = append(b.jobs, runID+":"+string(source))
	b.mu.Unlock()
	close(b.done)
	return domain.StageResult{Attempted: 1, Succeeded: 1}, nil
}

func (b *blockingRefiller) Sweep(context.Context, domain.Chain, domain.Network, *big.Int, string) (domain.TopUp, error) {
	return domain.TopUp{}, errors.New("unexpected sweep")
}

// Scenario: a large realized profit hands a top-up off without delaying the
// execution result.
func TestExecute_RefillHandOff(t *testing.T) {
	refiller := &blockingRefiller{release: make(chan struct{}), done: make(chan struct{})}
	worker := NewRefillWorker(refiller, nil, 4, time.Minute, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	h := newHarness(t, worker, Config{RefillTriggerAmount: big.NewInt(1_000_000)})
	h.adapter.SubmitFunc = profitOnSubmit(usdcMint, 5_000_000)
	run := h.approvedRun(t, testStrategy("s1"), domain.DecisionApproved)

	got, err := h.engine.Execute(ctx, run.ID, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "5000000", got.RealizedProfit.String())

	refiller.mu.Lock()
	assert.Empty(t, refiller.jobs, "execution does not wait for the refill")
	refiller.mu.Unlock()

	close(refiller.release)
	select {
	case <-refiller.done:
	case <-time.After(5 * time.Second):
		t.Fatal("refill job never ran")
	}
	require.NoError(t, worker.Wait(ctx))
	refiller.mu.Lock()
	assert.Equal(t, []string{run.ID + ":executor"}, refiller.jobs)
	refiller.mu.Unlock()
}

func TestExecute_NoRefillBelowTrigger(t *testing.T) {
	worker := NewRefillWorker(&blockingRefiller{}, nil, 4, time.Minute, testLogger())
	h := newHarness(t, worker, Config{RefillTriggerAmount: big.NewInt(10_000_000)})
	h.adapter.SubmitFunc = profitOnSubmit(usdcMint, 5_000_000)
	run := h.approvedRun(t, testStrategy("s1"), domain.DecisionApproved)

	_, err := h.engine.Execute(context.Background(), run.ID, ExecuteOptions{})
	require.NoError(t, err)
	assert.Empty(t, worker.jobs)
}

func TestExecuteApproved(t *testing.T) {
	h := newHarness(t, nil, Config{})
	h.adapter.SubmitFunc = profitOnSubmit(usdcMint, 8_000_000)
	h.approvedRun(t, testStrategy("auto"), domain.DecisionApproved)
	h.approvedRun(t, testStrategy("manual"), domain.DecisionManualOnly)

	res, err := h.engine.ExecuteApproved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StageExecute, res.Stage)
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 1, res.Succeeded)
}
