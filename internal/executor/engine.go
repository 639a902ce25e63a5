// Package executor turns approved runs into one atomic settlement and
// reconciles realized profit from balance deltas.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/arbbot/internal/arbitrage"
	"github.com/alanyoungcy/arbbot/internal/chain"
	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/service"
)

// Config tunes the engine.
type Config struct {
	LockTTL time.Duration
	// LockWait bounds the wait for the strategy decision lock during the
	// daily cap re-check.
	LockWait time.Duration
	// ConfirmTimeout bounds one submission, independent of the caller.
	ConfirmTimeout time.Duration
	// RefillTriggerAmount hands a refill job off when realized profit
	// exceeds it. Nil disables the trigger.
	RefillTriggerAmount *big.Int
}

// ExecuteOptions modify one execution.
type ExecuteOptions struct {
	// Manual allows manual_only runs.
	Manual bool
}

// Engine executes approved runs.
type Engine struct {
	runs       domain.RunStore
	strategies domain.StrategyStore
	ledger     domain.RiskLedgerStore
	settings   *service.SettingsService
	pricer     *service.Pricer
	chains     *chain.Registry
	feePayers  *service.FeePayerService
	breaker    *service.Breaker
	locks      domain.LockManager
	bus        domain.SignalBus
	refill     *RefillWorker
	flashLoans *FlashLoans
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine creates an Engine. refill and flashLoans may be nil.
func NewEngine(
	runs domain.RunStore,
	strategies domain.StrategyStore,
	ledger domain.RiskLedgerStore,
	settings *service.SettingsService,
	pricer *service.Pricer,
	chains *chain.Registry,
	feePayers *service.FeePayerService,
	breaker *service.Breaker,
	locks domain.LockManager,
	bus domain.SignalBus,
	refill *RefillWorker,
	flashLoans *FlashLoans,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if flashLoans == nil {
		flashLoans = NewFlashLoans()
	}
	return &Engine{
		runs:       runs,
		strategies: strategies,
		ledger:     ledger,
		settings:   settings,
		pricer:     pricer,
		chains:     chains,
		feePayers:  feePayers,
		breaker:    breaker,
		locks:      locks,
		bus:        bus,
		refill:     refill,
		flashLoans: flashLoans,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "executor")),
		now:        time.Now,
	}
}

// ExecuteApproved executes every auto-approved run. The caller skips the
// stage entirely in safe mode; each run re-checks it anyway.
func (e *Engine) ExecuteApproved(ctx context.Context) (res domain.StageResult, err error) {
	res = domain.StageResult{Stage: domain.StageExecute, StartedAt: e.now().UTC()}
	defer func() { res.FinishedAt = e.now().UTC() }()

	runs, err := e.runs.ListApproved(ctx, true)
	if err != nil {
		res.Err = err.Error()
		return res, fmt.Errorf("executor: list approved: %w", err)
	}
	for _, r := range runs {
		if err := ctx.Err(); err != nil {
			res.Err = err.Error()
			return res, err
		}
		res.Attempted++
		_, err := e.Execute(ctx, r.ID, ExecuteOptions{})
		switch {
		case errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrNotExecutable), errors.Is(err, domain.ErrDailyLimit):
			res.Skipped++
		case err != nil:
			res.AddError(fmt.Errorf("run %s: %w", r.ID, err))
		default:
			res.Succeeded++
		}
	}
	return res, nil
}

// Execute runs one approved run end to end. A run that cannot start, such
// as one already finalized, is returned unchanged with an error wrapping
// ErrNotExecutable. Every other failure finalizes the run as FAILED and
// returns it together with the cause.
func (e *Engine) Execute(ctx context.Context, runID string, opts ExecuteOptions) (domain.Run, error) {
	unlock, err := e.locks.Acquire(ctx, "execute:run:"+runID, e.cfg.LockTTL)
	if err != nil {
		return domain.Run{}, fmt.Errorf("executor: run %s: %w", runID, err)
	}
	defer unlock()

	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return domain.Run{}, fmt.Errorf("executor: get run %s: %w", runID, err)
	}
	if err := checkExecutable(run, opts.Manual); err != nil {
		return run, fmt.Errorf("executor: run %s: %w", runID, err)
	}
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return run, fmt.Errorf("executor: run %s: %w", runID, err)
	}

	x := &execution{engine: e, run: run, log: e.logger.With(
		slog.String("run_id", run.ID),
		slog.String("strategy_id", run.StrategyID),
		slog.String("chain", string(run.Chain)),
	)}
	return x.execute(ctx, settings)
}

func checkExecutable(run domain.Run, manual bool) error {
	if run.Status != domain.RunSimulated {
		return fmt.Errorf("status %s: %w", run.Status, domain.ErrNotExecutable)
	}
	switch run.Decision {
	case domain.DecisionApproved:
		return nil
	case domain.DecisionManualOnly:
		if manual {
			return nil
		}
	}
	return fmt.Errorf("decision %s: %w", run.Decision, domain.ErrNotExecutable)
}

// execution carries the state of one Execute call.
type execution struct {
	engine *Engine
	run    domain.Run
	log    *slog.Logger
	// estimate is the last known waterfall.
	estimate *domain.Waterfall
}

func (x *execution) execute(ctx context.Context, settings domain.Settings) (domain.Run, error) {
	e := x.engine
	if settings.SafeMode {
		return x.fail(ctx, "blocked: safe mode active", domain.ErrSafeMode)
	}

	strategy, err := e.strategies.Get(ctx, x.run.StrategyID)
	if err != nil {
		return x.fail(ctx, "strategy unavailable: "+err.Error(), err)
	}
	switch {
	case !strategy.Enabled:
		return x.fail(ctx, "blocked: strategy disabled", domain.ErrNotExecutable)
	case !settings.AutomationEnabled:
		return x.fail(ctx, "blocked: automation disabled", domain.ErrNotExecutable)
	}
	if detail, err := e.dailyLimit(ctx, strategy, settings); err != nil {
		return x.fail(ctx, "daily limit check: "+err.Error(), err)
	} else if detail != "" {
		return x.fail(ctx, "blocked: daily limit reached: "+detail, domain.ErrDailyLimit)
	}
	adapter, err := e.chains.Adapter(strategy.Chain, strategy.Network)
	if err != nil {
		return x.fail(ctx, err.Error(), err)
	}
	source, err := e.chains.QuoteSource(strategy.Chain)
	if err != nil {
		return x.fail(ctx, err.Error(), err)
	}

	before, err := takeSnapshot(ctx, adapter, strategy)
	if err != nil {
		return x.fail(ctx, err.Error(), err)
	}

	rt, err := e.pricer.Price(ctx, strategy, settings)
	if err != nil {
		return x.fail(ctx, err.Error(), err)
	}
	if rt.NoRouteLeg != "" {
		return x.fail(ctx, fmt.Sprintf("blocked: stale quote (no route on leg %s)", rt.NoRouteLeg), domain.ErrNoRoute)
	}
	legA, legB, err := arbitrage.Executable(rt.LegA, rt.LegB)
	if err != nil {
		if errors.Is(err, domain.ErrMockQuote) {
			return x.fail(ctx, "blocked: quote is mock data", err)
		}
		return x.fail(ctx, "blocked: "+err.Error(), err)
	}
	if rt.Simulated {
		return x.fail(ctx, "blocked: quote is mock data", domain.ErrMockQuote)
	}
	w := rt.Waterfall
	x.estimate = &w
	if !w.MeetsThresholds {
		reason := fmt.Sprintf("blocked: stale quote: net %s (%d bps) below thresholds", w.Net, w.NetBps)
		return x.fail(ctx, reason, domain.ErrNotExecutable)
	}

	signer := adapter.ExecutorAddress()
	setA, err := source.Instructions(ctx, legA, signer)
	if err != nil {
		return x.fail(ctx, "leg A instructions: "+err.Error(), err)
	}
	setB, err := source.Instructions(ctx, legB, signer)
	if err != nil {
		return x.fail(ctx, "leg B instructions: "+err.Error(), err)
	}
	body := MergeLegs(setA, setB)
	if rt.FlashLoanUsed {
		provider, err := e.flashLoans.Provider(strategy.FlashLoan.Provider)
		if err != nil {
			return x.fail(ctx, err.Error(), err)
		}
		loan, err := provider.Legs(ctx, *strategy.FlashLoan, signer)
		if err != nil {
			return x.fail(ctx, "flash loan: "+err.Error(), err)
		}
		body = wrapFlashLoan(body, loan)
	}

	tables, err := adapter.ResolveLookupTables(ctx, body.LookupTables)
	if err != nil {
		return x.fail(ctx, "resolve lookup tables: "+err.Error(), err)
	}

	payer := signer
	signers := []string{signer}
	if e.feePayers != nil {
		fp, ok, err := e.feePayers.Acquire(ctx, strategy.Chain, strategy.Network, settings)
		switch {
		case err != nil:
			x.log.WarnContext(ctx, "fee payer selection failed, executor pays", slog.String("error", err.Error()))
		case ok:
			payer = fp.Address
			signers = append(signers, fp.Address)
		}
	}

	// The submission and everything after it outlive the caller.
	ctx = context.WithoutCancel(ctx)
	subCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	settlement, err := adapter.Submit(subCtx, domain.SettlementUnit{
		Instructions: body.Instructions,
		LookupTables: tables,
		FeePayer:     payer,
		Signers:      signers,
	})
	cancel()
	if err != nil {
		var se *domain.SettlementError
		if errors.As(err, &se) {
			return x.fail(ctx, fmt.Sprintf("settlement %s: %v", se.Kind, se.Err), err)
		}
		return x.fail(ctx, "submit: "+err.Error(), err)
	}

	return x.settle(ctx, adapter, strategy, before, settlement, payer, rt.FlashLoanUsed)
}

// dailyLimit re-reads today's ledger under the strategy decision lock and
// returns which cap, if any, is already used up. An approval can outlive
// the day it was granted on, so the decision-time count is not enough.
func (e *Engine) dailyLimit(ctx context.Context, st domain.Strategy, settings domain.Settings) (string, error) {
	unlock, err := service.AcquireWait(ctx, e.locks, "decide:strategy:"+st.ID, e.cfg.LockTTL, e.cfg.LockWait)
	if err != nil {
		return "", err
	}
	defer unlock()

	day := domain.LedgerDay(e.now())
	ledger, err := e.ledger.Get(ctx, st.ID, st.Chain, day)
	if err != nil {
		return "", fmt.Errorf("read ledger: %w", err)
	}
	risk := st.Risk
	if risk.MaxTradesPerDay > 0 && ledger.TradeCount >= risk.MaxTradesPerDay {
		return fmt.Sprintf("strategy trades %d/%d", ledger.TradeCount, risk.MaxTradesPerDay), nil
	}
	if domain.IsPositive(risk.MaxDailyLoss) {
		if loss := domain.LossMagnitude(ledger.RealizedPnL); loss.Cmp(risk.MaxDailyLoss) >= 0 {
			return fmt.Sprintf("strategy loss %s reached cap %s", loss, risk.MaxDailyLoss), nil
		}
	}

	if settings.GlobalMaxDailyTrades <= 0 && !domain.IsPositive(settings.GlobalMaxDailyLoss) {
		return "", nil
	}
	totals, err := e.ledger.Totals(ctx, day)
	if err != nil {
		return "", fmt.Errorf("ledger totals: %w", err)
	}
	if settings.GlobalMaxDailyTrades > 0 && totals.TradeCount >= settings.GlobalMaxDailyTrades {
		return fmt.Sprintf("global trades %d/%d", totals.TradeCount, settings.GlobalMaxDailyTrades), nil
	}
	if domain.IsPositive(settings.GlobalMaxDailyLoss) {
		if loss := domain.LossMagnitude(totals.RealizedPnL); loss.Cmp(settings.GlobalMaxDailyLoss) >= 0 {
			return fmt.Sprintf("global loss %s reached cap %s", loss, settings.GlobalMaxDailyLoss), nil
		}
	}
	return "", nil
}

// settle finalizes a confirmed run, records it and lets the breaker look
// at it.
func (x *execution) settle(
	ctx context.Context,
	adapter domain.ChainAdapter,
	strategy domain.Strategy,
	before snapshot,
	settlement domain.Settlement,
	payer string,
	flashLoan bool,
) (domain.Run, error) {
	e := x.engine
	now := e.now().UTC()
	f := domain.RunFinalization{
		Status:          domain.RunExecuted,
		Waterfall:       x.estimate,
		EstimatedProfit: domain.Copy(x.estimate.Net),
		TxSignature:     settlement.Reference,
		FeePayer:        payer,
		FlashLoanUsed:   flashLoan,
		FinalizedAt:     now,
	}

	after, snapErr := takeSnapshot(ctx, adapter, strategy)
	var acct Accounting
	if snapErr == nil {
		acct = Reconcile(before, after, adapter.NativeAsset(), strategy.TokenIn)
		f.RealizedProfit = acct.Realized
		f.ProfitDrift = domain.Sub(acct.Realized, x.estimate.Net)
		f.NativeDelta = acct.NativeDelta
		f.ResidualOutDelta = acct.ResidualOutDelta
	} else {
		f.ErrorMessage = "post-trade snapshot failed: " + snapErr.Error()
	}

	if err := e.runs.Finalize(ctx, x.run.ID, f); err != nil {
		x.log.ErrorContext(ctx, "finalize executed run failed",
			slog.String("tx", settlement.Reference),
			slog.String("error", err.Error()),
		)
		return x.run, fmt.Errorf("executor: finalize run %s: %w", x.run.ID, err)
	}
	x.apply(f)

	ledger, err := e.ledger.Record(ctx, strategy.ID, strategy.Chain, domain.LedgerDay(now), domain.OrZero(f.RealizedProfit))
	if err != nil {
		x.log.ErrorContext(ctx, "record ledger failed", slog.String("error", err.Error()))
	}

	if e.breaker != nil {
		if snapErr != nil {
			if terr := e.breaker.Trip(ctx, fmt.Sprintf("run %s realized profit unknown: %v", x.run.ID, snapErr),
				map[string]any{"run_id": x.run.ID, "tx": settlement.Reference}); terr != nil {
				x.log.ErrorContext(ctx, "breaker trip failed", slog.String("error", terr.Error()))
			}
		} else if err == nil {
			if _, berr := e.breaker.Evaluate(ctx, x.run, strategy, ledger); berr != nil {
				x.log.ErrorContext(ctx, "breaker evaluation failed", slog.String("error", berr.Error()))
			}
		}
	}

	x.log.InfoContext(ctx, "run executed",
		slog.String("tx", settlement.Reference),
		slog.String("fee_payer", payer),
		slog.String("estimated", x.estimate.Net.String()),
		slog.String("realized", domain.AmountString(f.RealizedProfit)),
		slog.String("drift", domain.AmountString(f.ProfitDrift)),
	)
	service.Publish(ctx, e.bus, e.logger, domain.ChannelRun, "run_executed", x.run)

	if snapErr == nil {
		x.handOffRefill(ctx, strategy, acct)
	}
	return x.run, nil
}

// handOffRefill queues funding work paid for by the run's profit.
func (x *execution) handOffRefill(ctx context.Context, strategy domain.Strategy, acct Accounting) {
	e := x.engine
	if e.refill == nil || !domain.IsPositive(acct.Realized) {
		return
	}
	job := RefillJob{
		Kind:       RefillTopUp,
		RunID:      x.run.ID,
		StrategyID: strategy.ID,
		Chain:      strategy.Chain,
		Network:    strategy.Network,
		Source:     domain.FundingExecutor,
	}
	switch {
	case x.run.Purpose == domain.PurposeTreasuryRefill:
		if !acct.NativeBase {
			x.log.WarnContext(ctx, "treasury refill needs a native base asset, sweep skipped")
			return
		}
		job.Kind = RefillSweep
		job.Amount = domain.Copy(acct.Realized)
	case x.run.Purpose == domain.PurposeFeePayerRefill:
	case e.cfg.RefillTriggerAmount != nil && acct.Realized.Cmp(e.cfg.RefillTriggerAmount) > 0:
	default:
		return
	}
	e.refill.Enqueue(job)
}

// fail finalizes the run as FAILED with the last known estimate. Realized
// profit stays nil.
func (x *execution) fail(ctx context.Context, reason string, cause error) (domain.Run, error) {
	e := x.engine
	ctx = context.WithoutCancel(ctx)
	f := domain.RunFinalization{
		Status:        domain.RunFailed,
		Waterfall:     x.estimate,
		ErrorMessage:  reason,
		FlashLoanUsed: x.run.FlashLoanUsed,
		FinalizedAt:   e.now().UTC(),
	}
	if x.estimate != nil {
		f.EstimatedProfit = domain.Copy(x.estimate.Net)
	}
	if err := e.runs.Finalize(ctx, x.run.ID, f); err != nil {
		return x.run, fmt.Errorf("executor: finalize failed run %s: %w (cause: %v)", x.run.ID, err, cause)
	}
	x.apply(f)
	x.log.WarnContext(ctx, "run failed", slog.String("reason", reason))
	service.Publish(ctx, e.bus, e.logger, domain.ChannelRun, "run_failed", x.run)
	if cause == nil {
		cause = errors.New(reason)
	}
	return x.run, fmt.Errorf("executor: run %s: %s: %w", x.run.ID, reason, cause)
}

// apply mirrors a finalization onto the in-memory run.
func (x *execution) apply(f domain.RunFinalization) {
	r := &x.run
	r.Status = f.Status
	if f.Waterfall != nil {
		r.Waterfall = *f.Waterfall
		r.NetProfitBps = f.Waterfall.NetBps
		r.MeetsThresholds = f.Waterfall.MeetsThresholds
		r.EstimatedGasCost = f.Waterfall.GasCost()
	}
	if f.EstimatedProfit != nil {
		r.EstimatedProfit = f.EstimatedProfit
	}
	r.RealizedProfit = f.RealizedProfit
	r.ProfitDrift = f.ProfitDrift
	r.NativeDelta = f.NativeDelta
	r.ResidualOutDelta = f.ResidualOutDelta
	r.TxSignature = f.TxSignature
	r.FeePayer = f.FeePayer
	r.ErrorMessage = f.ErrorMessage
	r.FlashLoanUsed = f.FlashLoanUsed
	at := f.FinalizedAt
	r.FinalizedAt = &at
}
