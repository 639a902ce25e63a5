package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// DecisionConfig tunes decision locking.
type DecisionConfig struct {
	LockTTL  time.Duration
	LockWait time.Duration
}

// DecisionService turns pending simulated runs into approved, manual_only
// or rejected. Each strategy is decided under its own lock and the global
// caps under a nested global lock, so concurrent deciders cannot overshoot
// a daily limit.
type DecisionService struct {
	runs       domain.RunStore
	strategies domain.StrategyStore
	ledger     domain.RiskLedgerStore
	locks      domain.LockManager
	bus        domain.SignalBus
	cfg        DecisionConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewDecisionService creates a DecisionService.
func NewDecisionService(
	runs domain.RunStore,
	strategies domain.StrategyStore,
	ledger domain.RiskLedgerStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	cfg DecisionConfig,
	logger *slog.Logger,
) *DecisionService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	return &DecisionService{
		runs:       runs,
		strategies: strategies,
		ledger:     ledger,
		locks:      locks,
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "decision")),
		now:        time.Now,
	}
}

// DecidePending decides every pending run, grouped by strategy.
func (s *DecisionService) DecidePending(ctx context.Context, settings domain.Settings) (res domain.StageResult, err error) {
	res = domain.StageResult{Stage: domain.StageDecide, StartedAt: s.now().UTC()}
	defer func() { res.FinishedAt = s.now().UTC() }()

	pending, err := s.runs.ListPendingDecision(ctx)
	if err != nil {
		res.Err = err.Error()
		return res, fmt.Errorf("decision_service: list pending: %w", err)
	}

	var order []string
	byStrategy := make(map[string][]domain.Run)
	for _, r := range pending {
		if _, ok := byStrategy[r.StrategyID]; !ok {
			order = append(order, r.StrategyID)
		}
		byStrategy[r.StrategyID] = append(byStrategy[r.StrategyID], r)
	}

	tally := map[domain.Decision]int{}
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			res.Err = err.Error()
			return res, err
		}
		s.decideStrategy(ctx, id, byStrategy[id], settings, &res, tally)
	}
	for d, n := range tally {
		res.SetDetail(string(d), n)
	}
	return res, nil
}

// Decide runs the decision logic for a single pending run.
func (s *DecisionService) Decide(ctx context.Context, runID string, settings domain.Settings) (domain.Run, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decision_service: get run %s: %w", runID, err)
	}
	if run.Status != domain.RunSimulated || run.Decision != domain.DecisionPending {
		return run, fmt.Errorf("decision_service: run %s already decided: %w", runID, domain.ErrConflict)
	}

	res := domain.StageResult{Stage: domain.StageDecide}
	s.decideStrategy(ctx, run.StrategyID, []domain.Run{run}, settings, &res, map[domain.Decision]int{})
	if res.Failed > 0 {
		return run, fmt.Errorf("decision_service: decide %s: %s", runID, res.Errors[0])
	}
	return s.runs.Get(ctx, runID)
}

func (s *DecisionService) decideStrategy(
	ctx context.Context,
	strategyID string,
	runs []domain.Run,
	settings domain.Settings,
	res *domain.StageResult,
	tally map[domain.Decision]int,
) {
	res.Attempted += len(runs)
	fail := func(err error) {
		for range runs {
			res.AddError(err)
		}
	}

	unlock, err := AcquireWait(ctx, s.locks, "decide:strategy:"+strategyID, s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		fail(fmt.Errorf("strategy %s: %w", strategyID, err))
		return
	}
	defer unlock()

	var strategy *domain.Strategy
	st, err := s.strategies.Get(ctx, strategyID)
	switch {
	case err == nil:
		strategy = &st
	case !errors.Is(err, domain.ErrNotFound):
		fail(fmt.Errorf("strategy %s: %w", strategyID, err))
		return
	}

	day := domain.LedgerDay(s.now())
	var ledger domain.DailyRiskLedger
	approvedPending := 0
	if strategy != nil {
		if ledger, err = s.ledger.Get(ctx, strategyID, strategy.Chain, day); err != nil {
			fail(fmt.Errorf("strategy %s: read ledger: %w", strategyID, err))
			return
		}
		if approvedPending, err = s.runs.CountApprovedPending(ctx, strategyID, day); err != nil {
			fail(fmt.Errorf("strategy %s: count approvals: %w", strategyID, err))
			return
		}
	}

	for _, run := range runs {
		reason := rejectReason(run, strategy, settings, ledger, ledger.TradeCount+approvedPending)
		decision := domain.DecisionRejected
		auto := false
		if reason == "" {
			decision, auto, reason, err = s.decideGlobal(ctx, run, strategy, settings, day)
		} else {
			err = s.mark(ctx, run, decision, reason, false)
		}
		switch {
		case errors.Is(err, domain.ErrConflict):
			res.Skipped++
			continue
		case err != nil:
			res.AddError(fmt.Errorf("run %s: %w", run.ID, err))
			continue
		}

		res.Succeeded++
		tally[decision]++
		if decision == domain.DecisionApproved {
			approvedPending++
		}
		s.logger.InfoContext(ctx, "run decided",
			slog.String("run_id", run.ID),
			slog.String("strategy_id", strategyID),
			slog.String("decision", string(decision)),
			slog.Bool("auto", auto),
			slog.String("reason", reason),
		)
	}
}

// decideGlobal applies the global caps under the global lock and records
// the decision before releasing it.
func (s *DecisionService) decideGlobal(
	ctx context.Context,
	run domain.Run,
	strategy *domain.Strategy,
	settings domain.Settings,
	day time.Time,
) (domain.Decision, bool, string, error) {
	unlock, err := AcquireWait(ctx, s.locks, "decide:global", s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		return "", false, "", err
	}
	defer unlock()

	totals, err := s.ledger.Totals(ctx, day)
	if err != nil {
		return "", false, "", fmt.Errorf("ledger totals: %w", err)
	}
	pending, err := s.runs.CountApprovedPending(ctx, "", day)
	if err != nil {
		return "", false, "", fmt.Errorf("count approvals: %w", err)
	}

	decision, auto, reason := domain.DecisionManualOnly, false, ""
	switch {
	case settings.GlobalMaxDailyTrades > 0 && totals.TradeCount+pending >= settings.GlobalMaxDailyTrades:
		decision = domain.DecisionRejected
		reason = fmt.Sprintf("global daily trade limit reached (%d/%d)", totals.TradeCount+pending, settings.GlobalMaxDailyTrades)
	case domain.IsPositive(settings.GlobalMaxDailyLoss) &&
		domain.LossMagnitude(totals.RealizedPnL).Cmp(settings.GlobalMaxDailyLoss) >= 0:
		decision = domain.DecisionRejected
		reason = fmt.Sprintf("global daily loss %s reached cap %s", domain.LossMagnitude(totals.RealizedPnL), settings.GlobalMaxDailyLoss)
	case strategy.AutoEnabled:
		decision, auto = domain.DecisionApproved, true
	}
	return decision, auto, reason, s.mark(ctx, run, decision, reason, auto)
}

func (s *DecisionService) mark(ctx context.Context, run domain.Run, decision domain.Decision, reason string, auto bool) error {
	at := s.now().UTC()
	if err := s.runs.MarkDecision(ctx, run.ID, decision, reason, auto, at); err != nil {
		return err
	}
	run.Decision, run.DecisionReason, run.AutoApproved, run.DecidedAt = decision, reason, auto, &at
	publish(ctx, s.bus, s.logger, domain.ChannelRun, "run_decided", run)
	return nil
}

// rejectReason applies the per-strategy checks in order and returns the
// first failing reason.
func rejectReason(run domain.Run, st *domain.Strategy, settings domain.Settings, ledger domain.DailyRiskLedger, tradesToday int) string {
	switch {
	case st == nil:
		return "strategy not found"
	case !st.Enabled:
		return "strategy disabled"
	case !settings.AutomationEnabled:
		return "automation disabled"
	case settings.SafeMode:
		return "safe mode active"
	case run.QuoteSimulated:
		return "quote simulated at scan"
	case !run.MeetsThresholds:
		return "below profit thresholds"
	}

	risk := st.Risk
	if domain.IsPositive(risk.MaxTradeNotional) && domain.OrZero(run.InputAmount).Cmp(risk.MaxTradeNotional) > 0 {
		return fmt.Sprintf("notional %s above max %s", domain.AmountString(run.InputAmount), risk.MaxTradeNotional)
	}
	if risk.MinProfitGasRatio.IsPositive() {
		profit := decimal.NewFromBigInt(domain.OrZero(run.EstimatedProfit), 0)
		gas := decimal.NewFromBigInt(domain.OrZero(run.EstimatedGasCost), 0)
		if profit.LessThan(gas.Mul(risk.MinProfitGasRatio)) {
			return fmt.Sprintf("profit/gas ratio below %s", risk.MinProfitGasRatio)
		}
	}
	if risk.MaxTradesPerDay > 0 && tradesToday >= risk.MaxTradesPerDay {
		return fmt.Sprintf("daily trade limit reached (%d/%d)", tradesToday, risk.MaxTradesPerDay)
	}
	if domain.IsPositive(risk.MaxDailyLoss) {
		if loss := domain.LossMagnitude(ledger.RealizedPnL); loss.Cmp(risk.MaxDailyLoss) >= 0 {
			return fmt.Sprintf("daily loss %s reached cap %s", loss, risk.MaxDailyLoss)
		}
	}
	return ""
}
