package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// ScanService prices every enabled strategy and records SIMULATED runs.
type ScanService struct {
	strategies domain.StrategyStore
	runs       domain.RunStore
	pricer     *Pricer
	bus        domain.SignalBus
	logger     *slog.Logger
	now        func() time.Time
}

// NewScanService creates a ScanService.
func NewScanService(strategies domain.StrategyStore, runs domain.RunStore, pricer *Pricer, bus domain.SignalBus, logger *slog.Logger) *ScanService {
	return &ScanService{
		strategies: strategies,
		runs:       runs,
		pricer:     pricer,
		bus:        bus,
		logger:     logger.With(slog.String("component", "scan")),
		now:        time.Now,
	}
}

// ScanAll scans every enabled strategy in the settings' network mode.
// Chains are scanned concurrently; strategies of one chain run in order.
func (s *ScanService) ScanAll(ctx context.Context, settings domain.Settings) (domain.StageResult, error) {
	res := domain.StageResult{Stage: domain.StageScan, StartedAt: s.now().UTC()}

	all, err := s.strategies.List(ctx)
	if err != nil {
		res.Err = err.Error()
		res.FinishedAt = s.now().UTC()
		return res, fmt.Errorf("scan_service: list strategies: %w", err)
	}

	byChain := make(map[domain.Chain][]domain.Strategy)
	for _, st := range all {
		if !st.Enabled || !settings.NetworkMode.Includes(st.Network) {
			continue
		}
		byChain[st.Chain] = append(byChain[st.Chain], st)
	}
	chains := make([]domain.Chain, 0, len(byChain))
	for c := range byChain {
		chains = append(chains, c)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })

	var (
		mu      sync.Mutex
		noRoute int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range chains {
		g.Go(func() error {
			for _, st := range byChain[c] {
				if err := gctx.Err(); err != nil {
					return err
				}
				run, err := s.ScanStrategy(gctx, st, settings)

				mu.Lock()
				res.Attempted++
				switch {
				case err != nil:
					res.AddError(fmt.Errorf("strategy %s: %w", st.ID, err))
				case run == nil:
					noRoute++
					res.Skipped++
				default:
					res.Succeeded++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()

	res.SetDetail("chains", len(chains))
	res.SetDetail("no_route", noRoute)
	res.FinishedAt = s.now().UTC()
	if err != nil {
		res.Err = err.Error()
		return res, fmt.Errorf("scan_service: %w", err)
	}
	return res, nil
}

// ScanStrategy prices one strategy. It returns a nil run when a leg has no
// route. Quote and pricing failures are recorded as FAILED runs and also
// returned as errors.
func (s *ScanService) ScanStrategy(ctx context.Context, st domain.Strategy, settings domain.Settings) (*domain.Run, error) {
	run := domain.Run{
		ID:          uuid.NewString(),
		StrategyID:  st.ID,
		Chain:       st.Chain,
		Network:     st.Network,
		Purpose:     st.Purpose(),
		Status:      domain.RunSimulated,
		Decision:    domain.DecisionPending,
		InputAmount: st.Notional(settings),
		CreatedAt:   s.now().UTC(),
	}

	rt, err := s.pricer.Price(ctx, st, settings)
	if err != nil {
		now := s.now().UTC()
		run.Status = domain.RunFailed
		run.Decision = domain.DecisionRejected
		run.DecisionReason = "scan failed"
		run.ErrorMessage = err.Error()
		run.FinalizedAt = &now
		if cerr := s.runs.Create(ctx, run); cerr != nil {
			return nil, fmt.Errorf("scan_service: record failed run: %w (scan error: %v)", cerr, err)
		}
		s.logger.WarnContext(ctx, "scan failed",
			slog.String("strategy_id", st.ID),
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
		publish(ctx, s.bus, s.logger, domain.ChannelRun, "run_failed", run)
		return &run, err
	}

	if rt.NoRouteLeg != "" {
		s.logger.InfoContext(ctx, "no route",
			slog.String("strategy_id", st.ID),
			slog.String("leg", rt.NoRouteLeg),
			slog.String("reason", rt.NoRouteReason),
		)
		return nil, nil
	}

	w := rt.Waterfall
	legA, _ := domain.QuoteOf(rt.LegA)
	legB, _ := domain.QuoteOf(rt.LegB)
	run.InputAmount = domain.Copy(rt.Amount)
	run.LegAOut = domain.Copy(w.LegAOut)
	run.LegBOut = domain.Copy(w.LegBOut)
	run.Waterfall = w
	run.EstimatedProfit = domain.Copy(w.Net)
	run.EstimatedGasCost = w.GasCost()
	run.NetProfitBps = w.NetBps
	run.MeetsThresholds = w.MeetsThresholds
	run.QuoteSimulated = rt.Simulated
	run.FlashLoanUsed = rt.FlashLoanUsed
	run.Venues = append(legA.Venues(), legB.Venues()...)

	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("scan_service: create run: %w", err)
	}
	s.logger.InfoContext(ctx, "run simulated",
		slog.String("strategy_id", st.ID),
		slog.String("run_id", run.ID),
		slog.String("net", w.Net.String()),
		slog.Int64("net_bps", w.NetBps),
		slog.Bool("meets_thresholds", w.MeetsThresholds),
		slog.Bool("simulated", rt.Simulated),
	)
	publish(ctx, s.bus, s.logger, domain.ChannelRun, "run_simulated", run)
	return &run, nil
}
