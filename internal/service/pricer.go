package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/arbbot/internal/arbitrage"
	"github.com/alanyoungcy/arbbot/internal/chain"
	"github.com/alanyoungcy/arbbot/internal/domain"
)

// RoundTrip is a priced TokenIn -> TokenOut -> TokenIn cycle.
type RoundTrip struct {
	Amount *big.Int
	LegA   domain.QuoteOutcome
	LegB   domain.QuoteOutcome
	// NoRouteLeg names the leg that had no route, "" when both routed.
	NoRouteLeg    string
	NoRouteReason string
	Waterfall     domain.Waterfall
	FlashLoanUsed bool
	// Simulated is set when either leg or the native cost rate is fallback
	// data.
	Simulated bool
}

// Pricer quotes both legs of a strategy and computes the waterfall. Scans
// and the pre-execution re-quote share it.
type Pricer struct {
	chains     *chain.Registry
	costs      *CostEstimator
	thresholds arbitrage.Thresholds
}

// NewPricer creates a Pricer with the global thresholds.
func NewPricer(chains *chain.Registry, costs *CostEstimator, thresholds arbitrage.Thresholds) *Pricer {
	return &Pricer{chains: chains, costs: costs, thresholds: thresholds}
}

// Price quotes leg A at the strategy notional and leg B at leg A's output.
func (p *Pricer) Price(ctx context.Context, st domain.Strategy, settings domain.Settings) (RoundTrip, error) {
	adapter, err := p.chains.Adapter(st.Chain, st.Network)
	if err != nil {
		return RoundTrip{}, err
	}
	source, err := p.chains.QuoteSource(st.Chain)
	if err != nil {
		return RoundTrip{}, err
	}

	rt := RoundTrip{Amount: st.Notional(settings), FlashLoanUsed: st.UsesFlashLoan(settings)}
	if !domain.IsPositive(rt.Amount) {
		return RoundTrip{}, fmt.Errorf("pricer: strategy %s has no positive notional", st.ID)
	}

	rt.LegA, err = source.Quote(ctx, domain.QuoteRequest{
		InputMint:   st.TokenIn,
		OutputMint:  st.TokenOut,
		Amount:      rt.Amount,
		SlippageBps: st.SlippageBps,
		Venues:      st.LegAVenues,
	})
	if err != nil {
		return RoundTrip{}, fmt.Errorf("pricer: leg A: %w", err)
	}
	if nr, ok := rt.LegA.(domain.NoRoute); ok {
		rt.NoRouteLeg, rt.NoRouteReason = "A", nr.Reason
		return rt, nil
	}
	legA, _ := domain.QuoteOf(rt.LegA)

	rt.LegB, err = source.Quote(ctx, domain.QuoteRequest{
		InputMint:   st.TokenOut,
		OutputMint:  st.TokenIn,
		Amount:      legA.OutAmount,
		SlippageBps: st.SlippageBps,
		Venues:      st.LegBVenues,
	})
	if err != nil {
		return RoundTrip{}, fmt.Errorf("pricer: leg B: %w", err)
	}
	if nr, ok := rt.LegB.(domain.NoRoute); ok {
		rt.NoRouteLeg, rt.NoRouteReason = "B", nr.Reason
		return rt, nil
	}
	legB, _ := domain.QuoteOf(rt.LegB)
	costs, err := p.costs.Estimate(ctx, adapter, source, st.TokenIn)
	if err != nil {
		return RoundTrip{}, fmt.Errorf("pricer: %w", err)
	}
	rt.Simulated = domain.IsFallback(rt.LegA) || domain.IsFallback(rt.LegB) || costs.Simulated
	var flashFee *big.Int
	if rt.FlashLoanUsed {
		flashFee = arbitrage.FlashLoanFee(rt.Amount, st.FlashLoan.FeeBps)
	}

	rt.Waterfall, err = arbitrage.Compute(arbitrage.Inputs{
		Amount:           rt.Amount,
		LegA:             legA,
		LegB:             legB,
		BaseMint:         st.TokenIn,
		PriorityFee:      costs.Priority,
		ComputeBudgetFee: costs.Compute,
		FlashLoanFee:     flashFee,
		Thresholds:       p.thresholds.ForStrategy(st),
	})
	if err != nil {
		return RoundTrip{}, fmt.Errorf("pricer: %w", err)
	}
	return rt, nil
}
