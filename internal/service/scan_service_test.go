package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/chain/chaintest"
	"github.com/alanyoungcy/arbbot/internal/domain"
)

func TestScanAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.addStrategy(t, testStrategy("profitable"))
	disabled := testStrategy("disabled")
	disabled.Enabled = false
	h.addStrategy(t, disabled)
	testnet := testStrategy("testnet")
	testnet.Network = domain.NetworkTestnet
	h.addStrategy(t, testnet)
	noRoute := testStrategy("no-route")
	noRoute.TokenOut = "BONK"
	h.addStrategy(t, noRoute)

	res, err := h.scan.ScanAll(ctx, h.currentSettings(t))
	require.NoError(t, err)
	assert.Equal(t, domain.StageScan, res.Stage)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Detail["no_route"])

	runs, err := h.runs.List(ctx, domain.RunFilter{}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, "profitable", run.StrategyID)
	assert.Equal(t, domain.RunSimulated, run.Status)
	assert.Equal(t, domain.DecisionPending, run.Decision)
	assert.True(t, run.MeetsThresholds)
	assert.False(t, run.QuoteSimulated)
	assert.Equal(t, "10000000", run.Waterfall.Gross.String())
	assert.Equal(t, "6060", run.EstimatedGasCost.String())
	assert.Equal(t, "8993940", run.EstimatedProfit.String())
	assert.EqualValues(t, 89, run.NetProfitBps)
	assert.Equal(t, []string{"Orca", "Raydium"}, run.Venues)
}

func TestScanStrategy_FallbackMarksSimulated(t *testing.T) {
	h := newHarness(t)
	h.source.SetLeg(nativeMint, usdcMint, chaintest.Leg{Num: 101, Den: 100, Fallback: true})
	st := h.addStrategy(t, testStrategy("s1"))

	run, err := h.scan.ScanStrategy(context.Background(), st, h.currentSettings(t))
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.True(t, run.QuoteSimulated)
	assert.Equal(t, domain.RunSimulated, run.Status)
}

// Both legs are real but the SOL -> USDC rate used to price fees is not.
func TestScanStrategy_FallbackNativeRateMarksSimulated(t *testing.T) {
	h := newHarness(t)
	h.source.SetLeg(usdcMint, "BONK", chaintest.Leg{Num: 1000, Den: 1})
	h.source.SetLeg("BONK", usdcMint, chaintest.Leg{Num: 101, Den: 100_000})
	h.source.SetLeg(nativeMint, usdcMint, chaintest.Leg{Num: 101, Den: 100, Fallback: true})
	st := testStrategy("bonk")
	st.TokenOut = "BONK"
	h.addStrategy(t, st)

	rt, err := h.pricer.Price(context.Background(), st, h.currentSettings(t))
	require.NoError(t, err)
	assert.False(t, domain.IsFallback(rt.LegA))
	assert.False(t, domain.IsFallback(rt.LegB))
	assert.True(t, rt.Simulated)

	run, err := h.scan.ScanStrategy(context.Background(), st, h.currentSettings(t))
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.True(t, run.QuoteSimulated)
}

func TestScanStrategy_QuoteErrorRecordsFailedRun(t *testing.T) {
	h := newHarness(t)
	quoteErr := &domain.QuoteError{Op: "quote", Transient: true, Err: errors.New("connection reset")}
	h.source.SetLeg(usdcMint, nativeMint, chaintest.Leg{Err: quoteErr})
	st := h.addStrategy(t, testStrategy("s1"))

	run, err := h.scan.ScanStrategy(context.Background(), st, h.currentSettings(t))
	require.Error(t, err)
	var qe *domain.QuoteError
	assert.True(t, errors.As(err, &qe))
	require.NotNil(t, run)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Equal(t, domain.DecisionRejected, run.Decision)
	assert.Contains(t, run.ErrorMessage, "connection reset")
	assert.Nil(t, run.RealizedProfit)

	stored, err := h.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, stored.Status)
}
