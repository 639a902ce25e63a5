package arbitrage

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

const (
	usdc = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	sol  = "So11111111111111111111111111111111111111112"
)

func legs(amount, aOut, bOut, feeA, feeB int64) (domain.Quote, domain.Quote) {
	a := domain.Quote{
		InputMint: usdc, OutputMint: sol,
		InAmount: big.NewInt(amount), OutAmount: big.NewInt(aOut),
		Route: []domain.RouteHop{{Venue: "Orca", FeeAmount: big.NewInt(feeA), FeeMint: usdc}},
	}
	b := domain.Quote{
		InputMint: sol, OutputMint: usdc,
		InAmount: big.NewInt(aOut), OutAmount: big.NewInt(bOut),
		Route: []domain.RouteHop{{Venue: "Raydium", FeeAmount: big.NewInt(feeB), FeeMint: usdc}},
	}
	return a, b
}

func scenarioInputs(minProfit int64) Inputs {
	a, b := legs(100_000_000, 101_000_000, 100_500_000, 100_000, 100_000)
	return Inputs{
		Amount:           big.NewInt(100_000_000),
		LegA:             a,
		LegB:             b,
		BaseMint:         usdc,
		PriorityFee:      big.NewInt(25_000),
		ComputeBudgetFee: big.NewInt(25_000),
		Thresholds: Thresholds{
			SlippageBufferBps: 5,
			MinNetProfit:      big.NewInt(minProfit),
		},
	}
}

func TestComputeRoundTripScenario(t *testing.T) {
	w, err := Compute(scenarioInputs(150_000))
	require.NoError(t, err)

	assert.Equal(t, int64(500_000), w.Gross.Int64())
	assert.Equal(t, int64(50_000), w.SlippageBuffer.Int64())
	assert.Equal(t, int64(300_000), w.TotalCosts.Int64())
	assert.Equal(t, int64(200_000), w.Net.Int64())
	assert.Equal(t, int64(20), w.NetBps)
	assert.True(t, w.MeetsThresholds)
	assert.Equal(t, int64(50_000), w.GasCost().Int64())
}

func TestComputeSumsItemizedCosts(t *testing.T) {
	in := scenarioInputs(0)
	in.FlashLoanFee = big.NewInt(9_000)
	w, err := Compute(in)
	require.NoError(t, err)

	sum := new(big.Int)
	for _, c := range []*big.Int{w.RouteFeeA, w.RouteFeeB, w.PriorityFee, w.ComputeBudgetFee, w.SlippageBuffer, w.FlashLoanFee} {
		sum.Add(sum, c)
	}
	assert.Equal(t, sum, w.TotalCosts)
	assert.Equal(t, new(big.Int).Sub(w.Gross, w.TotalCosts), w.Net)
}

func TestComputeThresholdBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		minProfit int64
		minBps    int64
		maxNotion *big.Int
		want      bool
	}{
		{"net equals min profit", 200_000, 0, nil, true},
		{"net one below min profit", 200_001, 0, nil, false},
		{"bps equals min", 0, 20, nil, true},
		{"bps one above", 0, 21, nil, false},
		{"notional equals cap", 0, 0, big.NewInt(100_000_000), true},
		{"notional above cap", 0, 0, big.NewInt(99_999_999), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := scenarioInputs(tt.minProfit)
			in.Thresholds.MinNetProfitBps = tt.minBps
			in.Thresholds.MaxNotional = tt.maxNotion
			w, err := Compute(in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, w.MeetsThresholds)
		})
	}
}

func TestComputeDeterministic(t *testing.T) {
	first, err := Compute(scenarioInputs(150_000))
	require.NoError(t, err)
	for range 5 {
		again, err := Compute(scenarioInputs(150_000))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestComputeLosingTrade(t *testing.T) {
	a, b := legs(1_000, 990, 997, 0, 0)
	w, err := Compute(Inputs{Amount: big.NewInt(1_000), LegA: a, LegB: b, BaseMint: usdc})
	require.NoError(t, err)
	assert.Equal(t, int64(-3), w.Net.Int64())
	// floor(-30000 / 1000) = -30
	assert.Equal(t, int64(-30), w.NetBps)
	assert.False(t, w.MeetsThresholds)
}

func TestComputeRejectsBrokenChain(t *testing.T) {
	a, b := legs(1_000, 990, 997, 0, 0)
	b.InAmount = big.NewInt(989)
	_, err := Compute(Inputs{Amount: big.NewInt(1_000), LegA: a, LegB: b, BaseMint: usdc})
	assert.ErrorIs(t, err, domain.ErrLegMismatch)

	a, b = legs(1_000, 990, 997, 0, 0)
	_, err = Compute(Inputs{Amount: big.NewInt(999), LegA: a, LegB: b, BaseMint: usdc})
	assert.ErrorIs(t, err, domain.ErrLegMismatch)
}

func TestNetBps(t *testing.T) {
	assert.Equal(t, int64(0), NetBps(big.NewInt(100), big.NewInt(0)))
	assert.Equal(t, int64(0), NetBps(big.NewInt(100), big.NewInt(-5)))
	assert.Equal(t, int64(0), NetBps(big.NewInt(100), nil))
	// 1 * 10000 / 3 = 3333.33 -> 3333
	assert.Equal(t, int64(3333), NetBps(big.NewInt(1), big.NewInt(3)))
}

func TestThresholdsForStrategy(t *testing.T) {
	global := Thresholds{
		SlippageBufferBps: 5,
		MinNetProfit:      big.NewInt(100),
		MinNetProfitBps:   2,
		MaxNotional:       big.NewInt(1_000),
	}

	got := global.ForStrategy(domain.Strategy{})
	assert.Equal(t, global, got)

	got = global.ForStrategy(domain.Strategy{Risk: domain.RiskLimits{
		MinProfit:         big.NewInt(500),
		MinProfitBps:      10,
		MaxTradeNotional:  big.NewInt(600),
		MinProfitGasRatio: decimal.NewFromInt(2),
	}})
	assert.Equal(t, int64(500), got.MinNetProfit.Int64())
	assert.Equal(t, int64(10), got.MinNetProfitBps)
	assert.Equal(t, int64(600), got.MaxNotional.Int64())

	got = global.ForStrategy(domain.Strategy{Risk: domain.RiskLimits{MaxTradeNotional: big.NewInt(5_000)}})
	assert.Equal(t, int64(1_000), got.MaxNotional.Int64())
}

func TestFlashLoanFeeRoundsUp(t *testing.T) {
	assert.Equal(t, int64(9), FlashLoanFee(big.NewInt(100_000), 9).Int64())
	assert.Equal(t, int64(1), FlashLoanFee(big.NewInt(1), 9).Int64())
}
