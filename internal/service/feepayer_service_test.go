package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/crypto"
	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/store/memory"
)

// brokenBalances is a fee payer store that cannot persist balances.
type brokenBalances struct {
	*memory.FeePayerStore
}

func (brokenBalances) UpdateBalance(context.Context, string, *big.Int, time.Time) error {
	return errors.New("disk full")
}

func TestFeePayers_TopUpRespectsReserve(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	payers, err := h.feePayers.Generate(ctx, testChain, domain.NetworkMainnet, 1)
	require.NoError(t, err)
	payer := payers[0]

	// 5,000,000 top-up + 1,000,000 reserve + 5,000 fee is not covered.
	h.adapter.SetBalance(executorAddr, "", 6_004_999)
	for range 2 {
		res, err := h.feePayers.CheckAndTopUp(ctx, domain.FundingConfigured)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Attempted)
		assert.Equal(t, 1, res.Skipped)
	}
	assert.Empty(t, h.adapter.Transfers())

	open, err := h.alerts.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1, "shortfall alert is deduplicated")
	assert.Equal(t, domain.AlertFeePayerShortfall, open[0].Kind)

	logs, err := h.feePayers.TopUps(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.TopUpSkipped, logs[0].Status)

	h.adapter.SetBalance(executorAddr, "", 6_005_000)
	res, err := h.feePayers.CheckAndTopUp(ctx, domain.FundingConfigured)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, "1000000", h.adapter.Balance(executorAddr, "").String())
	assert.Equal(t, "5000000", h.adapter.Balance(payer.Address, "").String())

	logs, err = h.feePayers.TopUps(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.TopUpCompleted, logs[0].Status)
	assert.NotEmpty(t, logs[0].TxSignature)

	// Funded payers are left alone.
	res, err = h.feePayers.CheckAndTopUp(ctx, domain.FundingConfigured)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Attempted)
}

func TestFeePayers_TreasurySource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.feePayers.Generate(ctx, testChain, domain.NetworkMainnet, 1)
	require.NoError(t, err)
	h.adapter.SetBalance(treasuryAddr, "", 100_000_000)

	res, err := h.feePayers.CheckAndTopUp(ctx, domain.FundingTreasury)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	transfers := h.adapter.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, treasuryAddr, transfers[0].From)
}

func TestFeePayers_AcquireLeastRecentlyUsed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	h.feePayers.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	generated, err := h.feePayers.Generate(ctx, testChain, domain.NetworkMainnet, 2)
	require.NoError(t, err)
	// Registered without a key: never selected.
	keyless, err := h.feePayers.Register(ctx, testChain, domain.NetworkMainnet, "external", nil)
	require.NoError(t, err)
	poor, err := h.feePayers.Register(ctx, testChain, domain.NetworkMainnet, "poor", []byte("k"))
	require.NoError(t, err)

	for _, fp := range append(generated, keyless) {
		require.NoError(t, h.payers.UpdateBalance(ctx, fp.ID, big.NewInt(2_000_000), clock))
	}
	require.NoError(t, h.payers.UpdateBalance(ctx, poor.ID, big.NewInt(10), clock))

	settings := h.currentSettings(t)
	seen := map[string]int{}
	for range 4 {
		fp, ok, err := h.feePayers.Acquire(ctx, testChain, domain.NetworkMainnet, settings)
		require.NoError(t, err)
		require.True(t, ok)
		seen[fp.Address]++
	}
	assert.Equal(t, map[string]int{generated[0].Address: 2, generated[1].Address: 2}, seen)

	stored, err := h.payers.Get(ctx, generated[0].ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stored.UsageCount)

	require.NoError(t, h.feePayers.Deactivate(ctx, generated[0].ID))
	require.NoError(t, h.feePayers.Deactivate(ctx, generated[1].ID))
	_, ok, err := h.feePayers.Acquire(ctx, testChain, domain.NetworkMainnet, settings)
	require.NoError(t, err)
	assert.False(t, ok, "executor pays when no payer qualifies")
}

func TestFeePayers_LoadKeys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	generated, err := h.feePayers.Generate(ctx, testChain, domain.NetworkMainnet, 2)
	require.NoError(t, err)

	fresh := crypto.NewKeyring()
	h.feePayers.keys = fresh
	n, err := h.feePayers.LoadKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, fp := range generated {
		assert.True(t, fresh.Has(fp.Address))
	}

	h.feePayers.cfg.VaultPassword = "wrong"
	h.feePayers.keys = crypto.NewKeyring()
	_, err = h.feePayers.LoadKeys(ctx)
	assert.Error(t, err)
}

func TestFeePayers_Sweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.adapter.SetBalance(executorAddr, "", 10_000_000)

	topUp, err := h.feePayers.Sweep(ctx, testChain, domain.NetworkMainnet, big.NewInt(4_000_000), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TopUpCompleted, topUp.Status)
	assert.Equal(t, "4000000", h.adapter.Balance(treasuryAddr, "").String())

	_, err = h.feePayers.Sweep(ctx, testChain, domain.NetworkMainnet, big.NewInt(0), "run-2")
	assert.Error(t, err)
}

func TestFeePayers_TopUpChainReportsRefreshFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	store := brokenBalances{FeePayerStore: h.payers}
	svc := NewFeePayerService(store, h.topUps, h.chains, h.keys, h.settings, h.alerts, h.bus, FeePayerConfig{
		Funding: map[domain.Chain]FundingRule{
			testChain: {Source: domain.FundingExecutor, Reserve: big.NewInt(1_000_000)},
		},
		VaultPassword: "test-password",
	}, testLogger())
	_, err := svc.Generate(ctx, testChain, domain.NetworkMainnet, 1)
	require.NoError(t, err)
	h.adapter.SetBalance(executorAddr, "", 100_000_000)

	res, err := svc.TopUpChain(ctx, testChain, domain.NetworkMainnet, domain.FundingConfigured, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "refresh balances")
	assert.Contains(t, res.Errors[0], "disk full")
	assert.Equal(t, 1, res.Succeeded, "the top-up itself still goes out")

	_, err = svc.RefreshBalances(ctx)
	assert.ErrorContains(t, err, "disk full")
}
