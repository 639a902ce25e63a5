package postgres

import (
	"context"
	"math/big"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

func TestNumericRoundTrip(t *testing.T) {
	huge, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	require.True(t, ok)
	for _, v := range []*big.Int{big.NewInt(0), big.NewInt(-1500), big.NewInt(1_000_000), huge} {
		assert.Equal(t, v.String(), fromNumeric(toNumeric(v)).String())
	}
	assert.Nil(t, fromNumeric(toNumeric(nil)))
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t,
		"postgres://arb:p%40ss@db:5433/arbbot?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 5433, Database: "arbbot", User: "arb", Password: "p@ss", SSLMode: "require"}),
	)
	assert.Equal(t,
		"postgres://arb:@localhost:5432/arbbot?sslmode=disable",
		DSN(ClientConfig{Host: "localhost", Database: "arbbot", User: "arb"}),
	)
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.True(t, slices.IsSorted(names))
	assert.Equal(t, "001_init.sql", names[0])
}

func TestStores(t *testing.T) {
	client := setupTestDB(t)
	pool := client.Pool()
	ctx := context.Background()

	strategies := NewStrategyStore(pool)
	runs := NewRunStore(pool)
	ledger := NewRiskLedgerStore(pool)
	settings := NewSettingsStore(pool)

	st := domain.Strategy{
		ID: "sol-usdc", Name: "SOL/USDC", Chain: "solana", Network: domain.NetworkMainnet,
		TokenIn: "USDC", TokenOut: "SOL", TokenInDecimals: 6, TradeAmount: big.NewInt(100_000_000),
		SlippageBps: 50, Enabled: true,
		Risk: domain.RiskLimits{
			MinProfit: big.NewInt(1000), MinProfitGasRatio: decimal.RequireFromString("1.5"),
			MaxDailyLoss: big.NewInt(5_000_000), MaxTradesPerDay: 10,
		},
		FlashLoan: &domain.FlashLoanConfig{Provider: "solend", LoanToken: "USDC", LoanAmount: big.NewInt(1e9), FeeBps: 9},
		Tags:      []string{domain.TagFeePayerRefill},
	}

	t.Run("strategy", func(t *testing.T) {
		require.NoError(t, strategies.Upsert(ctx, st))
		got, err := strategies.Get(ctx, st.ID)
		require.NoError(t, err)
		assert.Equal(t, "100000000", got.TradeAmount.String())
		assert.Equal(t, "1.5", got.Risk.MinProfitGasRatio.String())
		require.NotNil(t, got.FlashLoan)
		assert.Equal(t, "1000000000", got.FlashLoan.LoanAmount.String())
		assert.Equal(t, domain.PurposeFeePayerRefill, got.Purpose())

		require.NoError(t, strategies.SetEnabled(ctx, st.ID, true, true))
		got, err = strategies.Get(ctx, st.ID)
		require.NoError(t, err)
		assert.True(t, got.AutoEnabled)

		assert.ErrorIs(t, strategies.SetEnabled(ctx, "missing", true, true), domain.ErrNotFound)
	})

	t.Run("run transitions", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		run := domain.Run{
			ID: "run-1", StrategyID: st.ID, Chain: st.Chain, Network: st.Network,
			Purpose: domain.PurposeManual, Status: domain.RunSimulated,
			InputAmount: big.NewInt(100_000_000), EstimatedProfit: big.NewInt(200_000),
			Waterfall: domain.Waterfall{Net: big.NewInt(200_000), NetBps: 20, MeetsThresholds: true},
			CreatedAt: now,
		}
		require.NoError(t, runs.Create(ctx, run))
		assert.ErrorIs(t, runs.Create(ctx, run), domain.ErrAlreadyExists)

		require.NoError(t, runs.MarkDecision(ctx, run.ID, domain.DecisionApproved, "", true, now))
		assert.ErrorIs(t, runs.MarkDecision(ctx, run.ID, domain.DecisionRejected, "x", false, now), domain.ErrConflict)
		assert.ErrorIs(t, runs.MarkDecision(ctx, "nope", domain.DecisionRejected, "x", false, now), domain.ErrNotFound)

		n, err := runs.CountApprovedPending(ctx, st.ID, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		approved, err := runs.ListApproved(ctx, true)
		require.NoError(t, err)
		require.Len(t, approved, 1)

		require.NoError(t, runs.Finalize(ctx, run.ID, domain.RunFinalization{
			Status: domain.RunExecuted, RealizedProfit: big.NewInt(-150), TxSignature: "sig", FinalizedAt: now,
		}))
		assert.ErrorIs(t, runs.Finalize(ctx, run.ID, domain.RunFinalization{Status: domain.RunFailed, FinalizedAt: now}), domain.ErrConflict)

		got, err := runs.Get(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunExecuted, got.Status)
		assert.Equal(t, "-150", got.RealizedProfit.String())
		assert.Equal(t, "200000", got.Waterfall.Net.String())
		assert.EqualValues(t, 20, got.NetProfitBps)

		list, err := runs.List(ctx, domain.RunFilter{Status: domain.RunExecuted}, domain.ListOpts{Limit: 10})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("ledger concurrent record", func(t *testing.T) {
		day := time.Now().UTC()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := ledger.Record(ctx, st.ID, st.Chain, day, big.NewInt(-7))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		l, err := ledger.Get(ctx, st.ID, st.Chain, day)
		require.NoError(t, err)
		assert.Equal(t, 20, l.TradeCount)
		assert.Equal(t, "-140", l.RealizedPnL.String())

		totals, err := ledger.Totals(ctx, day)
		require.NoError(t, err)
		assert.Equal(t, 20, totals.TradeCount)
	})

	t.Run("settings version", func(t *testing.T) {
		require.NoError(t, settings.Init(ctx, domain.Settings{
			NetworkMode:  domain.ModeMainnet,
			ChainFunding: map[domain.Chain]domain.ChainFunding{"solana": {MinBalance: big.NewInt(5e7), TopUpAmount: big.NewInt(1e8)}},
		}))
		cur, err := settings.Get(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, cur.Version)
		f, ok := cur.Funding("solana")
		require.True(t, ok)
		assert.Equal(t, "100000000", f.TopUpAmount.String())

		next := cur.Clone()
		next.SafeMode = true
		updated, err := settings.Update(ctx, cur.Version, next)
		require.NoError(t, err)
		assert.EqualValues(t, 2, updated.Version)

		_, err = settings.Update(ctx, cur.Version, next)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("fee payers and alerts", func(t *testing.T) {
		fps := NewFeePayerStore(pool)
		fp := domain.FeePayer{ID: "fp-1", Address: "Addr1", Chain: "solana", Network: domain.NetworkMainnet, Active: true, Source: domain.FeePayerGenerated}
		require.NoError(t, fps.Create(ctx, fp))
		fp.ID = "fp-2"
		assert.ErrorIs(t, fps.Create(ctx, fp), domain.ErrAlreadyExists)

		require.NoError(t, fps.UpdateBalance(ctx, "fp-1", big.NewInt(42), time.Now()))
		require.NoError(t, fps.MarkUsed(ctx, "fp-1", time.Now()))
		got, err := fps.Get(ctx, "fp-1")
		require.NoError(t, err)
		assert.Equal(t, "42", got.Balance.String())
		assert.EqualValues(t, 1, got.UsageCount)

		alerts := NewAlertStore(pool)
		require.NoError(t, alerts.Create(ctx, domain.Alert{ID: "a1", Kind: domain.AlertSafeMode, Severity: domain.SeverityCritical, Message: "tripped"}))
		n, err := alerts.AcknowledgeAll(ctx, "ops", time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		open, err := alerts.ListOpen(ctx)
		require.NoError(t, err)
		assert.Empty(t, open)
	})

	t.Run("audit", func(t *testing.T) {
		audit := NewAuditStore(pool)
		require.NoError(t, audit.Log(ctx, "settings.automation", map[string]any{"enabled": true, "operator": "alice"}))
		require.NoError(t, audit.Log(ctx, "safe_mode.trip", nil))

		entries, err := audit.List(ctx, domain.ListOpts{Limit: 10})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		byEvent := make(map[string]domain.AuditEntry, len(entries))
		for _, e := range entries {
			byEvent[e.Event] = e
		}
		assert.Equal(t, "system", byEvent["safe_mode.trip"].Actor)
		assert.Nil(t, byEvent["safe_mode.trip"].Detail)
		assert.Equal(t, "alice", byEvent["settings.automation"].Actor)
		assert.Equal(t, true, byEvent["settings.automation"].Detail["enabled"])
	})
}
