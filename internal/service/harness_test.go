package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/arbitrage"
	"github.com/alanyoungcy/arbbot/internal/chain"
	"github.com/alanyoungcy/arbbot/internal/chain/chaintest"
	"github.com/alanyoungcy/arbbot/internal/crypto"
	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/store/memory"
)

const (
	testChain    domain.Chain = "solana"
	nativeMint                = "SOL"
	usdcMint                  = "USDC"
	executorAddr              = "executor"
	treasuryAddr              = "treasury"
)

type harness struct {
	strategies *memory.StrategyStore
	runs       *memory.RunStore
	ledger     *memory.RiskLedgerStore
	payers     *memory.FeePayerStore
	topUps     *memory.TopUpStore
	alertStore *memory.AlertStore
	audit      *memory.AuditStore
	locks      *memory.LockManager
	bus        *memory.SignalBus

	adapter *chaintest.Adapter
	source  *chaintest.Source
	chains  *chain.Registry
	keys    *crypto.Keyring

	alerts    *AlertService
	settings  *SettingsService
	breaker   *Breaker
	decision  *DecisionService
	pricer    *Pricer
	scan      *ScanService
	feePayers *FeePayerService
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultSettings() domain.Settings {
	return domain.Settings{
		AutomationEnabled: true,
		NetworkMode:       domain.ModeMainnet,
		ChainFunding: map[domain.Chain]domain.ChainFunding{
			testChain: {MinBalance: big.NewInt(1_000_000), TopUpAmount: big.NewInt(5_000_000)},
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := testLogger()
	h := &harness{
		strategies: memory.NewStrategyStore(),
		runs:       memory.NewRunStore(),
		ledger:     memory.NewRiskLedgerStore(),
		payers:     memory.NewFeePayerStore(),
		topUps:     memory.NewTopUpStore(),
		alertStore: memory.NewAlertStore(),
		audit:      memory.NewAuditStore(),
		locks:      memory.NewLockManager(),
		bus:        memory.NewSignalBus(100),
		adapter:    chaintest.NewAdapter(testChain, nativeMint, executorAddr),
		source:     chaintest.NewSource(),
		chains:     chain.NewRegistry(),
		keys:       crypto.NewKeyring(),
	}
	h.chains.RegisterAdapter(h.adapter)
	h.chains.RegisterQuoteSource(testChain, h.source)

	// USDC -> SOL at par, SOL -> USDC 1% richer.
	h.source.SetLeg(usdcMint, nativeMint, chaintest.Leg{Num: 1, Den: 1, Venue: "Orca"})
	h.source.SetLeg(nativeMint, usdcMint, chaintest.Leg{Num: 101, Den: 100, Venue: "Raydium"})

	h.alerts = NewAlertService(h.alertStore, h.bus, nil, logger)
	h.settings = NewSettingsService(memory.NewSettingsStore(), h.alerts, h.audit, h.bus, logger)
	require.NoError(t, h.settings.Init(context.Background(), defaultSettings()))

	h.breaker = NewBreaker(h.settings, h.alerts, h.ledger, BreakerConfig{
		MaxDivergenceBps:   5_000,
		MinDivergenceDelta: big.NewInt(10),
	}, logger)
	h.decision = NewDecisionService(h.runs, h.strategies, h.ledger, h.locks, h.bus, DecisionConfig{
		LockTTL:  5 * time.Second,
		LockWait: 5 * time.Second,
	}, logger)
	costs := NewCostEstimator(memory.NewQuoteCache(), CostConfig{}, logger)
	h.pricer = NewPricer(h.chains, costs, arbitrage.Thresholds{SlippageBufferBps: 10})
	h.scan = NewScanService(h.strategies, h.runs, h.pricer, h.bus, logger)
	h.feePayers = NewFeePayerService(h.payers, h.topUps, h.chains, h.keys, h.settings, h.alerts, h.bus, FeePayerConfig{
		Funding: map[domain.Chain]FundingRule{
			testChain: {Source: domain.FundingExecutor, TreasuryAddress: treasuryAddr, Reserve: big.NewInt(1_000_000)},
		},
		VaultPassword: "test-password",
	}, logger)
	return h
}

func testStrategy(id string) domain.Strategy {
	return domain.Strategy{
		ID:              id,
		Name:            "usdc-sol " + id,
		Chain:           testChain,
		Network:         domain.NetworkMainnet,
		TokenIn:         usdcMint,
		TokenOut:        nativeMint,
		TokenInDecimals: 6,
		TradeAmount:     big.NewInt(1_000_000_000),
		SlippageBps:     50,
		Enabled:         true,
		AutoEnabled:     true,
	}
}

func (h *harness) addStrategy(t *testing.T, st domain.Strategy) domain.Strategy {
	t.Helper()
	require.NoError(t, h.strategies.Upsert(context.Background(), st))
	return st
}

// pendingRun stores a profitable SIMULATED run awaiting a decision.
func (h *harness) pendingRun(t *testing.T, id, strategyID string) domain.Run {
	t.Helper()
	run := domain.Run{
		ID:               id,
		StrategyID:       strategyID,
		Chain:            testChain,
		Network:          domain.NetworkMainnet,
		Purpose:          domain.PurposeManual,
		Status:           domain.RunSimulated,
		Decision:         domain.DecisionPending,
		InputAmount:      big.NewInt(1_000_000_000),
		EstimatedProfit:  big.NewInt(8_000_000),
		EstimatedGasCost: big.NewInt(6_000),
		NetProfitBps:     80,
		MeetsThresholds:  true,
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, h.runs.Create(context.Background(), run))
	return run
}

func (h *harness) currentSettings(t *testing.T) domain.Settings {
	t.Helper()
	st, err := h.settings.Get(context.Background())
	require.NoError(t, err)
	return st
}
