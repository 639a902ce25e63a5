package executor

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
	"github.com/alanyoungcy/arbbot/internal/service"
	"github.com/alanyoungcy/arbbot/internal/store/memory"
)

const (
	testChain    domain.Chain = "solana"
	nativeMint                = "SOL"
	usdcMint                  = "USDC"
	executorAddr              = "executor"
)

type harness struct {
	strategies *memory.StrategyStore
	runs       *memory.RunStore
	ledger     *memory.RiskLedgerStore
	payers     *memory.FeePayerStore
	alertStore *memory.AlertStore
	locks      *memory.LockManager

	adapter    *chaintest.Adapter
	source     *chaintest.Source
	settings   *service.SettingsService
	feePayers  *service.FeePayerService
	flashLoans *FlashLoans
	engine     *Engine
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newHarness wires an engine over memory stores. refill may be nil.
func newHarness(t *testing.T, refill *RefillWorker, cfg Config) *harness {
	t.Helper()
	logger := testLogger()
	h := &harness{
		strategies: memory.NewStrategyStore(),
		runs:       memory.NewRunStore(),
		ledger:     memory.NewRiskLedgerStore(),
		payers:     memory.NewFeePayerStore(),
		alertStore: memory.NewAlertStore(),
		locks:      memory.NewLockManager(),
		adapter:    chaintest.NewAdapter(testChain, nativeMint, executorAddr),
		source:     chaintest.NewSource(),
		flashLoans: NewFlashLoans(),
	}
	chains := chain.NewRegistry()
	chains.RegisterAdapter(h.adapter)
	chains.RegisterQuoteSource(testChain, h.source)
	h.source.SetLeg(usdcMint, nativeMint, chaintest.Leg{Num: 1, Den: 1, Venue: "Orca"})
	h.source.SetLeg(nativeMint, usdcMint, chaintest.Leg{Num: 101, Den: 100, Venue: "Raydium"})

	bus := memory.NewSignalBus(100)
	alerts := service.NewAlertService(h.alertStore, bus, nil, logger)
	h.settings = service.NewSettingsService(memory.NewSettingsStore(), alerts, memory.NewAuditStore(), bus, logger)
	require.NoError(t, h.settings.Init(context.Background(), domain.Settings{
		AutomationEnabled: true,
		NetworkMode:       domain.ModeMainnet,
		ChainFunding: map[domain.Chain]domain.ChainFunding{
			testChain: {MinBalance: big.NewInt(1_000_000), TopUpAmount: big.NewInt(5_000_000)},
		},
	}))

	breaker := service.NewBreaker(h.settings, alerts, h.ledger, service.BreakerConfig{
		MaxDivergenceBps:   5_000,
		MinDivergenceDelta: big.NewInt(10),
	}, logger)
	costs := service.NewCostEstimator(memory.NewQuoteCache(), service.CostConfig{}, logger)
	pricer := service.NewPricer(chains, costs, arbitrage.Thresholds{SlippageBufferBps: 10})
	h.feePayers = service.NewFeePayerService(h.payers, memory.NewTopUpStore(), chains, crypto.NewKeyring(), h.settings, alerts, bus,
		service.FeePayerConfig{VaultPassword: "pw"}, logger)

	h.engine = NewEngine(h.runs, h.strategies, h.ledger, h.settings, pricer, chains, h.feePayers, breaker,
		h.locks, bus, refill, h.flashLoans, cfg, logger)
	return h
}

func testStrategy(id string) domain.Strategy {
	return domain.Strategy{
		ID:          id,
		Name:        id,
		Chain:       testChain,
		Network:     domain.NetworkMainnet,
		TokenIn:     usdcMint,
		TokenOut:    nativeMint,
		TradeAmount: big.NewInt(1_000_000_000),
		SlippageBps: 50,
		Enabled:     true,
		AutoEnabled: true,
	}
}

// approvedRun stores a strategy and a run already approved for it.
func (h *harness) approvedRun(t *testing.T, st domain.Strategy, decision domain.Decision) domain.Run {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.strategies.Upsert(ctx, st))
	run := domain.Run{
		ID:              "run-" + st.ID,
		StrategyID:      st.ID,
		Chain:           st.Chain,
		Network:         st.Network,
		Purpose:         st.Purpose(),
		Status:          domain.RunSimulated,
		Decision:        domain.DecisionPending,
		InputAmount:     domain.Copy(st.TradeAmount),
		EstimatedProfit: big.NewInt(9_000_000),
		MeetsThresholds: true,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, h.runs.Create(ctx, run))
	require.NoError(t, h.runs.MarkDecision(ctx, run.ID, decision, "", decision == domain.DecisionApproved, time.Now().UTC()))
	got, err := h.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	return got
}

// profitOnSubmit credits the executor with delta of token on every
// successful submission.
func profitOnSubmit(token string, delta int64) func(context.Context, *chaintest.Adapter, domain.SettlementUnit) (domain.Settlement, error) {
	return func(_ context.Context, a *chaintest.Adapter, _ domain.SettlementUnit) (domain.Settlement, error) {
		a.AddBalance(executorAddr, token, big.NewInt(delta))
		return domain.Settlement{Reference: "sig-ok", ConfirmedAt: time.Now().UTC()}, nil
	}
}

// recordTrades books n trades of pnl each on today's ledger.
func (h *harness) recordTrades(t *testing.T, strategyID string, n int, pnl int64) {
	t.Helper()
	day := domain.LedgerDay(time.Now())
	for range n {
		_, err := h.ledger.Record(context.Background(), strategyID, testChain, day, big.NewInt(pnl))
		require.NoError(t, err)
	}
}
