package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/chain"
	"github.com/alanyoungcy/arbbot/internal/chain/chaintest"
	"github.com/alanyoungcy/arbbot/internal/crypto"
	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/executor"
	"github.com/alanyoungcy/arbbot/internal/server/handler"
	"github.com/alanyoungcy/arbbot/internal/service"
	"github.com/alanyoungcy/arbbot/internal/store/memory"
)

const testAPIKey = "test-key"

type fakeExecutor struct {
	runs  *memory.RunStore
	calls []executor.ExecuteOptions
	err   error
}

func (f *fakeExecutor) Execute(ctx context.Context, runID string, opts executor.ExecuteOptions) (domain.Run, error) {
	f.calls = append(f.calls, opts)
	run, err := f.runs.Get(ctx, runID)
	if err != nil {
		return domain.Run{}, err
	}
	if errors.Is(f.err, domain.ErrNotExecutable) {
		return run, f.err
	}
	if f.err != nil {
		if err := f.runs.Finalize(ctx, runID, domain.RunFinalization{
			Status:       domain.RunFailed,
			ErrorMessage: f.err.Error(),
			FinalizedAt:  time.Now().UTC(),
		}); err != nil {
			return run, err
		}
		run, _ = f.runs.Get(ctx, runID)
		return run, f.err
	}
	return run, nil
}

type fakeStages struct {
	got      domain.Stage
	cronIdle bool
	triggers int
}

func (f *fakeStages) TriggerCycle() (bool, error) {
	if f.cronIdle {
		return false, fmt.Errorf("cron loop not running: %w", domain.ErrConflict)
	}
	f.triggers++
	return f.triggers == 1, nil
}

func (f *fakeStages) RunStage(_ context.Context, stage domain.Stage) (domain.CycleLog, error) {
	f.got = stage
	return domain.CycleLog{
		ID:      "c1",
		Trigger: domain.TriggerManual,
		Status:  domain.CycleSuccess,
		Stages:  []domain.StageResult{{Stage: stage}},
	}, nil
}

type testServer struct {
	handler    http.Handler
	strategies *memory.StrategyStore
	runs       *memory.RunStore
	alerts     *service.AlertService
	settings   *service.SettingsService
	exec       *fakeExecutor
	stages     *fakeStages
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := memory.NewSignalBus(100)
	audit := memory.NewAuditStore()

	chains := chain.NewRegistry()
	chains.RegisterAdapter(chaintest.NewAdapter("solana", "SOL", "executor"))

	alerts := service.NewAlertService(memory.NewAlertStore(), bus, nil, logger)
	settings := service.NewSettingsService(memory.NewSettingsStore(), alerts, audit, bus, logger)
	require.NoError(t, settings.Init(context.Background(), domain.Settings{NetworkMode: domain.ModeMainnet}))
	ledger := memory.NewRiskLedgerStore()
	breaker := service.NewBreaker(settings, alerts, ledger, service.BreakerConfig{}, logger)
	feePayers := service.NewFeePayerService(memory.NewFeePayerStore(), memory.NewTopUpStore(), chains,
		crypto.NewKeyring(), settings, alerts, bus, service.FeePayerConfig{VaultPassword: "vault"}, logger)

	ts := &testServer{
		strategies: memory.NewStrategyStore(),
		runs:       memory.NewRunStore(),
		alerts:     alerts,
		settings:   settings,
		stages:     &fakeStages{},
	}
	ts.exec = &fakeExecutor{runs: ts.runs}
	cycles := memory.NewCycleLogStore()

	ts.handler = NewHandler(Config{APIKey: testAPIKey, RateLimit: rateLimit}, Handlers{
		Health:     handler.NewHealthHandler(nil, logger),
		Status:     handler.NewStatusHandler("server", []string{"solana"}, time.Now(), settings, alerts, logger),
		Settings:   handler.NewSettingsHandler(settings, breaker, logger),
		Strategies: handler.NewStrategyHandler(ts.strategies, audit, logger),
		Runs:       handler.NewRunHandler(ts.runs, ts.exec, logger),
		Alerts:     handler.NewAlertHandler(alerts, logger),
		FeePayers:  handler.NewFeePayerHandler(feePayers, logger),
		Cycles:     handler.NewCycleHandler(cycles, ts.stages, logger),
	}, nil, memory.NewRateLimiter(), logger)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("X-Operator", "alice")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func validStrategy() map[string]any {
	return map[string]any{
		"name":         "usdc-sol",
		"chain":        "solana",
		"network":      "mainnet",
		"token_in":     "USDC",
		"token_out":    "SOL",
		"trade_amount": 1_000_000,
		"slippage_bps": 50,
		"enabled":      true,
	}
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health is public")

	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/settings", nil).Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, 2)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/settings", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/settings", nil).Code)
	rec := ts.do(t, http.MethodGet, "/api/settings", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestSettingsToggles(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodPut, "/api/settings/automation", map[string]any{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s := decode[domain.Settings](t, rec)
	assert.True(t, s.AutomationEnabled)
	assert.EqualValues(t, 2, s.Version)

	rec = ts.do(t, http.MethodPut, "/api/settings/flash-loans", map[string]any{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[domain.Settings](t, rec).FlashLoansEnabled)

	rec = ts.do(t, http.MethodPut, "/api/settings/automation", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/settings/automation", map[string]any{"enabled": true, "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSafeModeTripAndClear(t *testing.T) {
	ts := newTestServer(t, 0)
	ctx := context.Background()

	rec := ts.do(t, http.MethodPost, "/api/safe-mode/trip", map[string]any{"reason": "oracle looks off"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s := decode[domain.Settings](t, rec)
	assert.True(t, s.SafeMode)
	assert.Equal(t, "oracle looks off (by alice)", s.SafeModeReason)

	open, err := ts.alerts.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, domain.AlertSafeMode, open[0].Kind)

	status := decode[map[string]any](t, ts.do(t, http.MethodGet, "/api/status", nil))
	assert.EqualValues(t, 1, status["open_alerts"])

	rec = ts.do(t, http.MethodPost, "/api/safe-mode/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[domain.Settings](t, rec).SafeMode)

	open, err = ts.alerts.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestStrategies(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodGet, "/api/strategies/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/strategies/s1", validStrategy())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[domain.Strategy](t, rec)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, "1000000", got.TradeAmount.String())

	bad := validStrategy()
	bad["token_out"] = "USDC"
	rec = ts.do(t, http.MethodPut, "/api/strategies/s2", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "must differ")

	rec = ts.do(t, http.MethodPut, "/api/strategies/s1/risk", map[string]any{"max_trades_per_day": 5, "max_daily_loss": 1000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[domain.Strategy](t, rec)
	assert.Equal(t, 5, got.Risk.MaxTradesPerDay)
	assert.Equal(t, "1000", got.Risk.MaxDailyLoss.String())

	rec = ts.do(t, http.MethodPut, "/api/strategies/s1/risk", map[string]any{"max_trades_per_day": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/strategies/s1/enabled", map[string]any{"auto_enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[domain.Strategy](t, rec)
	assert.True(t, got.Enabled, "omitted field keeps its value")
	assert.True(t, got.AutoEnabled)

	rec = ts.do(t, http.MethodPut, "/api/strategies/missing/enabled", map[string]any{"enabled": false})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	list := decode[map[string][]domain.Strategy](t, ts.do(t, http.MethodGet, "/api/strategies", nil))
	assert.Len(t, list["strategies"], 1)
}

func TestRuns(t *testing.T) {
	ts := newTestServer(t, 0)
	ctx := context.Background()
	for _, r := range []domain.Run{
		{ID: "r1", StrategyID: "s1", Status: domain.RunSimulated, Decision: domain.DecisionManualOnly, InputAmount: big.NewInt(1), CreatedAt: time.Now().UTC()},
		{ID: "r2", StrategyID: "s2", Status: domain.RunExecuted, Decision: domain.DecisionApproved, InputAmount: big.NewInt(1), CreatedAt: time.Now().UTC()},
		{ID: "r3", StrategyID: "s1", Status: domain.RunSimulated, Decision: domain.DecisionApproved, InputAmount: big.NewInt(1), CreatedAt: time.Now().UTC()},
	} {
		require.NoError(t, ts.runs.Create(ctx, r))
	}

	list := decode[map[string][]domain.Run](t, ts.do(t, http.MethodGet, "/api/runs?strategy_id=s1", nil))
	assert.Len(t, list["runs"], 2)

	rec := ts.do(t, http.MethodGet, "/api/runs?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	t.Run("execute manual", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/runs/r1/execute", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Len(t, ts.exec.calls, 1)
		assert.True(t, ts.exec.calls[0].Manual)
	})

	t.Run("not executable", func(t *testing.T) {
		ts.exec.err = domain.ErrNotExecutable
		defer func() { ts.exec.err = nil }()
		rec := ts.do(t, http.MethodPost, "/api/runs/r2/execute", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("attempted and failed", func(t *testing.T) {
		ts.exec.err = errors.New("settlement reverted")
		defer func() { ts.exec.err = nil }()
		rec := ts.do(t, http.MethodPost, "/api/runs/r3/execute", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[struct {
			Run   domain.Run `json:"run"`
			Error string     `json:"error"`
		}](t, rec)
		assert.Equal(t, domain.RunFailed, resp.Run.Status)
		assert.Equal(t, "settlement reverted", resp.Error)
	})
}

func TestFeePayers(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodPost, "/api/fee-payers/generate", map[string]any{"chain": "solana", "count": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	generated := decode[map[string][]domain.FeePayer](t, rec)["fee_payers"]
	require.Len(t, generated, 2)
	assert.Equal(t, domain.FeePayerGenerated, generated[0].Source)
	assert.NotContains(t, rec.Body.String(), "encrypted")

	rec = ts.do(t, http.MethodPost, "/api/fee-payers/generate", map[string]any{"chain": "solana", "count": 500})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/fee-payers/generate", map[string]any{"chain": "base"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unsupported chain")

	rec = ts.do(t, http.MethodPost, "/api/fee-payers", map[string]any{
		"chain": "solana", "address": "ext-1", "secret": "deadbeef", "encoding": "hex",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, domain.FeePayerRegistered, decode[domain.FeePayer](t, rec).Source)

	rec = ts.do(t, http.MethodPost, "/api/fee-payers", map[string]any{
		"chain": "solana", "address": "ext-2", "secret": "zz", "encoding": "hex",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/fee-payers/"+generated[0].ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	active := decode[map[string][]domain.FeePayer](t, ts.do(t, http.MethodGet, "/api/fee-payers?active=true", nil))
	assert.Len(t, active["fee_payers"], 2)

	rec = ts.do(t, http.MethodPost, "/api/fee-payers/missing/deactivate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	topUps := decode[map[string][]domain.TopUp](t, ts.do(t, http.MethodGet, "/api/top-ups", nil))
	assert.NotNil(t, topUps["top_ups"])
}

func TestAlertsAck(t *testing.T) {
	ts := newTestServer(t, 0)
	ctx := context.Background()
	_, _, err := ts.alerts.Raise(ctx, domain.Alert{Kind: domain.AlertRefillFailed, Severity: domain.SeverityWarning, Key: "k", Message: "refill failed"})
	require.NoError(t, err)

	open := decode[map[string][]domain.Alert](t, ts.do(t, http.MethodGet, "/api/alerts?open=true", nil))
	assert.Len(t, open["alerts"], 1)

	rec := ts.do(t, http.MethodPost, "/api/alerts/ack", map[string]any{"operator": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["acknowledged"])

	all := decode[map[string][]domain.Alert](t, ts.do(t, http.MethodGet, "/api/alerts", nil))
	require.Len(t, all["alerts"], 1)
	assert.Equal(t, "bob", all["alerts"][0].AcknowledgedBy)
}

func TestStagesAndCycles(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodPost, "/api/stages/decide", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StageDecide, ts.stages.got)
	assert.Equal(t, domain.CycleSuccess, decode[domain.CycleLog](t, rec).Status)

	rec = ts.do(t, http.MethodPost, "/api/stages/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	cycles := decode[map[string][]domain.CycleLog](t, ts.do(t, http.MethodGet, "/api/cycles", nil))
	assert.NotNil(t, cycles["cycles"])
}

func TestTriggerCycle(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodPost, "/api/cycles/trigger", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, decode[map[string]bool](t, rec)["queued"])

	rec = ts.do(t, http.MethodPost, "/api/cycles/trigger", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, decode[map[string]bool](t, rec)["queued"])

	ts.stages.cronIdle = true
	rec = ts.do(t, http.MethodPost, "/api/cycles/trigger", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealth_ReportsFailingComponent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, logger)

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"postgres": "ok", "redis": "connection refused"}, body["components"])
}
