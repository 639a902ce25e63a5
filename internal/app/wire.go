package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbbot/internal/arbitrage"
	s3blob "github.com/alanyoungcy/arbbot/internal/blob/s3"
	"github.com/alanyoungcy/arbbot/internal/cache/redis"
	"github.com/alanyoungcy/arbbot/internal/chain"
	"github.com/alanyoungcy/arbbot/internal/chain/evm"
	"github.com/alanyoungcy/arbbot/internal/chain/solana"
	"github.com/alanyoungcy/arbbot/internal/config"
	"github.com/alanyoungcy/arbbot/internal/crypto"
	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/executor"
	"github.com/alanyoungcy/arbbot/internal/notify"
	"github.com/alanyoungcy/arbbot/internal/pipeline"
	"github.com/alanyoungcy/arbbot/internal/platform/jupiter"
	"github.com/alanyoungcy/arbbot/internal/server/handler"
	"github.com/alanyoungcy/arbbot/internal/service"
	"github.com/alanyoungcy/arbbot/internal/store/memory"
	"github.com/alanyoungcy/arbbot/internal/store/postgres"
)

// signalBusMaxLen bounds each in-process bus channel.
const signalBusMaxLen = 10000

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Strategies domain.StrategyStore
	Runs       domain.RunStore
	Ledger     domain.RiskLedgerStore
	FeePayers  domain.FeePayerStore
	TopUps     domain.TopUpStore
	Settings   domain.SettingsStore
	Cycles     domain.CycleLogStore
	Alerts     domain.AlertStore
	Audit      domain.AuditStore

	// Coordination
	Locks       domain.LockManager
	Bus         domain.SignalBus
	QuoteCache  domain.QuoteCache
	RateLimiter domain.RateLimiter

	Keys   *crypto.Keyring
	Chains *chain.Registry

	// Services
	AlertSvc     *service.AlertService
	SettingsSvc  *service.SettingsService
	Breaker      *service.Breaker
	Pricer       *service.Pricer
	Scanner      *service.ScanService
	Decider      *service.DecisionService
	FeePayerSvc  *service.FeePayerService
	Refill       *executor.RefillWorker
	Engine       *executor.Engine
	Orchestrator *pipeline.Orchestrator

	// Archiver is nil unless archival is enabled.
	Archiver *pipeline.Archiver

	// HealthChecks are reported by GET /api/health.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(step string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", step, err)
	}

	deps := &Dependencies{HealthChecks: map[string]handler.HealthCheck{}}

	// --- Persistence ---
	if cfg.Database.Driver == "postgres" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.Strategies = postgres.NewStrategyStore(pool)
		deps.Runs = postgres.NewRunStore(pool)
		deps.Ledger = postgres.NewRiskLedgerStore(pool)
		deps.FeePayers = postgres.NewFeePayerStore(pool)
		deps.TopUps = postgres.NewTopUpStore(pool)
		deps.Settings = postgres.NewSettingsStore(pool)
		deps.Cycles = postgres.NewCycleLogStore(pool)
		deps.Alerts = postgres.NewAlertStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	} else {
		logger.WarnContext(ctx, "using in-memory stores; state is lost on restart")
		deps.Strategies = memory.NewStrategyStore()
		deps.Runs = memory.NewRunStore()
		deps.Ledger = memory.NewRiskLedgerStore()
		deps.FeePayers = memory.NewFeePayerStore()
		deps.TopUps = memory.NewTopUpStore()
		deps.Settings = memory.NewSettingsStore()
		deps.Cycles = memory.NewCycleLogStore()
		deps.Alerts = memory.NewAlertStore()
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.QuoteCache = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		deps.Locks = memory.NewLockManager()
		deps.Bus = memory.NewSignalBus(signalBusMaxLen)
		deps.QuoteCache = memory.NewQuoteCache()
		deps.RateLimiter = memory.NewRateLimiter()
	}

	// --- Keys and chains ---
	deps.Keys = crypto.NewKeyring()
	if err := loadChainKeys(cfg, deps.Keys); err != nil {
		return fail("keys", err)
	}

	deps.Chains = chain.NewRegistry()
	for _, name := range cfg.ChainNames() {
		adapter, err := newAdapter(ctx, name, cfg.Chains[name], deps.Keys, logger)
		if err != nil {
			return fail("chain "+name, err)
		}
		deps.Chains.RegisterAdapter(adapter)
		if c, ok := adapter.(interface{ Close() }); ok {
			closers = append(closers, c.Close)
		}
	}
	if cfg.Jupiter.Enabled {
		client := jupiter.NewClient(jupiter.ClientConfig{
			BaseURL:      cfg.Jupiter.BaseURL,
			APIKey:       cfg.Jupiter.APIKey,
			Timeout:      cfg.Jupiter.Timeout.Duration,
			MaxRetries:   cfg.Jupiter.MaxRetries,
			RetryBackoff: cfg.Jupiter.RetryBackoff.Duration,
		})
		src := jupiter.NewSource(client, deps.QuoteCache, deps.RateLimiter, jupiter.SourceConfig{
			FallbackEnabled:               cfg.Jupiter.FallbackEnabled,
			FallbackMaxAge:                cfg.Jupiter.FallbackMaxAge.Duration,
			RateLimit:                     cfg.Jupiter.RateLimit,
			RateWindow:                    cfg.Jupiter.RateWindow.Duration,
			ComputeUnitPriceMicroLamports: cfg.Jupiter.ComputeUnitPriceMicroLamports,
			WrapAndUnwrapSol:              cfg.Jupiter.WrapAndUnwrapSol,
		}, logger)
		deps.Chains.RegisterQuoteSource(domain.Chain(cfg.Jupiter.Chain), src)
	}

	// --- Object storage ---
	var blobArchiver domain.Archiver
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		blobArchiver = s3blob.NewArchiver(
			s3blob.NewBucket(s3Client),
			deps.Runs,
			deps.Cycles,
			deps.Audit,
		)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.AlertKinds, logger)

	// --- Services ---
	deps.AlertSvc = service.NewAlertService(deps.Alerts, deps.Bus, notifier, logger)
	deps.SettingsSvc = service.NewSettingsService(deps.Settings, deps.AlertSvc, deps.Audit, deps.Bus, logger)
	if err := deps.SettingsSvc.Init(ctx, defaultSettings(cfg)); err != nil {
		return fail("settings", err)
	}

	deps.Breaker = service.NewBreaker(deps.SettingsSvc, deps.AlertSvc, deps.Ledger, service.BreakerConfig{
		MaxDivergenceBps:   cfg.SafeMode.MaxDivergenceBps,
		MinDivergenceDelta: config.MustAmount(cfg.SafeMode.MinDivergenceDelta),
	}, logger)

	deps.Decider = service.NewDecisionService(deps.Runs, deps.Strategies, deps.Ledger, deps.Locks, deps.Bus,
		service.DecisionConfig{
			LockTTL:  cfg.Automation.DecisionLockTTL.Duration,
			LockWait: cfg.Automation.DecisionLockWait.Duration,
		}, logger)

	costs := service.NewCostEstimator(deps.QuoteCache, service.CostConfig{
		NativeQuoteAmount: config.MustAmount(cfg.Profit.NativeQuoteAmount),
		RateMaxAge:        cfg.Profit.RateMaxAge.Duration,
	}, logger)
	deps.Pricer = service.NewPricer(deps.Chains, costs, arbitrage.Thresholds{
		SlippageBufferBps: cfg.Profit.SlippageBufferBps,
		MinNetProfit:      config.MustAmount(cfg.Profit.MinNetProfit),
		MinNetProfitBps:   cfg.Profit.MinNetProfitBps,
		MaxNotional:       config.MustAmount(cfg.Profit.MaxNotional),
	})
	deps.Scanner = service.NewScanService(deps.Strategies, deps.Runs, deps.Pricer, deps.Bus, logger)

	deps.FeePayerSvc = service.NewFeePayerService(deps.FeePayers, deps.TopUps, deps.Chains, deps.Keys,
		deps.SettingsSvc, deps.AlertSvc, deps.Bus, service.FeePayerConfig{
			Funding:       fundingRules(cfg),
			VaultPassword: cfg.Wallet.VaultPassword,
		}, logger)
	n, err := deps.FeePayerSvc.LoadKeys(ctx)
	if err != nil {
		return fail("fee payer keys", err)
	}
	logger.InfoContext(ctx, "fee payer keys loaded", slog.Int("count", n))

	// --- Execution ---
	deps.Refill = executor.NewRefillWorker(deps.FeePayerSvc, deps.AlertSvc, cfg.Refill.Buffer, cfg.Refill.Timeout.Duration, logger)
	deps.Engine = executor.NewEngine(
		deps.Runs,
		deps.Strategies,
		deps.Ledger,
		deps.SettingsSvc,
		deps.Pricer,
		deps.Chains,
		deps.FeePayerSvc,
		deps.Breaker,
		deps.Locks,
		deps.Bus,
		deps.Refill,
		executor.NewFlashLoans(),
		executor.Config{
			LockTTL:             cfg.Automation.ExecutionLockTTL.Duration,
			LockWait:            cfg.Automation.DecisionLockWait.Duration,
			ConfirmTimeout:      cfg.Automation.ConfirmTimeout.Duration,
			RefillTriggerAmount: config.MustAmount(cfg.Refill.TriggerAmount),
		},
		logger,
	)

	deps.Orchestrator = pipeline.NewOrchestrator(
		deps.Scanner,
		deps.Decider,
		deps.Engine,
		deps.FeePayerSvc,
		deps.SettingsSvc,
		deps.Cycles,
		deps.Locks,
		deps.Bus,
		pipeline.OrchestratorConfig{LockTTL: cfg.Automation.CycleLockTTL.Duration},
		logger,
	)

	if blobArchiver != nil {
		deps.Archiver = pipeline.NewArchiver(blobArchiver, cfg.Archive.RetentionDays, logger)
	}

	return deps, cleanup, nil
}

// newAdapter builds the chain adapter for one configured chain.
func newAdapter(ctx context.Context, name string, ch config.ChainConfig, keys domain.Keyring, logger *slog.Logger) (domain.ChainAdapter, error) {
	switch domain.ChainFamily(ch.Family) {
	case domain.FamilySolana:
		return solana.New(solana.Config{
			Chain:                         domain.Chain(name),
			Network:                       domain.Network(ch.Network),
			RPCURL:                        ch.RPCURL,
			ExecutorAddress:               ch.ExecutorAddress,
			ComputeUnitLimit:              ch.ComputeUnitLimit,
			ComputeUnitPriceMicroLamports: ch.ComputeUnitPriceMicroLamports,
			ConfirmTimeout:                ch.ConfirmTimeout.Duration,
			PollInterval:                  ch.PollInterval.Duration,
		}, keys, logger), nil
	case domain.FamilyEVM:
		return evm.New(ctx, evm.Config{
			Chain:            domain.Chain(name),
			Network:          domain.Network(ch.Network),
			RPCURL:           ch.RPCURL,
			ChainID:          ch.ChainID,
			ExecutorAddress:  ch.ExecutorAddress,
			MulticallAddress: ch.MulticallAddress,
			WrappedNative:    ch.WrappedNative,
			GasLimit:         ch.GasLimit,
			ConfirmTimeout:   ch.ConfirmTimeout.Duration,
			PollInterval:     ch.PollInterval.Duration,
		}, keys, logger)
	default:
		return nil, fmt.Errorf("family %q: %w", ch.Family, domain.ErrUnsupportedChain)
	}
}

// loadChainKeys resolves each chain's executor and treasury secrets into
// the keyring.
func loadChainKeys(cfg *config.Config, keys *crypto.Keyring) error {
	for _, name := range cfg.ChainNames() {
		ch := cfg.Chains[name]
		enc := keyEncoding(ch)

		secret, err := crypto.LoadSecret(crypto.KeyConfig{
			RawSecret:        ch.ExecutorKey,
			Encoding:         enc,
			EncryptedKeyPath: ch.ExecutorKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fmt.Errorf("%s executor: %w", name, err)
		}
		keys.Add(ch.ExecutorAddress, secret)

		if ch.TreasuryAddress == "" || (ch.TreasuryKey == "" && ch.TreasuryKeyPath == "") {
			continue
		}
		secret, err = crypto.LoadSecret(crypto.KeyConfig{
			RawSecret:        ch.TreasuryKey,
			Encoding:         enc,
			EncryptedKeyPath: ch.TreasuryKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fmt.Errorf("%s treasury: %w", name, err)
		}
		keys.Add(ch.TreasuryAddress, secret)
	}
	return nil
}

func keyEncoding(ch config.ChainConfig) crypto.Encoding {
	if ch.KeyEncoding != "" {
		return crypto.Encoding(ch.KeyEncoding)
	}
	if ch.Family == string(domain.FamilySolana) {
		return crypto.EncodingBase58
	}
	return crypto.EncodingHex
}

// defaultSettings seeds the settings row from config. It only applies on
// the very first start.
func defaultSettings(cfg *config.Config) domain.Settings {
	s := domain.Settings{
		AutomationEnabled:    cfg.Settings.AutomationEnabled,
		FlashLoansEnabled:    cfg.Settings.FlashLoansEnabled,
		GlobalMaxDailyLoss:   config.MustAmount(cfg.Settings.GlobalMaxDailyLoss),
		GlobalMaxDailyTrades: cfg.Settings.GlobalMaxDailyTrades,
		NetworkMode:          domain.NetworkMode(cfg.Settings.NetworkMode),
		ChainFunding:         make(map[domain.Chain]domain.ChainFunding, len(cfg.Chains)),
		UpdatedAt:            time.Now().UTC(),
	}
	for name, ch := range cfg.Chains {
		s.ChainFunding[domain.Chain(name)] = domain.ChainFunding{
			MinBalance:  config.MustAmount(ch.MinBalance),
			TopUpAmount: config.MustAmount(ch.TopUpAmount),
		}
	}
	return s
}

func fundingRules(cfg *config.Config) map[domain.Chain]service.FundingRule {
	rules := make(map[domain.Chain]service.FundingRule, len(cfg.Chains))
	for name, ch := range cfg.Chains {
		source := domain.FundingExecutor
		if ch.FundingSource == string(domain.FundingTreasury) {
			source = domain.FundingTreasury
		}
		rules[domain.Chain(name)] = service.FundingRule{
			Source:          source,
			TreasuryAddress: ch.TreasuryAddress,
			Reserve:         config.MustAmount(ch.Reserve),
		}
	}
	return rules
}
