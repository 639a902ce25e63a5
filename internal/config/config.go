// Package config defines the arbbot configuration and its validation.
package config

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"
)

// Config is the root configuration. Fields are decoded from TOML over
// Defaults() and then overridden by ARBBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig           `toml:"wallet"`
	Chains     map[string]ChainConfig `toml:"chains"`
	Jupiter    JupiterConfig          `toml:"jupiter"`
	Database   DatabaseConfig         `toml:"database"`
	Redis      RedisConfig            `toml:"redis"`
	S3         S3Config               `toml:"s3"`
	Server     ServerConfig           `toml:"server"`
	Notify     NotifyConfig           `toml:"notify"`
	Automation AutomationConfig       `toml:"automation"`
	Profit     ProfitConfig           `toml:"profit"`
	SafeMode   SafeModeConfig         `toml:"safe_mode"`
	Refill     RefillConfig           `toml:"refill"`
	Settings   SettingsConfig         `toml:"settings"`
	Archive    ArchiveConfig          `toml:"archive"`
	Mode       string                 `toml:"mode"`
	LogLevel   string                 `toml:"log_level"`
}

// WalletConfig holds the passwords that unlock sealed secrets.
type WalletConfig struct {
	// VaultPassword opens fee-payer secrets sealed in the database.
	VaultPassword string `toml:"vault_password"`
	// KeyPassword opens encrypted executor and treasury key files.
	KeyPassword string `toml:"key_password"`
}

// ChainConfig describes one settlement chain. The map key is the chain name
// used in strategies (e.g. "solana", "base").
type ChainConfig struct {
	Family  string `toml:"family"`
	Network string `toml:"network"`
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`

	ExecutorAddress string `toml:"executor_address"`
	ExecutorKey     string `toml:"executor_key"`
	ExecutorKeyPath string `toml:"executor_key_path"`
	TreasuryAddress string `toml:"treasury_address"`
	TreasuryKey     string `toml:"treasury_key"`
	TreasuryKeyPath string `toml:"treasury_key_path"`
	// KeyEncoding is "base58" or "hex". Defaults by family.
	KeyEncoding string `toml:"key_encoding"`

	// FundingSource is "executor" or "treasury".
	FundingSource string `toml:"funding_source"`
	Reserve       string `toml:"reserve"`
	MinBalance    string `toml:"min_balance"`
	TopUpAmount   string `toml:"top_up_amount"`

	// Solana.
	ComputeUnitLimit              uint32 `toml:"compute_unit_limit"`
	ComputeUnitPriceMicroLamports uint64 `toml:"compute_unit_price_micro_lamports"`

	// EVM.
	MulticallAddress string `toml:"multicall_address"`
	WrappedNative    string `toml:"wrapped_native"`
	GasLimit         uint64 `toml:"gas_limit"`

	ConfirmTimeout Duration `toml:"confirm_timeout"`
	PollInterval   Duration `toml:"poll_interval"`
}

// JupiterConfig configures the Solana quote source.
type JupiterConfig struct {
	Enabled          bool     `toml:"enabled"`
	Chain            string   `toml:"chain"`
	BaseURL          string   `toml:"base_url"`
	APIKey           string   `toml:"api_key"`
	Timeout          Duration `toml:"timeout"`
	MaxRetries       int      `toml:"max_retries"`
	RetryBackoff     Duration `toml:"retry_backoff"`
	FallbackEnabled  bool     `toml:"fallback_enabled"`
	FallbackMaxAge   Duration `toml:"fallback_max_age"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       Duration `toml:"rate_window"`
	WrapAndUnwrapSol bool     `toml:"wrap_and_unwrap_sol"`
	// ComputeUnitPriceMicroLamports is forwarded to swap-instructions.
	ComputeUnitPriceMicroLamports int64 `toml:"compute_unit_price_micro_lamports"`
}

// DatabaseConfig selects and configures persistence.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver        string `toml:"driver"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, locks, the
// signal bus and the quote cache run in-process.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	QuoteTTL   Duration `toml:"quote_ttl"`
}

// S3Config holds S3-compatible archive storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds operator API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards every /api route except health. Empty disables auth.
	APIKey string `toml:"api_key"`
	// RateLimit is requests per minute per client. Zero disables it.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	AlertKinds        []string `toml:"alert_kinds"`
}

// AutomationConfig tunes the cycle and its locks.
type AutomationConfig struct {
	Schedule         string   `toml:"schedule"`
	CycleLockTTL     Duration `toml:"cycle_lock_ttl"`
	DecisionLockTTL  Duration `toml:"decision_lock_ttl"`
	DecisionLockWait Duration `toml:"decision_lock_wait"`
	ExecutionLockTTL Duration `toml:"execution_lock_ttl"`
	ConfirmTimeout   Duration `toml:"confirm_timeout"`
}

// ProfitConfig holds the global profit thresholds. Amounts are integers in
// the base asset's smallest unit.
type ProfitConfig struct {
	SlippageBufferBps int64  `toml:"slippage_buffer_bps"`
	MinNetProfit      string `toml:"min_net_profit"`
	MinNetProfitBps   int64  `toml:"min_net_profit_bps"`
	MaxNotional       string `toml:"max_notional"`
	// NativeQuoteAmount is quoted to learn native-to-base conversion rates.
	NativeQuoteAmount string   `toml:"native_quote_amount"`
	RateMaxAge        Duration `toml:"rate_max_age"`
}

// SafeModeConfig tunes the divergence breaker.
type SafeModeConfig struct {
	MaxDivergenceBps   int64  `toml:"max_divergence_bps"`
	MinDivergenceDelta string `toml:"min_divergence_delta"`
}

// RefillConfig tunes the asynchronous refill worker.
type RefillConfig struct {
	Buffer  int      `toml:"buffer"`
	Timeout Duration `toml:"timeout"`
	// TriggerAmount is the realized profit above which a run queues a top-up.
	TriggerAmount string `toml:"trigger_amount"`
}

// SettingsConfig seeds the global settings row on first start. Later
// changes go through the operator API.
type SettingsConfig struct {
	AutomationEnabled    bool   `toml:"automation_enabled"`
	FlashLoansEnabled    bool   `toml:"flash_loans_enabled"`
	NetworkMode          string `toml:"network_mode"`
	GlobalMaxDailyLoss   string `toml:"global_max_daily_loss"`
	GlobalMaxDailyTrades int    `toml:"global_max_daily_trades"`
}

// ArchiveConfig schedules cold-storage archival.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// Duration wraps time.Duration so TOML can decode strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Amount parses a decimal integer amount. An empty string is nil.
func Amount(s string) (*big.Int, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", ""))
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// MustAmount is Amount for values Validate has already checked.
func MustAmount(s string) *big.Int {
	v, err := Amount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ChainNames returns the configured chain names in sorted order.
func (c *Config) ChainNames() []string {
	names := make([]string, 0, len(c.Chains))
	for name := range c.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chains: map[string]ChainConfig{},
		Jupiter: JupiterConfig{
			Enabled:          true,
			Chain:            "solana",
			BaseURL:          "https://lite-api.jup.ag/swap/v1",
			Timeout:          Duration{10 * time.Second},
			MaxRetries:       2,
			RetryBackoff:     Duration{500 * time.Millisecond},
			FallbackEnabled:  false,
			FallbackMaxAge:   Duration{2 * time.Minute},
			RateLimit:        50,
			RateWindow:       Duration{10 * time.Second},
			WrapAndUnwrapSol: true,
		},
		Database: DatabaseConfig{
			Driver:        "postgres",
			Host:          "localhost",
			Port:          5432,
			Database:      "arbbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "arbbot:",
			QuoteTTL:   Duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbbot-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			AlertKinds: []string{"safe_mode", "fee_payer_shortfall", "refill_failed"},
		},
		Automation: AutomationConfig{
			Schedule:         "* * * * *",
			CycleLockTTL:     Duration{10 * time.Minute},
			DecisionLockTTL:  Duration{30 * time.Second},
			DecisionLockWait: Duration{10 * time.Second},
			ExecutionLockTTL: Duration{2 * time.Minute},
			ConfirmTimeout:   Duration{60 * time.Second},
		},
		Profit: ProfitConfig{
			SlippageBufferBps: 10,
			MinNetProfit:      "0",
			MinNetProfitBps:   5,
			NativeQuoteAmount: "1000000000",
			RateMaxAge:        Duration{time.Minute},
		},
		SafeMode: SafeModeConfig{
			MaxDivergenceBps:   5000,
			MinDivergenceDelta: "0",
		},
		Refill: RefillConfig{
			Buffer:        16,
			Timeout:       Duration{2 * time.Minute},
			TriggerAmount: "0",
		},
		Settings: SettingsConfig{
			AutomationEnabled:    false,
			NetworkMode:          "mainnet",
			GlobalMaxDailyTrades: 0,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 1 * *",
			RetentionDays: 90,
		},
		Mode:     "cron",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"cron":   true,
	"server": true,
	"once":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the Config and returns one error listing every problem.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }
	amount := func(field, v string) {
		if _, err := Amount(v); err != nil {
			add("%s: %v", field, err)
		}
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: cron, server, once)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if len(c.Chains) == 0 {
		add("chains: at least one chain must be configured")
	}
	for _, name := range c.ChainNames() {
		ch := c.Chains[name]
		prefix := "chains." + name
		switch ch.Family {
		case "solana":
		case "evm":
			if ch.ChainID <= 0 {
				add("%s: chain_id must be positive for evm chains", prefix)
			}
			if ch.MulticallAddress == "" {
				add("%s: multicall_address is required for evm chains", prefix)
			}
		default:
			add("%s: unknown family %q (valid: solana, evm)", prefix, ch.Family)
		}
		if ch.Network != "mainnet" && ch.Network != "testnet" {
			add("%s: network must be mainnet or testnet, got %q", prefix, ch.Network)
		}
		if ch.RPCURL == "" {
			add("%s: rpc_url must not be empty", prefix)
		}
		if ch.ExecutorAddress == "" {
			add("%s: executor_address must not be empty", prefix)
		}
		if ch.ExecutorKey == "" && ch.ExecutorKeyPath == "" {
			add("%s: executor_key or executor_key_path must be set", prefix)
		}
		if ch.ExecutorKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("%s: wallet.key_password is required with executor_key_path", prefix)
		}
		switch ch.FundingSource {
		case "", "executor":
		case "treasury":
			if ch.TreasuryAddress == "" {
				add("%s: treasury_address is required when funding_source is treasury", prefix)
			}
			if ch.TreasuryKey == "" && ch.TreasuryKeyPath == "" {
				add("%s: treasury_key or treasury_key_path is required when funding_source is treasury", prefix)
			}
		default:
			add("%s: funding_source must be executor or treasury, got %q", prefix, ch.FundingSource)
		}
		amount(prefix+".reserve", ch.Reserve)
		amount(prefix+".min_balance", ch.MinBalance)
		amount(prefix+".top_up_amount", ch.TopUpAmount)
	}

	if c.Jupiter.Enabled {
		if c.Jupiter.BaseURL == "" {
			add("jupiter: base_url must not be empty")
		}
		if _, ok := c.Chains[c.Jupiter.Chain]; !ok {
			add("jupiter: chain %q is not configured", c.Jupiter.Chain)
		}
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				add("database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				add("database: port must be 1-65535, got %d", c.Database.Port)
			}
			if c.Database.Database == "" {
				add("database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			add("database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			add("database: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		add("database: unknown driver %q (valid: postgres, memory)", c.Database.Driver)
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			add("archive: retention_days must be >= 1")
		}
		if c.Archive.Cron == "" {
			add("archive: cron must not be empty")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		add("server: rate_limit must be >= 0")
	}

	if c.Automation.Schedule == "" {
		add("automation: schedule must not be empty")
	}

	if c.Profit.SlippageBufferBps < 0 || c.Profit.SlippageBufferBps >= 10_000 {
		add("profit: slippage_buffer_bps must be in [0, 10000)")
	}
	amount("profit.min_net_profit", c.Profit.MinNetProfit)
	amount("profit.max_notional", c.Profit.MaxNotional)
	amount("profit.native_quote_amount", c.Profit.NativeQuoteAmount)

	if c.SafeMode.MaxDivergenceBps <= 0 {
		add("safe_mode: max_divergence_bps must be > 0")
	}
	amount("safe_mode.min_divergence_delta", c.SafeMode.MinDivergenceDelta)
	amount("refill.trigger_amount", c.Refill.TriggerAmount)

	if c.Settings.NetworkMode != "mainnet" && c.Settings.NetworkMode != "testnet" {
		add("settings: network_mode must be mainnet or testnet, got %q", c.Settings.NetworkMode)
	}
	if c.Settings.GlobalMaxDailyTrades < 0 {
		add("settings: global_max_daily_trades must be >= 0")
	}
	amount("settings.global_max_daily_loss", c.Settings.GlobalMaxDailyLoss)

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
