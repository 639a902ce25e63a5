package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults(), loads .env if present
// and applies ARBBOT_* overrides. An empty path skips the file. The result
// is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose ARBBOT_* variable is set and
// non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// Wallet
	setStr(&cfg.Wallet.VaultPassword, "ARBBOT_WALLET_VAULT_PASSWORD")
	setStr(&cfg.Wallet.KeyPassword, "ARBBOT_WALLET_KEY_PASSWORD")

	// Chains: ARBBOT_CHAINS_<NAME>_<FIELD> for configured chains only.
	for name, ch := range cfg.Chains {
		prefix := "ARBBOT_CHAINS_" + envName(name) + "_"
		setStr(&ch.RPCURL, prefix+"RPC_URL")
		setStr(&ch.ExecutorAddress, prefix+"EXECUTOR_ADDRESS")
		setStr(&ch.ExecutorKey, prefix+"EXECUTOR_KEY")
		setStr(&ch.ExecutorKeyPath, prefix+"EXECUTOR_KEY_PATH")
		setStr(&ch.TreasuryAddress, prefix+"TREASURY_ADDRESS")
		setStr(&ch.TreasuryKey, prefix+"TREASURY_KEY")
		setStr(&ch.TreasuryKeyPath, prefix+"TREASURY_KEY_PATH")
		setStr(&ch.FundingSource, prefix+"FUNDING_SOURCE")
		cfg.Chains[name] = ch
	}

	// Jupiter
	setBool(&cfg.Jupiter.Enabled, "ARBBOT_JUPITER_ENABLED")
	setStr(&cfg.Jupiter.BaseURL, "ARBBOT_JUPITER_BASE_URL")
	setStr(&cfg.Jupiter.APIKey, "ARBBOT_JUPITER_API_KEY")
	setInt(&cfg.Jupiter.MaxRetries, "ARBBOT_JUPITER_MAX_RETRIES")
	setDuration(&cfg.Jupiter.Timeout, "ARBBOT_JUPITER_TIMEOUT")
	setBool(&cfg.Jupiter.FallbackEnabled, "ARBBOT_JUPITER_FALLBACK_ENABLED")
	setInt(&cfg.Jupiter.RateLimit, "ARBBOT_JUPITER_RATE_LIMIT")

	// Database
	setStr(&cfg.Database.Driver, "ARBBOT_DATABASE_DRIVER")
	setStr(&cfg.Database.DSN, "ARBBOT_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Database.Host, "ARBBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "ARBBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "ARBBOT_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "ARBBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "ARBBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "ARBBOT_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "ARBBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "ARBBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "ARBBOT_DATABASE_RUN_MIGRATIONS")

	// Redis
	setBool(&cfg.Redis.Enabled, "ARBBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "ARBBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "ARBBOT_REDIS_KEY_PREFIX")

	// S3
	setStr(&cfg.S3.Endpoint, "ARBBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBBOT_S3_FORCE_PATH_STYLE")

	// Server
	setBool(&cfg.Server.Enabled, "ARBBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARBBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ARBBOT_SERVER_RATE_LIMIT")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "ARBBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.AlertKinds, "ARBBOT_NOTIFY_ALERT_KINDS")

	// Automation
	setStr(&cfg.Automation.Schedule, "ARBBOT_AUTOMATION_SCHEDULE")
	setDuration(&cfg.Automation.CycleLockTTL, "ARBBOT_AUTOMATION_CYCLE_LOCK_TTL")
	setDuration(&cfg.Automation.ConfirmTimeout, "ARBBOT_AUTOMATION_CONFIRM_TIMEOUT")

	// Profit and safe mode
	setInt64(&cfg.Profit.SlippageBufferBps, "ARBBOT_PROFIT_SLIPPAGE_BUFFER_BPS")
	setStr(&cfg.Profit.MinNetProfit, "ARBBOT_PROFIT_MIN_NET_PROFIT")
	setInt64(&cfg.Profit.MinNetProfitBps, "ARBBOT_PROFIT_MIN_NET_PROFIT_BPS")
	setStr(&cfg.Profit.MaxNotional, "ARBBOT_PROFIT_MAX_NOTIONAL")
	setInt64(&cfg.SafeMode.MaxDivergenceBps, "ARBBOT_SAFE_MODE_MAX_DIVERGENCE_BPS")
	setStr(&cfg.SafeMode.MinDivergenceDelta, "ARBBOT_SAFE_MODE_MIN_DIVERGENCE_DELTA")

	// Refill
	setInt(&cfg.Refill.Buffer, "ARBBOT_REFILL_BUFFER")
	setDuration(&cfg.Refill.Timeout, "ARBBOT_REFILL_TIMEOUT")
	setStr(&cfg.Refill.TriggerAmount, "ARBBOT_REFILL_TRIGGER_AMOUNT")

	// Settings seed
	setBool(&cfg.Settings.AutomationEnabled, "ARBBOT_SETTINGS_AUTOMATION_ENABLED")
	setBool(&cfg.Settings.FlashLoansEnabled, "ARBBOT_SETTINGS_FLASH_LOANS_ENABLED")
	setStr(&cfg.Settings.NetworkMode, "ARBBOT_SETTINGS_NETWORK_MODE")
	setStr(&cfg.Settings.GlobalMaxDailyLoss, "ARBBOT_SETTINGS_GLOBAL_MAX_DAILY_LOSS")
	setInt(&cfg.Settings.GlobalMaxDailyTrades, "ARBBOT_SETTINGS_GLOBAL_MAX_DAILY_TRADES")

	// Archive
	setBool(&cfg.Archive.Enabled, "ARBBOT_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "ARBBOT_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "ARBBOT_ARCHIVE_RETENTION_DAYS")

	// Top-level
	setStr(&cfg.Mode, "ARBBOT_MODE")
	setStr(&cfg.LogLevel, "ARBBOT_LOG_LEVEL")
}

// envName upper-cases a chain name and maps non-alphanumerics to '_'.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// Typed env helpers. Each only writes when the variable is set, non-empty
// and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
