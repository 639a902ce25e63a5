package config

import "maps"

const redacted = "***"

// RedactedConfig returns a copy of cfg with secrets masked, for logging.
// Maps and slices are copied so the result shares nothing mutable with cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.VaultPassword)
	redact(&out.Wallet.KeyPassword)

	out.Chains = maps.Clone(cfg.Chains)
	for name, ch := range out.Chains {
		redact(&ch.ExecutorKey)
		redact(&ch.TreasuryKey)
		out.Chains[name] = ch
	}

	redact(&out.Jupiter.APIKey)
	redact(&out.Database.DSN)
	redact(&out.Database.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.AlertKinds = append([]string(nil), cfg.Notify.AlertKinds...)
	return out
}

// redact replaces a non-empty string with the placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
