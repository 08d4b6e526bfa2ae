package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg with every secret masked, for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Subgraph.APIKey)
	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// RPC URLs often embed a provider key in the path.
	redactURL(&out.Chain.RPCHTTPURL)
	redactURL(&out.Chain.RPCWSURL)

	out.Venues = slices.Clone(cfg.Venues)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL keeps scheme and host and masks the rest.
func redactURL(s *string) {
	if *s == "" {
		return
	}
	u, err := url.Parse(*s)
	if err != nil || u.Host == "" {
		*s = redacted
		return
	}
	if u.Path == "" && u.RawQuery == "" && u.User == nil {
		return
	}
	*s = u.Scheme + "://" + u.Host + "/" + redacted
}
