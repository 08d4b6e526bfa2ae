package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty) over
// Defaults, loads .env if present, then applies FLASHARB_* overrides. The
// result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		// The file's venue list replaces the default one.
		cfg.Venues = nil
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if len(cfg.Venues) == 0 {
			cfg.Venues = Defaults().Venues
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Chain
	setStr(&cfg.Chain.RPCHTTPURL, "FLASHARB_CHAIN_RPC_HTTP_URL")
	setStr(&cfg.Chain.RPCWSURL, "FLASHARB_CHAIN_RPC_WS_URL")
	setInt64(&cfg.Chain.ChainID, "FLASHARB_CHAIN_ID")
	setInt(&cfg.Chain.MaxRetries, "FLASHARB_CHAIN_MAX_RETRIES")
	setDuration(&cfg.Chain.RequestTimeout, "FLASHARB_CHAIN_REQUEST_TIMEOUT")

	// Wallet
	setStr(&cfg.Wallet.PrivateKey, "FLASHARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "FLASHARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "FLASHARB_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.KMSCiphertextPath, "FLASHARB_WALLET_KMS_CIPHERTEXT_PATH")
	setStr(&cfg.Wallet.KMSRegion, "FLASHARB_WALLET_KMS_REGION")
	setStr(&cfg.Wallet.KMSEndpoint, "FLASHARB_WALLET_KMS_ENDPOINT")

	// Contract
	setStr(&cfg.Contract.Address, "FLASHARB_CONTRACT_ADDRESS")
	setUint64(&cfg.Contract.GasLimit, "FLASHARB_CONTRACT_GAS_LIMIT")
	setInt(&cfg.Contract.GasMarginPct, "FLASHARB_CONTRACT_GAS_MARGIN_PCT")

	// Subgraph
	setStr(&cfg.Subgraph.URL, "FLASHARB_SUBGRAPH_URL")
	setStr(&cfg.Subgraph.APIKey, "FLASHARB_SUBGRAPH_API_KEY")
	setInt(&cfg.Subgraph.Limit, "FLASHARB_SUBGRAPH_LIMIT")
	setInt(&cfg.Subgraph.PageSize, "FLASHARB_SUBGRAPH_PAGE_SIZE")
	setInt(&cfg.Subgraph.PageCount, "FLASHARB_SUBGRAPH_PAGE_COUNT")
	setInt64(&cfg.Subgraph.Window, "FLASHARB_SUBGRAPH_WINDOW")

	// Detector
	setFloat64(&cfg.Detector.ImpactThresholdBps, "FLASHARB_DETECTOR_IMPACT_THRESHOLD_BPS")
	setFloat64(&cfg.Detector.EstimatedGasCost, "FLASHARB_DETECTOR_ESTIMATED_GAS_COST")
	setInt64(&cfg.Detector.InputScale, "FLASHARB_DETECTOR_INPUT_SCALE")

	setVenues(&cfg.Venues, "FLASHARB_VENUES")

	// Stream
	setDuration(&cfg.Stream.ReconnectDelay, "FLASHARB_STREAM_RECONNECT_DELAY")
	setDuration(&cfg.Stream.MaxReconnectDelay, "FLASHARB_STREAM_MAX_RECONNECT_DELAY")
	setInt(&cfg.Stream.MaxReconnectAttempts, "FLASHARB_STREAM_MAX_RECONNECT_ATTEMPTS")
	setDuration(&cfg.Stream.PingPeriod, "FLASHARB_STREAM_PING_PERIOD")

	// Executor
	setDuration(&cfg.Executor.DedupTTL, "FLASHARB_EXECUTOR_DEDUP_TTL")
	setDuration(&cfg.Executor.LockTTL, "FLASHARB_EXECUTOR_LOCK_TTL")
	setInt(&cfg.Executor.MaxSubmissions, "FLASHARB_EXECUTOR_MAX_SUBMISSIONS")
	setDuration(&cfg.Executor.SubmissionWindow, "FLASHARB_EXECUTOR_SUBMISSION_WINDOW")
	setInt(&cfg.Executor.QueueSize, "FLASHARB_EXECUTOR_QUEUE_SIZE")

	// Supabase
	setBool(&cfg.Supabase.Enabled, "FLASHARB_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "FLASHARB_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "FLASHARB_DATABASE_URL")
	setStr(&cfg.Supabase.Host, "FLASHARB_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "FLASHARB_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "FLASHARB_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "FLASHARB_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "FLASHARB_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "FLASHARB_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "FLASHARB_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "FLASHARB_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "FLASHARB_SUPABASE_RUN_MIGRATIONS")

	// Redis
	setBool(&cfg.Redis.Enabled, "FLASHARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FLASHARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLASHARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLASHARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLASHARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLASHARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLASHARB_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "FLASHARB_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.PriceTTL, "FLASHARB_REDIS_PRICE_TTL")

	// S3
	setBool(&cfg.S3.Enabled, "FLASHARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FLASHARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLASHARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLASHARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLASHARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLASHARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLASHARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLASHARB_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "FLASHARB_S3_PREFIX")

	// Server
	setBool(&cfg.Server.Enabled, "FLASHARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FLASHARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FLASHARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FLASHARB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FLASHARB_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "FLASHARB_SERVER_RATE_WINDOW")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "FLASHARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLASHARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FLASHARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FLASHARB_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "FLASHARB_MODE")
	setStr(&cfg.LogLevel, "FLASHARB_LOG_LEVEL")
}

// Typed env helpers. Each mutates the target only when the variable is
// set, non-empty and parses.

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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if parts := splitList(os.Getenv(key)); len(parts) > 0 {
		*dst = parts
	}
}

// setVenues parses "name:kind,name:kind". Every venue uses subgraph.url.
func setVenues(dst *[]VenueConfig, key string) {
	parts := splitList(os.Getenv(key))
	if len(parts) == 0 {
		return
	}
	venues := make([]VenueConfig, 0, len(parts))
	for _, p := range parts {
		name, kind, ok := strings.Cut(p, ":")
		if !ok {
			kind, name = name, ""
		}
		venues = append(venues, VenueConfig{Name: strings.TrimSpace(name), Kind: strings.TrimSpace(kind)})
	}
	*dst = venues
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
