// Package config defines the flasharb configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by FLASHARB_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	Contract ContractConfig `toml:"contract"`
	Subgraph SubgraphConfig `toml:"subgraph"`
	Detector DetectorConfig `toml:"detector"`
	Venues   []VenueConfig  `toml:"venues"`
	Stream   StreamConfig   `toml:"stream"`
	Executor ExecutorConfig `toml:"executor"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds the RPC endpoints.
type ChainConfig struct {
	RPCHTTPURL     string   `toml:"rpc_http_url"`
	RPCWSURL       string   `toml:"rpc_ws_url"`
	ChainID        int64    `toml:"chain_id"`
	MaxRetries     int      `toml:"max_retries"`
	RequestTimeout duration `toml:"request_timeout"`
}

// WalletConfig lists the wallet key sources; the first one set wins.
type WalletConfig struct {
	PrivateKey        string `toml:"private_key"`
	EncryptedKeyPath  string `toml:"encrypted_key_path"`
	KeyPassword       string `toml:"key_password"`
	KMSCiphertextPath string `toml:"kms_ciphertext_path"`
	KMSRegion         string `toml:"kms_region"`
	KMSEndpoint       string `toml:"kms_endpoint"`
}

// ContractConfig describes the flash-loan contract.
type ContractConfig struct {
	Address string `toml:"address"`
	// GasLimit fixes the gas limit; 0 estimates per transaction.
	GasLimit     uint64 `toml:"gas_limit"`
	GasMarginPct int    `toml:"gas_margin_pct"`
}

// SubgraphConfig configures pool discovery.
type SubgraphConfig struct {
	URL       string `toml:"url"`
	APIKey    string `toml:"api_key"`
	Limit     int    `toml:"limit"`
	PageSize  int    `toml:"page_size"`
	PageCount int    `toml:"page_count"`
	// Window pins the hourly snapshot key; 0 means the last complete hour.
	Window int64 `toml:"window"`
}

// DetectorConfig tunes opportunity detection.
type DetectorConfig struct {
	ImpactThresholdBps float64 `toml:"impact_threshold_bps"`
	EstimatedGasCost   float64 `toml:"estimated_gas_cost"`
	InputScale         int64   `toml:"input_scale"`
}

// VenueConfig is one DEX deployment to watch.
type VenueConfig struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`
	// SubgraphURL overrides subgraph.url for this venue.
	SubgraphURL string `toml:"subgraph_url"`
}

// StreamConfig tunes the websocket log stream.
type StreamConfig struct {
	ReconnectDelay       duration `toml:"reconnect_delay"`
	MaxReconnectDelay    duration `toml:"max_reconnect_delay"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	PingPeriod           duration `toml:"ping_period"`
}

// ExecutorConfig guards submissions.
type ExecutorConfig struct {
	DedupTTL         duration `toml:"dedup_ttl"`
	LockTTL          duration `toml:"lock_ttl"`
	MaxSubmissions   int      `toml:"max_submissions"`
	SubmissionWindow duration `toml:"submission_window"`
	// QueueSize bounds the buffered swaps per pool.
	QueueSize int `toml:"queue_size"`
}

// SupabaseConfig holds PostgreSQL connection parameters.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
	// PriceTTL is how long a cached pool price stays usable.
	PriceTTL duration `toml:"price_ttl"`
}

// S3Config holds object storage parameters for pool snapshots.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ServerConfig holds the ops HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration decodes TOML strings such as "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Venue kinds.
const (
	KindUniswapV3     = "uniswap_v3"
	KindPancakeSwapV3 = "pancakeswap_v3"
)

// Modes.
const (
	ModeRun      = "run"
	ModeDetect   = "detect"
	ModeDiscover = "discover"
)

// Defaults returns a Config populated with the default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:        137,
			MaxRetries:     3,
			RequestTimeout: duration{30 * time.Second},
		},
		Contract: ContractConfig{GasMarginPct: 20},
		Subgraph: SubgraphConfig{Limit: 100, PageSize: 10, PageCount: 10},
		Detector: DetectorConfig{ImpactThresholdBps: 10, InputScale: 10},
		Venues:   []VenueConfig{{Name: "uniswap", Kind: KindUniswapV3}},
		Stream: StreamConfig{
			ReconnectDelay:    duration{2 * time.Second},
			MaxReconnectDelay: duration{60 * time.Second},
			PingPeriod:        duration{30 * time.Second},
		},
		Executor: ExecutorConfig{
			DedupTTL:         duration{2 * time.Minute},
			LockTTL:          duration{30 * time.Second},
			SubmissionWindow: duration{time.Minute},
			QueueSize:        64,
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "flasharb:",
			PriceTTL:   duration{24 * time.Hour},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flasharb",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:    true,
			Port:       8000,
			RateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity", "submitted", "concluded", "flashloan_error", "error"},
		},
		Mode:     ModeRun,
		LogLevel: "info",
	}
}

var validModes = map[string]bool{ModeRun: true, ModeDetect: true, ModeDiscover: true}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validKinds = map[string]bool{KindUniswapV3: true, KindPancakeSwapV3: true}

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: run, detect, discover)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Chain
	if mode != ModeDiscover && c.Chain.RPCWSURL == "" {
		add("chain: rpc_ws_url is required for mode %s", mode)
	}
	if mode == ModeRun && c.Chain.RPCHTTPURL == "" {
		add("chain: rpc_http_url is required for mode run")
	}
	if c.Chain.ChainID <= 0 {
		add("chain: chain_id must be positive")
	}
	if c.Chain.MaxRetries < 0 {
		add("chain: max_retries must be >= 0")
	}

	// Wallet and contract are only needed when submitting.
	if mode == ModeRun {
		w := c.Wallet
		if w.PrivateKey == "" && w.EncryptedKeyPath == "" && w.KMSCiphertextPath == "" {
			add("wallet: one of private_key, encrypted_key_path or kms_ciphertext_path must be set for mode run")
		}
		if w.EncryptedKeyPath != "" && w.KeyPassword == "" {
			add("wallet: key_password is required when encrypted_key_path is set")
		}
		if w.KMSCiphertextPath != "" && w.KMSRegion == "" {
			add("wallet: kms_region is required when kms_ciphertext_path is set")
		}
		if !common.IsHexAddress(c.Contract.Address) {
			add("contract: address %q is not a hex address", c.Contract.Address)
		}
	}
	if c.Contract.GasMarginPct < 0 {
		add("contract: gas_margin_pct must be >= 0")
	}

	// Discovery
	if c.Subgraph.Limit < 1 || c.Subgraph.PageSize < 1 || c.Subgraph.PageCount < 1 {
		add("subgraph: limit, page_size and page_count must be >= 1")
	}
	if c.Detector.ImpactThresholdBps < 0 {
		add("detector: impact_threshold_bps must be >= 0")
	}
	if c.Detector.InputScale < 1 {
		add("detector: input_scale must be >= 1")
	}

	// Venues
	if len(c.Venues) == 0 {
		add("venues: at least one venue is required")
	}
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		if !validKinds[v.Kind] {
			add("venues[%d]: unknown kind %q (valid: uniswap_v3, pancakeswap_v3)", i, v.Kind)
		}
		name := v.Name
		if name == "" {
			name = v.Kind
		}
		if seen[name] {
			add("venues[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if v.SubgraphURL == "" && c.Subgraph.URL == "" {
			add("venues[%d]: subgraph_url or subgraph.url must be set", i)
		}
	}

	// Executor
	if c.Executor.DedupTTL.Duration <= 0 {
		add("executor: dedup_ttl must be > 0")
	}
	if c.Executor.MaxSubmissions < 0 {
		add("executor: max_submissions must be >= 0")
	}
	if c.Executor.MaxSubmissions > 0 && c.Executor.SubmissionWindow.Duration <= 0 {
		add("executor: submission_window must be > 0 when max_submissions is set")
	}

	// Supabase
	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				add("supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				add("supabase: port must be 1-65535, got %d", c.Supabase.Port)
			}
			if c.Supabase.Database == "" {
				add("supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			add("supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			add("supabase: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// VenueName is the configured name or, when empty, the kind.
func (v VenueConfig) VenueName() string {
	if v.Name != "" {
		return v.Name
	}
	return v.Kind
}

// SubgraphURLFor returns the venue's subgraph URL, falling back to the
// shared one.
func (c *Config) SubgraphURLFor(v VenueConfig) string {
	if v.SubgraphURL != "" {
		return v.SubgraphURL
	}
	return c.Subgraph.URL
}
