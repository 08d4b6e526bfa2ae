package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/flasharb/internal/blob/s3"
	"github.com/alanyoungcy/flasharb/internal/cache/redis"
	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/detector"
	"github.com/alanyoungcy/flasharb/internal/dex"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/executor"
	"github.com/alanyoungcy/flasharb/internal/feed"
	"github.com/alanyoungcy/flasharb/internal/metrics"
	"github.com/alanyoungcy/flasharb/internal/notify"
	"github.com/alanyoungcy/flasharb/internal/platform/chain"
	"github.com/alanyoungcy/flasharb/internal/platform/subgraph"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Optional backends are nil
// when disabled.
type Dependencies struct {
	// Stores
	Postgres         *postgres.Client
	PoolStore        domain.PoolStore
	OpportunityStore domain.OpportunityStore
	ExecutionStore   domain.ExecutionStore

	// Caches
	Redis       *redis.Client
	PriceCache  domain.PoolPriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	S3       *s3blob.Client
	Archiver *s3blob.Archiver

	// Chain
	RPC      *ethclient.Client
	Stream   *chain.Stream
	Wallet   *crypto.Wallet
	Pipeline *executor.Pipeline

	Engine    *detector.Engine
	Executor  *executor.Executor
	Publisher *feed.Publisher
	Notifier  *notify.Notifier
	Metrics   *metrics.Metrics

	// Discovery holds one subgraph client per configured venue name.
	Discovery map[string]*subgraph.Client
	Venues    []*dex.Dex
}

// Wire builds every dependency the configured mode needs and returns a
// cleanup function releasing them.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{Metrics: metrics.New()}

	// --- PostgreSQL ---
	if cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Postgres = pgClient
		deps.PoolStore = postgres.NewPoolStore(pool)
		deps.OpportunityStore = postgres.NewOpportunityStore(pool)
		deps.ExecutionStore = postgres.NewExecutionStore(pool)
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
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.PriceCache = redis.NewPoolPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Publisher = feed.NewPublisher(deps.SignalBus, logger)
	}

	// --- S3 pool snapshots ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.S3 = s3Client
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Chain ---
	if cfg.Chain.RPCHTTPURL != "" && mode != config.ModeDiscover {
		rpc, err := chain.Dial(ctx, chain.ClientConfig{
			URL:            cfg.Chain.RPCHTTPURL,
			MaxRetries:     cfg.Chain.MaxRetries,
			RequestTimeout: cfg.Chain.RequestTimeout.Duration,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: rpc: %w", err))
		}
		closers = append(closers, rpc.Close)
		deps.RPC = rpc
	}
	if mode != config.ModeDiscover {
		deps.Stream = chain.NewStream(cfg.Chain.RPCWSURL, chain.StreamConfig{
			ReconnectDelay:       cfg.Stream.ReconnectDelay.Duration,
			MaxReconnectDelay:    cfg.Stream.MaxReconnectDelay.Duration,
			MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
			PingPeriod:           cfg.Stream.PingPeriod.Duration,
		}, logger)
		stream := deps.Stream
		closers = append(closers, func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = stream.Stop(stopCtx)
		})
		stream.OnReconnect(deps.Metrics.Reconnected)
	}

	// --- Wallet and execution pipeline ---
	if mode == config.ModeRun {
		wallet, err := loadWallet(ctx, cfg)
		if err != nil {
			return fail(fmt.Errorf("wire: wallet: %w", err))
		}
		deps.Wallet = wallet
		deps.Pipeline = executor.NewPipeline(deps.RPC, wallet, nil, executor.PipelineConfig{
			Contract:     common.HexToAddress(cfg.Contract.Address),
			ChainID:      big.NewInt(cfg.Chain.ChainID),
			GasLimit:     cfg.Contract.GasLimit,
			GasMarginPct: cfg.Contract.GasMarginPct,
		}, logger)
	}

	// --- Detection and execution ---
	detCfg := detector.DefaultConfig()
	detCfg.ImpactThresholdBps = decimal.NewFromFloat(cfg.Detector.ImpactThresholdBps)
	detCfg.EstimatedGasCost = decimal.NewFromFloat(cfg.Detector.EstimatedGasCost)
	detCfg.InputScale = decimal.NewFromInt(cfg.Detector.InputScale)
	deps.Engine = detector.NewEngine(detCfg, logger)

	var submitter executor.Submitter
	if deps.Pipeline != nil {
		submitter = deps.Pipeline
	}
	deps.Executor = executor.NewExecutor(submitter, executor.Config{
		DedupTTL:         cfg.Executor.DedupTTL.Duration,
		LockTTL:          cfg.Executor.LockTTL.Duration,
		MaxSubmissions:   cfg.Executor.MaxSubmissions,
		SubmissionWindow: cfg.Executor.SubmissionWindow.Duration,
		DryRun:           mode != config.ModeRun,
	}, logger)
	deps.Executor.SetGuards(deps.LockManager, deps.RateLimiter)
	deps.Executor.SetStores(deps.OpportunityStore, deps.ExecutionStore)
	if deps.Publisher != nil {
		deps.Executor.SetPublisher(deps.Publisher)
	}
	deps.Executor.SetNotifier(deps.Notifier)
	deps.Executor.SetMetrics(deps.Metrics)

	// --- Venues ---
	deps.Discovery = make(map[string]*subgraph.Client, len(cfg.Venues))
	for _, v := range cfg.Venues {
		deps.Discovery[v.VenueName()] = subgraph.NewClient(cfg.SubgraphURLFor(v), cfg.Subgraph.APIKey, logger)
	}
	if mode == config.ModeDiscover {
		return deps, cleanup, nil
	}
	for _, v := range cfg.Venues {
		venue, err := dex.VenueFor(dex.Kind(v.Kind))
		if err != nil {
			return fail(fmt.Errorf("wire: venue %s: %w", v.VenueName(), err))
		}
		d := dex.Deps{
			Name:       v.VenueName(),
			Discovery:  deps.Discovery[v.VenueName()],
			Query:      poolQuery(cfg),
			Engine:     deps.Engine,
			Handler:    deps.Executor,
			PriceCache: deps.PriceCache,
			Pools:      deps.PoolStore,
			Metrics:    deps.Metrics,
			QueueSize:  cfg.Executor.QueueSize,
			Logger:     logger,
		}
		if deps.Stream != nil {
			d.Stream = deps.Stream
		}
		if deps.Archiver != nil {
			d.Archive = deps.Archiver
		}
		if deps.Pipeline != nil {
			d.Pipeline = deps.Pipeline
		}
		if deps.RPC != nil {
			d.Caller = deps.RPC
		}
		deps.Venues = append(deps.Venues, dex.New(venue, d))
	}

	return deps, cleanup, nil
}

func poolQuery(cfg *config.Config) subgraph.PoolQuery {
	return subgraph.PoolQuery{
		Limit:     cfg.Subgraph.Limit,
		PageSize:  cfg.Subgraph.PageSize,
		PageCount: cfg.Subgraph.PageCount,
		Window:    cfg.Subgraph.Window,
	}
}

// loadWallet resolves the signing key from the configured source.
func loadWallet(ctx context.Context, cfg *config.Config) (*crypto.Wallet, error) {
	var kms crypto.Decrypter
	if cfg.Wallet.KMSCiphertextPath != "" {
		client, err := crypto.NewKMSClient(ctx, cfg.Wallet.KMSRegion, cfg.Wallet.KMSEndpoint)
		if err != nil {
			return nil, err
		}
		kms = client
	}
	key, err := crypto.LoadKey(ctx, crypto.KeyConfig{
		RawPrivateKey:     cfg.Wallet.PrivateKey,
		EncryptedKeyPath:  cfg.Wallet.EncryptedKeyPath,
		KeyPassword:       cfg.Wallet.KeyPassword,
		KMSCiphertextPath: cfg.Wallet.KMSCiphertextPath,
	}, kms)
	if err != nil {
		return nil, err
	}
	return crypto.NewWallet(key)
}

// healthChecks lists the probes served at /api/health.
func healthChecks(deps *Dependencies) map[string]handler.Check {
	checks := map[string]handler.Check{}
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres.Ping
	}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Ping
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}
	if deps.Stream != nil {
		stream := deps.Stream
		checks["stream"] = func(context.Context) error {
			if !stream.Connected() {
				return fmt.Errorf("stream disconnected")
			}
			return nil
		}
	}
	return checks
}
