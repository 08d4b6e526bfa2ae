package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/executor"
	"github.com/alanyoungcy/flasharb/internal/platform/subgraph"
	"github.com/alanyoungcy/flasharb/internal/server"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/server/ws"
)

// confirmationBacklog bounds contract events waiting to be recorded.
const confirmationBacklog = 256

// Watch runs the detection pipeline: it connects the chain stream,
// initializes every venue, then routes swaps until ctx is cancelled. In run
// mode opportunities are submitted; in detect mode they are only recorded.
func (a *App) Watch(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch",
		slog.String("mode", a.cfg.Mode),
		slog.Bool("dry_run", deps.Executor.DryRun()),
	)

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	g.Go(func() error {
		return deps.Executor.Run(ctx)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-deps.Stream.Err():
			return fmt.Errorf("watch: chain stream: %w", err)
		}
	})
	g.Go(func() error {
		return a.startVenues(ctx, g, deps)
	})

	return g.Wait()
}

// startVenues connects the stream, initializes every venue concurrently and
// starts their workers on g. Any initialization failure aborts the run.
func (a *App) startVenues(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if err := deps.Stream.Refresh(ctx); err != nil {
		return fmt.Errorf("watch: connect stream: %w", err)
	}
	if deps.Pipeline != nil {
		if err := a.watchConfirmations(ctx, g, deps); err != nil {
			return err
		}
	}

	ig, ictx := errgroup.WithContext(ctx)
	for _, d := range deps.Venues {
		ig.Go(func() error {
			if err := d.Initialize(ictx); err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			return nil
		})
	}
	if err := ig.Wait(); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "all venues ready",
		slog.Int("venues", len(deps.Venues)),
		slog.Int("subscriptions", deps.Stream.SubscriptionCount()),
	)
	for _, d := range deps.Venues {
		g.Go(func() error {
			return d.Run(ctx)
		})
	}
	return nil
}

// watchConfirmations subscribes to the flash-loan contract's events and
// records them off the stream's read loop.
func (a *App) watchConfirmations(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	contract := common.HexToAddress(a.cfg.Contract.Address)
	logs := make(chan types.Log, confirmationBacklog)

	err := deps.Stream.Subscribe(ctx, "confirmations", executor.ConfirmationQuery(contract), func(lg types.Log) {
		select {
		case logs <- lg:
		default:
			a.logger.Warn("confirmation backlog full, dropping event", slog.String("tx", lg.TxHash.Hex()))
		}
	})
	if err != nil {
		return fmt.Errorf("watch: subscribe confirmations: %w", err)
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case lg := <-logs:
				deps.Executor.HandleConfirmation(ctx, lg)
			}
		}
	})
	return nil
}

// Discover fetches every venue's pool set once, persists and archives it,
// then returns.
func (a *App) Discover(ctx context.Context, deps *Dependencies) error {
	query := poolQuery(a.cfg)
	if query.Window <= 0 {
		query.Window = subgraph.HoursSinceUnixEpoch(time.Now())
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, v := range a.cfg.Venues {
		name := v.VenueName()
		client := deps.Discovery[name]
		g.Go(func() error {
			log := a.logger.With(slog.String("venue", name))
			start := time.Now()

			block, err := client.Ping(gctx)
			if err != nil {
				return fmt.Errorf("discover %s: %w", name, err)
			}
			pools, err := client.GetPools(gctx, query)
			if err != nil {
				return fmt.Errorf("discover %s: %w", name, err)
			}

			var errs []error
			if deps.PoolStore != nil {
				if err := deps.PoolStore.UpsertBatch(gctx, name, pools); err != nil {
					errs = append(errs, err)
				}
			}
			if deps.Archiver != nil {
				if err := deps.Archiver.ArchivePools(gctx, name, query.Window, pools); err != nil {
					errs = append(errs, err)
				}
			}
			if err := errors.Join(errs...); err != nil {
				return fmt.Errorf("discover %s: %w", name, err)
			}

			log.InfoContext(gctx, "pools discovered",
				slog.Int("count", len(pools)),
				slog.Int64("window", query.Window),
				slog.Int64("indexed_block", block),
				slog.Duration("took", time.Since(start)),
			)
			return nil
		})
	}
	return g.Wait()
}

// startHTTPServer adds the ops server to g. It shuts down gracefully when
// ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(healthChecks(deps), a.logger),
		Status:  handler.NewStatusHandler(newStatusProvider(a.cfg.Mode, deps)),
		Metrics: deps.Metrics.Handler(),
	}
	if deps.ExecutionStore != nil && deps.OpportunityStore != nil {
		handlers.History = handler.NewHistoryHandler(deps.ExecutionStore, deps.OpportunityStore, a.logger)
	}
	if deps.SignalBus != nil {
		handlers.Feed = handler.NewFeedHandler(deps.SignalBus, a.logger)
		hub := ws.NewHub(deps.SignalBus, a.logger)
		handlers.Live = hub
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
