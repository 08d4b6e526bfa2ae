// Package dex is the per-venue orchestrator. A Dex discovers the venue's
// most active pools, binds each pool's Swap events on the shared chain
// stream, builds the frozen token index and routes every swap to the
// detector, handing profitable opportunities to the executor.
//
// Venue-specific decoding lives behind the Venue interface; Uniswap V3 and
// PancakeSwap V3 share everything else.
package dex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/detector"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/platform/chain"
	"github.com/alanyoungcy/flasharb/internal/platform/subgraph"
)

// State is the orchestrator lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// DefaultQueueSize is the per-pool swap backlog.
const DefaultQueueSize = 64

// PoolDiscovery lists the venue's candidate pools.
type PoolDiscovery interface {
	Ping(ctx context.Context) (int64, error)
	GetPools(ctx context.Context, q subgraph.PoolQuery) ([]domain.Pool, error)
}

// Subscriber registers logical log subscriptions on the chain stream.
type Subscriber interface {
	Subscribe(ctx context.Context, key string, q ethereum.FilterQuery, handler chain.LogHandler) error
	Unsubscribe(ctx context.Context, key string) error
}

// OpportunityHandler consumes assembled opportunities.
type OpportunityHandler interface {
	Handle(ctx context.Context, opp *domain.Opportunity) error
}

// PipelineInitializer prepares the execution pipeline.
type PipelineInitializer interface {
	Init(ctx context.Context) error
}

// PoolArchiver snapshots the discovered pool set.
type PoolArchiver interface {
	ArchivePools(ctx context.Context, venue string, window int64, pools []domain.Pool) error
}

// Recorder counts swap traffic.
type Recorder interface {
	SwapObserved(venue string)
	PriceImpact(venue string, bps float64)
	SwapDropped(venue string)
}

// Deps are the collaborators of one Dex. Discovery, Stream, Engine and
// Handler are required; the rest are optional.
type Deps struct {
	// Name identifies the venue instance; it defaults to the venue kind.
	Name      string
	Discovery PoolDiscovery
	Query     subgraph.PoolQuery
	Stream    Subscriber
	Engine    *detector.Engine
	Handler   OpportunityHandler

	Pipeline PipelineInitializer
	// Caller reads slot0 to seed pool prices.
	Caller     ethereum.ContractCaller
	PriceCache domain.PoolPriceCache
	Pools      domain.PoolStore
	Archive    PoolArchiver
	Metrics    Recorder

	QueueSize int
	Logger    *slog.Logger
}

// Dex orchestrates one venue.
type Dex struct {
	venue  Venue
	deps   Deps
	logger *slog.Logger

	state atomic.Int32

	// Written during Initialize, read-only once state is ready.
	bindings map[string]*binding
	byAddr   map[common.Address]*binding
	index    *detector.TokenIndex
	window   int64

	runOnce sync.Once
}

// New creates a Dex for venue.
func New(venue Venue, deps Deps) *Dex {
	if deps.Name == "" {
		deps.Name = string(venue.Kind())
	}
	if deps.QueueSize <= 0 {
		deps.QueueSize = DefaultQueueSize
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Dex{
		venue:  venue,
		deps:   deps,
		logger: deps.Logger.With(slog.String("component", "dex"), slog.String("venue", deps.Name)),
	}
}

// NewUniswapV3 creates a Uniswap V3 orchestrator.
func NewUniswapV3(deps Deps) *Dex {
	return New(UniswapV3(), deps)
}

// NewPancakeSwapV3 creates a PancakeSwap V3 orchestrator.
func NewPancakeSwapV3(deps Deps) *Dex {
	return New(PancakeSwapV3(), deps)
}

// Name returns the venue instance name.
func (d *Dex) Name() string {
	return d.deps.Name
}

// Kind returns the venue family.
func (d *Dex) Kind() Kind {
	return d.venue.Kind()
}

// State returns the lifecycle state.
func (d *Dex) State() State {
	return State(d.state.Load())
}

// Initialize prepares the venue: it initializes the execution pipeline,
// checks the discovery service, fetches the pool set, binds every pool's
// swaps and freezes the token index. Any failure aborts and is returned;
// the Dex goes back to uninitialized. A second call on an initializing or
// ready Dex logs a warning and returns nil.
func (d *Dex) Initialize(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		d.logger.Warn("initialize called twice, ignoring", slog.String("state", d.State().String()))
		return nil
	}
	if err := d.initialize(ctx); err != nil {
		d.state.Store(int32(StateUninitialized))
		return fmt.Errorf("dex %s: initialize: %w", d.deps.Name, err)
	}
	d.state.Store(int32(StateReady))
	d.logger.Info("venue ready",
		slog.Int("pools", len(d.bindings)),
		slog.Int("tokens", d.index.Len()),
	)
	return nil
}

func (d *Dex) initialize(ctx context.Context) error {
	start := time.Now()

	if d.deps.Pipeline != nil {
		if err := d.deps.Pipeline.Init(ctx); err != nil {
			return fmt.Errorf("execution pipeline: %w", err)
		}
	}

	block, err := d.deps.Discovery.Ping(ctx)
	if err != nil {
		return fmt.Errorf("pool discovery: %w", err)
	}
	d.logger.Info("pool discovery reachable", slog.Int64("indexed_block", block))

	query := d.deps.Query
	if query.Window <= 0 {
		query.Window = subgraph.HoursSinceUnixEpoch(time.Now())
	}
	pools, err := d.deps.Discovery.GetPools(ctx, query)
	if err != nil {
		return err
	}
	d.window = query.Window
	d.logger.Info("pools discovered", slog.Int("count", len(pools)), slog.Int64("window", query.Window))
	d.record(ctx, pools)

	bindings := make(map[string]*binding, len(pools))
	byAddr := make(map[common.Address]*binding, len(pools))
	builder := detector.NewIndexBuilder()
	for _, p := range pools {
		if _, _, ok := p.Tokens(); !ok {
			d.logger.Warn("skipping pool without a token pair", slog.String("pool", p.ID), slog.Int("tokens", len(p.InputTokens)))
			continue
		}
		b := newBinding(p, d.deps.QueueSize)
		bindings[poolKey(p.ID)] = b
		byAddr[b.addr] = b
		builder.Add(p)
	}

	if err := d.seedPrices(ctx, bindings); err != nil {
		return err
	}

	topic := [][]common.Hash{{d.venue.SwapTopic()}}
	bound := make([]string, 0, len(bindings))
	for key, b := range bindings {
		q := ethereum.FilterQuery{Addresses: []common.Address{b.addr}, Topics: topic}
		subKey := d.deps.Name + ":" + key
		if err := d.deps.Stream.Subscribe(ctx, subKey, q, d.handlerFor(b)); err != nil {
			d.unbind(ctx, bound)
			return fmt.Errorf("bind pool %s: %w", b.pool.ID, err)
		}
		bound = append(bound, subKey)
	}

	d.bindings = bindings
	d.byAddr = byAddr
	d.index = builder.Freeze()
	d.logger.Debug("initialization finished", slog.Duration("took", time.Since(start)))
	return nil
}

// unbind releases the subscriptions of a failed initialization so a later
// Initialize can bind the same keys again.
func (d *Dex) unbind(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := d.deps.Stream.Unsubscribe(ctx, key); err != nil {
			d.logger.Warn("unbind failed", slog.String("subscription", key), slog.String("error", err.Error()))
		}
	}
	d.logger.Info("released pool subscriptions", slog.Int("count", len(keys)))
}

// record persists and archives the discovered pool set. Failures are logged
// only; neither is needed to trade.
func (d *Dex) record(ctx context.Context, pools []domain.Pool) {
	if d.deps.Pools != nil {
		if err := d.deps.Pools.UpsertBatch(ctx, d.deps.Name, pools); err != nil {
			d.logger.Warn("pool persistence failed", slog.String("error", err.Error()))
		}
	}
	if d.deps.Archive != nil {
		if err := d.deps.Archive.ArchivePools(ctx, d.deps.Name, d.window, pools); err != nil {
			d.logger.Warn("pool archive failed", slog.String("error", err.Error()))
		}
	}
}

// seedPrices loads each pool's starting sqrtPriceX96 from slot0, falling
// back to the price cache. A pool without a price is still bound; its first
// swap only sets the price.
func (d *Dex) seedPrices(ctx context.Context, bindings map[string]*binding) error {
	if d.deps.Caller == nil && d.deps.PriceCache == nil {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	var missing atomic.Int32
	for _, b := range bindings {
		g.Go(func() error {
			if d.deps.Caller != nil {
				sqrt, err := d.venue.Slot0(gctx, d.deps.Caller, b.addr)
				if err == nil {
					b.setPrice(sqrt)
					return nil
				}
				d.logger.Debug("slot0 read failed", slog.String("pool", b.pool.ID), slog.String("error", err.Error()))
			}
			if d.deps.PriceCache != nil {
				sqrt, _, err := d.deps.PriceCache.GetSqrtPrice(gctx, b.pool.ID)
				if err == nil {
					b.setPrice(sqrt)
					return nil
				}
			}
			missing.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if n := missing.Load(); n > 0 {
		d.logger.Warn("pools without a starting price", slog.Int("count", int(n)))
	}
	return ctx.Err()
}

func (d *Dex) handlerFor(b *binding) chain.LogHandler {
	return func(lg types.Log) {
		if !b.enqueue(lg) {
			d.logger.Warn("pool queue full, dropping swap",
				slog.String("pool", b.pool.ID),
				slog.String("tx", lg.TxHash.Hex()),
			)
			if d.deps.Metrics != nil {
				d.deps.Metrics.SwapDropped(d.deps.Name)
			}
		}
	}
}

// Run starts one worker per bound pool and blocks until ctx is cancelled.
// Each worker decodes and processes its pool's swaps one at a time. Run
// must follow a successful Initialize and may only be called once.
func (d *Dex) Run(ctx context.Context) error {
	if d.State() != StateReady {
		return fmt.Errorf("dex %s: run before initialize", d.deps.Name)
	}
	started := false
	d.runOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("dex %s: already running", d.deps.Name)
	}

	var wg sync.WaitGroup
	for _, b := range d.bindings {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx, b)
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (d *Dex) worker(ctx context.Context, b *binding) {
	for {
		select {
		case <-ctx.Done():
			return
		case lg := <-b.queue:
			ev, err := d.venue.DecodeSwap(lg)
			if err != nil {
				d.logger.Warn("undecodable swap log", slog.String("pool", b.pool.ID), slog.String("error", err.Error()))
				continue
			}
			ev.Venue = d.deps.Name
			if err := d.ProcessSwap(ctx, ev); err != nil {
				d.logger.Error("swap processing failed",
					slog.String("pool", b.pool.ID),
					slog.String("tx", ev.TxHash.Hex()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// ProcessSwap evaluates one swap against the pool's last-known price and
// hands a resulting opportunity to the handler. Detection negatives are
// logged and return nil; an unknown pool, a Dex that is not ready or a
// handler failure return an error. The pool's price is replaced by the
// swap's post-swap price afterwards.
func (d *Dex) ProcessSwap(ctx context.Context, ev domain.SwapEvent) error {
	if d.State() != StateReady {
		return fmt.Errorf("dex %s: not ready", d.deps.Name)
	}
	b, ok := d.byAddr[ev.Pool]
	if !ok {
		return fmt.Errorf("dex %s: %w: %s", d.deps.Name, domain.ErrUnknownPool, ev.Pool.Hex())
	}
	if d.deps.Metrics != nil {
		d.deps.Metrics.SwapObserved(d.deps.Name)
	}

	prev := b.lastPrice()
	defer d.updatePrice(ctx, b, ev.SqrtPriceX96)

	log := d.logger.With(slog.String("pool", b.pool.ID), slog.String("tx", ev.TxHash.Hex()))
	opp, err := d.deps.Engine.Evaluate(ev, prev, b.pool, d.index, d)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidPriceState):
		log.Warn("missing pool price state, skipping swap")
		return nil
	case errors.Is(err, domain.ErrImpactTooSmall):
		return nil
	case errors.Is(err, domain.ErrNoCandidate), errors.Is(err, domain.ErrUnprofitable):
		log.Debug("no opportunity", slog.String("reason", err.Error()))
		return nil
	default:
		log.Warn("swap evaluation failed", slog.String("error", err.Error()))
		return nil
	}

	if d.deps.Metrics != nil {
		impact, _ := opp.PriceImpactBps.Float64()
		d.deps.Metrics.PriceImpact(d.deps.Name, impact)
	}
	opp.Venue = d.deps.Name
	if err := d.deps.Handler.Handle(ctx, opp); err != nil {
		return fmt.Errorf("dex %s: handle opportunity: %w", d.deps.Name, err)
	}
	return nil
}

func (d *Dex) updatePrice(ctx context.Context, b *binding, sqrt *big.Int) {
	if sqrt == nil || sqrt.Sign() <= 0 {
		return
	}
	b.setPrice(sqrt)
	if d.deps.PriceCache != nil {
		if err := d.deps.PriceCache.SetSqrtPrice(ctx, b.pool.ID, sqrt, time.Now()); err != nil {
			d.logger.Debug("price cache write failed", slog.String("pool", b.pool.ID), slog.String("error", err.Error()))
		}
	}
}

// SqrtPrice implements detector.PriceBook over the bound pools.
func (d *Dex) SqrtPrice(pool string) (*big.Int, bool) {
	b, ok := d.bindings[poolKey(pool)]
	if !ok {
		return nil, false
	}
	p := b.lastPrice()
	return p, p != nil
}

// Status is a point-in-time view of the venue for the ops API.
type Status struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	State   string `json:"state"`
	Pools   int    `json:"pools"`
	Tokens  int    `json:"tokens"`
	Window  int64  `json:"window"`
	Dropped int64  `json:"dropped_swaps"`
}

// Status reports the venue's state and size.
func (d *Dex) Status() Status {
	s := Status{Name: d.deps.Name, Kind: string(d.venue.Kind()), State: d.State().String()}
	if d.State() != StateReady {
		return s
	}
	s.Pools = len(d.bindings)
	s.Tokens = d.index.Len()
	s.Window = d.window
	for _, b := range d.bindings {
		s.Dropped += b.dropped.Load()
	}
	return s
}

func poolKey(id string) string {
	return strings.ToLower(id)
}
