package dex

import (
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// binding is the orchestrator's view of one pool contract: its metadata,
// its last-known sqrtPriceX96 and a queue of swap logs handled by a single
// worker, so one pool's events are evaluated in order.
type binding struct {
	pool domain.Pool
	addr common.Address

	price   atomic.Pointer[big.Int]
	queue   chan types.Log
	dropped atomic.Int64
}

func newBinding(pool domain.Pool, queueSize int) *binding {
	return &binding{
		pool:  pool,
		addr:  pool.Address(),
		queue: make(chan types.Log, queueSize),
	}
}

// enqueue is the stream handler. It never blocks the stream's read loop;
// when the pool's worker is behind, the log is dropped and counted.
func (b *binding) enqueue(lg types.Log) bool {
	select {
	case b.queue <- lg:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// setPrice replaces the last-known price. Non-positive prices are ignored.
func (b *binding) setPrice(sqrtPriceX96 *big.Int) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return
	}
	b.price.Store(new(big.Int).Set(sqrtPriceX96))
}

func (b *binding) lastPrice() *big.Int {
	return b.price.Load()
}
