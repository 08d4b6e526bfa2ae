package domain

import (
	"context"
	"math/big"
	"time"
)

// PoolPriceCache stores the last-known sqrtPriceX96 per pool so a restart
// can resume with a price state.
type PoolPriceCache interface {
	SetSqrtPrice(ctx context.Context, pool string, sqrtPriceX96 *big.Int, ts time.Time) error
	GetSqrtPrice(ctx context.Context, pool string) (*big.Int, time.Time, error)
}

// RateLimiter caps submissions and API requests per key within a sliding
// window shared across replicas.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager guards a trigger key so only one replica executes it. Acquire
// returns ErrLockHeld when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry of the durable arb feed stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries feed events: fire-and-forget pub/sub for live
// subscribers and an append-only stream for replay.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
