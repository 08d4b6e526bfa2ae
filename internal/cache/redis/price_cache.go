package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// PoolPriceCache implements domain.PoolPriceCache with one hash per pool at
// "pool:{id}" holding the decimal sqrtPriceX96 and its Unix-nano timestamp.
// Entries expire so a long-stopped bot does not resume from stale prices.
type PoolPriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPoolPriceCache creates a cache whose entries live for ttl; zero keeps
// them forever.
func NewPoolPriceCache(c *Client, ttl time.Duration) *PoolPriceCache {
	return &PoolPriceCache{c: c, ttl: ttl}
}

func (pc *PoolPriceCache) poolKey(pool string) string {
	return pc.c.key("pool:", strings.ToLower(pool))
}

// SetSqrtPrice stores the pool's price.
func (pc *PoolPriceCache) SetSqrtPrice(ctx context.Context, pool string, sqrtPriceX96 *big.Int, ts time.Time) error {
	if sqrtPriceX96 == nil {
		return fmt.Errorf("redis: set price %s: nil price", pool)
	}
	key := pc.poolKey(pool)
	_, err := pc.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "sqrt", sqrtPriceX96.String(), "ts", strconv.FormatInt(ts.UnixNano(), 10))
		if pc.ttl > 0 {
			p.Expire(ctx, key, pc.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", pool, err)
	}
	return nil
}

// GetSqrtPrice returns the pool's price and when it was stored, or
// domain.ErrNotFound.
func (pc *PoolPriceCache) GetSqrtPrice(ctx context.Context, pool string) (*big.Int, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.poolKey(pool)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get price %s: %w", pool, err)
	}
	sqrtStr, ok := vals["sqrt"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	sqrt, ok := new(big.Int).SetString(sqrtStr, 10)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("redis: parse price %s: %q", pool, sqrtStr)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", pool, err)
	}
	return sqrt, time.Unix(0, tsNano), nil
}

var _ domain.PoolPriceCache = (*PoolPriceCache)(nil)
