package subgraph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Discovery defaults.
const (
	DefaultLimit     = 100
	DefaultPageSize  = 10
	DefaultPageCount = 10
)

const poolsQuery = `
	query Pools($hoursSinceUnixEpoch: Int!, $size: Int!, $offset: Int!) {
		liquidityPoolHourlySnapshots(
			first: $size
			skip: $offset
			orderBy: hourlySwapCount
			orderDirection: desc
			where: { hour: $hoursSinceUnixEpoch }
		) {
			pool {
				id
				name
				symbol
				fees {
					feePercentage
					feeType
				}
				inputTokens {
					id
					name
					symbol
					decimals
				}
			}
		}
	}
`

// PoolQuery parameterizes GetPools. Zero fields take the defaults; a zero
// Window means the last complete hour.
type PoolQuery struct {
	Limit     int
	PageSize  int
	PageCount int
	Window    int64
}

func (q PoolQuery) withDefaults(now time.Time) PoolQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageCount <= 0 {
		q.PageCount = DefaultPageCount
	}
	if q.Window <= 0 {
		q.Window = HoursSinceUnixEpoch(now)
	}
	return q
}

// HoursSinceUnixEpoch returns the snapshot key of the last complete hour
// before t.
func HoursSinceUnixEpoch(t time.Time) int64 {
	return t.Unix()/3600 - 1
}

// GetPools returns the most active pools of the window, most active first,
// without duplicates and at most q.Limit of them.
//
// Each round fetches q.PageCount pages concurrently and merges them in page
// order. Discovery stops when the limit is reached or a round yields fewer
// new pools than its full capacity. Any page failure fails the whole call;
// no partial result is returned.
func (c *Client) GetPools(ctx context.Context, q PoolQuery) ([]domain.Pool, error) {
	q = q.withDefaults(time.Now())
	c.logger.Debug("getting pools",
		slog.Int("limit", q.Limit),
		slog.Int("page_count", q.PageCount),
		slog.Int("page_size", q.PageSize),
		slog.Int64("window", q.Window),
	)

	seen := make(map[string]struct{}, q.Limit)
	pools := make([]domain.Pool, 0, q.Limit)
	offset := 0
	capacity := q.PageCount * q.PageSize

	for len(pools) < q.Limit {
		pages, err := c.fetchRound(ctx, q, offset)
		if err != nil {
			c.logger.Error("pool discovery failed",
				slog.Int("offset", offset),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("subgraph: get pools: %w: %w", domain.ErrDiscoveryFailed, err)
		}

		fetched := 0
	merge:
		for _, page := range pages {
			for _, p := range page {
				if _, dup := seen[p.ID]; dup {
					continue
				}
				seen[p.ID] = struct{}{}
				pools = append(pools, p)
				fetched++
				if len(pools) >= q.Limit {
					break merge
				}
			}
		}
		c.logger.Debug("fetched pool round", slog.Int("offset", offset), slog.Int("new", fetched))

		if fetched < capacity {
			break
		}
		offset += capacity
	}

	return pools, nil
}

// fetchRound fetches q.PageCount consecutive pages starting at offset. The
// returned pages keep their offset order.
func (c *Client) fetchRound(ctx context.Context, q PoolQuery, offset int) ([][]domain.Pool, error) {
	pages := make([][]domain.Pool, q.PageCount)
	g, gctx := errgroup.WithContext(ctx)
	for i := range q.PageCount {
		skip := offset + i*q.PageSize
		g.Go(func() error {
			page, err := c.fetchPage(gctx, q.Window, q.PageSize, skip)
			if err != nil {
				return fmt.Errorf("page at offset %d: %w", skip, err)
			}
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

func (c *Client) fetchPage(ctx context.Context, window int64, size, skip int) ([]domain.Pool, error) {
	variables := map[string]any{
		"hoursSinceUnixEpoch": window,
		"size":                size,
		"offset":              skip,
	}

	var result struct {
		Snapshots []struct {
			Pool domain.Pool `json:"pool"`
		} `json:"liquidityPoolHourlySnapshots"`
	}
	if err := doQuery(ctx, c, poolsQuery, variables, &result); err != nil {
		return nil, err
	}

	pools := make([]domain.Pool, 0, len(result.Snapshots))
	for _, s := range result.Snapshots {
		pools = append(pools, s.Pool)
	}
	return pools, nil
}
