package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// UpsertBatch inserts or refreshes every pool discovered for venue in a
// single batch. Pool ids are stored lowercase.
func (s *PoolStore) UpsertBatch(ctx context.Context, venue string, pools []domain.Pool) error {
	if len(pools) == 0 {
		return nil
	}

	const query = `
		INSERT INTO pools (venue, id, name, symbol, input_tokens, fees, fee_tier, discovered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (venue, id) DO UPDATE SET
			name          = EXCLUDED.name,
			symbol        = EXCLUDED.symbol,
			input_tokens  = EXCLUDED.input_tokens,
			fees          = EXCLUDED.fees,
			fee_tier      = EXCLUDED.fee_tier,
			discovered_at = NOW()`

	batch := &pgx.Batch{}
	for _, p := range pools {
		tokens, err := sonnet.Marshal(p.InputTokens)
		if err != nil {
			return fmt.Errorf("postgres: encode tokens of pool %s: %w", p.ID, err)
		}
		fees, err := sonnet.Marshal(p.Fees)
		if err != nil {
			return fmt.Errorf("postgres: encode fees of pool %s: %w", p.ID, err)
		}
		batch.Queue(query, venue, strings.ToLower(p.ID), p.Name, p.Symbol, tokens, fees, int64(p.FeeTier()))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range pools {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert pools for %s: %w", venue, err)
		}
	}
	return nil
}

// ListByVenue returns the pools stored for venue ordered by id.
func (s *PoolStore) ListByVenue(ctx context.Context, venue string) ([]domain.Pool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, symbol, input_tokens, fees
		FROM pools WHERE venue = $1 ORDER BY id`, venue)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools for %s: %w", venue, err)
	}
	defer rows.Close()

	var list []domain.Pool
	for rows.Next() {
		var p domain.Pool
		var tokens, fees []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Symbol, &tokens, &fees); err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		if err := sonnet.Unmarshal(tokens, &p.InputTokens); err != nil {
			return nil, fmt.Errorf("postgres: decode tokens of pool %s: %w", p.ID, err)
		}
		if err := sonnet.Unmarshal(fees, &p.Fees); err != nil {
			return nil, fmt.Errorf("postgres: decode fees of pool %s: %w", p.ID, err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

var _ domain.PoolStore = (*PoolStore)(nil)
