package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Insert stores opp and its three legs. Re-inserting the same trigger is a
// no-op.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var profit *string
	if opp.ExpectedProfit != nil {
		v := opp.ExpectedProfit.String()
		profit = &v
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO opportunities (id, venue, trigger_pool, trigger_tx, trigger_log, block_number, cycle,
			token_a_in, price_impact_bps, expected_profit, estimated_gas)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric, $11::numeric)
		ON CONFLICT (id) DO NOTHING`,
		opp.ID(), opp.Venue, strings.ToLower(opp.Trigger.Pool.Hex()), opp.Trigger.TxHash.Hex(),
		int64(opp.Trigger.LogIndex), int64(opp.Trigger.BlockNumber), opp.Plan.String(),
		opp.TokenAIn.String(), opp.PriceImpactBps.String(), profit, opp.Plan.EstimatedGasCost.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID(), err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	for i, leg := range opp.Plan.Legs() {
		_, err = tx.Exec(ctx, `
			INSERT INTO opportunity_legs (opportunity_id, leg, pool, token_in, token_out, fee_tier, min_amount_out)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric)`,
			opp.ID(), i+1, strings.ToLower(leg.Pool), leg.TokenIn.Symbol, leg.TokenOut.Symbol,
			int64(leg.FeeTier), leg.MinimumAmountOut.String(),
		)
		if err != nil {
			return fmt.Errorf("postgres: insert opportunity leg %d: %w", i+1, err)
		}
	}
	return tx.Commit(ctx)
}

// ListRecent returns the newest opportunities first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.OpportunitySummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, venue, cycle, token_a_in::text, price_impact_bps::text,
			COALESCE(expected_profit::text, ''), created_at
		FROM opportunities ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var list []domain.OpportunitySummary
	for rows.Next() {
		var o domain.OpportunitySummary
		if err := rows.Scan(&o.ID, &o.Venue, &o.Cycle, &o.TokenAIn, &o.PriceImpactBps,
			&o.ExpectedProfit, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
