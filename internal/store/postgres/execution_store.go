package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Create inserts a submission record.
func (s *ExecutionStore) Create(ctx context.Context, rec domain.ExecutionRecord) error {
	var txHash *string
	var nonce *int64
	if rec.TxHash != "" {
		h := strings.ToLower(rec.TxHash)
		txHash = &h
		n := int64(rec.Nonce)
		nonce = &n
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (id, opportunity_id, venue, tx_hash, nonce, status, error, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.OpportunityID, rec.Venue, txHash, nonce, string(rec.Status), rec.Error, rec.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", rec.ID, err)
	}
	return nil
}

// RecordConfirmation appends a contract event and advances the status of
// the execution sent in the same transaction. FlashLoanSuccess does not
// change status; only ArbitrageConcluded and FlashloanError are terminal.
func (s *ExecutionStore) RecordConfirmation(ctx context.Context, c domain.Confirmation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txHash := strings.ToLower(c.TxHash.Hex())
	_, err = tx.Exec(ctx, `
		INSERT INTO execution_events (kind, execution_id, tx_hash, block_number, input_amount,
			swap1_amount_out, swap2_amount_out, swap3_amount_out, profit, amount, message)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11)`,
		string(c.Kind), int64(c.ExecutionID), txHash, int64(c.BlockNumber),
		numeric(c.InputAmount), numeric(c.Swap1AmountOut), numeric(c.Swap2AmountOut),
		numeric(c.Swap3AmountOut), numeric(c.Profit), numeric(c.Amount), c.Message,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution event %s: %w", c.Kind, err)
	}

	var status domain.ExecStatus
	switch c.Kind {
	case domain.ConfirmArbitrageConcluded:
		status = domain.ExecConcluded
	case domain.ConfirmFlashLoanError:
		status = domain.ExecFlashLoanError
	}
	if status != "" {
		_, err = tx.Exec(ctx, `
			UPDATE executions SET status = $1, error = $2, updated_at = NOW()
			WHERE tx_hash = $3`, string(status), c.Message, txHash)
		if err != nil {
			return fmt.Errorf("postgres: update execution %s: %w", txHash, err)
		}
	}
	return tx.Commit(ctx)
}

// ListRecent returns executions newest first, optionally bounded by
// opts.Since.
func (s *ExecutionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, opportunity_id, venue, COALESCE(tx_hash, ''), COALESCE(nonce, 0), status, error, submitted_at
		FROM executions
		WHERE $1::timestamptz IS NULL OR submitted_at >= $1
		ORDER BY submitted_at DESC, id
		LIMIT $2 OFFSET $3`, opts.Since, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ExecutionRecord, error) {
		var rec domain.ExecutionRecord
		var nonce int64
		var status string
		err := row.Scan(&rec.ID, &rec.OpportunityID, &rec.Venue, &rec.TxHash, &nonce,
			&status, &rec.Error, &rec.SubmittedAt)
		rec.Nonce = uint64(nonce)
		rec.Status = domain.ExecStatus(status)
		return rec, err
	})
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
