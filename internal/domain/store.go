package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// PoolStore persists discovered pools per venue.
type PoolStore interface {
	UpsertBatch(ctx context.Context, venue string, pools []Pool) error
	ListByVenue(ctx context.Context, venue string) ([]Pool, error)
}

// OpportunityStore persists assembled opportunities and their legs.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	ListRecent(ctx context.Context, limit int) ([]OpportunitySummary, error)
}

// OpportunitySummary is the flattened row returned by list queries.
type OpportunitySummary struct {
	ID             string
	Venue          string
	Cycle          string
	TokenAIn       string
	PriceImpactBps string
	ExpectedProfit string
	CreatedAt      time.Time
}

// ExecutionStore persists submission outcomes and contract confirmations.
type ExecutionStore interface {
	Create(ctx context.Context, rec ExecutionRecord) error
	RecordConfirmation(ctx context.Context, c Confirmation) error
	ListRecent(ctx context.Context, opts ListOpts) ([]ExecutionRecord, error)
}
