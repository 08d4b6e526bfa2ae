package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ExecutionLister reads recent submissions.
type ExecutionLister interface {
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionRecord, error)
}

// OpportunityLister reads recent opportunities.
type OpportunityLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.OpportunitySummary, error)
}

// HistoryHandler serves persisted opportunities and executions.
type HistoryHandler struct {
	executions    ExecutionLister
	opportunities OpportunityLister
	logger        *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(executions ExecutionLister, opportunities OpportunityLister, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		executions:    executions,
		opportunities: opportunities,
		logger:        logger.With(slog.String("handler", "history")),
	}
}

type executionJSON struct {
	ID            string    `json:"id"`
	OpportunityID string    `json:"opportunity_id"`
	Venue         string    `json:"venue"`
	TxHash        string    `json:"tx_hash,omitempty"`
	Nonce         uint64    `json:"nonce"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// RecentExecutions lists submissions newest first.
// GET /api/executions/recent?limit=50&offset=0&since=1h
func (h *HistoryHandler) RecentExecutions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since: "+err.Error())
		return
	}
	recs, err := h.executions.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.Error("list executions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	out := make([]executionJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, executionJSON{
			ID:            rec.ID,
			OpportunityID: rec.OpportunityID,
			Venue:         rec.Venue,
			TxHash:        rec.TxHash,
			Nonce:         rec.Nonce,
			Status:        string(rec.Status),
			Error:         rec.Error,
			SubmittedAt:   rec.SubmittedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": out})
}

type opportunityJSON struct {
	ID             string    `json:"id"`
	Venue          string    `json:"venue"`
	Cycle          string    `json:"cycle"`
	TokenAIn       string    `json:"token_a_in"`
	PriceImpactBps string    `json:"price_impact_bps"`
	ExpectedProfit string    `json:"expected_profit,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecentOpportunities lists assembled opportunities newest first.
// GET /api/opportunities/recent?limit=50
func (h *HistoryHandler) RecentOpportunities(w http.ResponseWriter, r *http.Request) {
	list, err := h.opportunities.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.Error("list opportunities failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	out := make([]opportunityJSON, 0, len(list))
	for _, o := range list {
		out = append(out, opportunityJSON(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": out})
}
