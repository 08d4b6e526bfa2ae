package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/alanyoungcy/flasharb/internal/dex"
)

// StatusReport is the runtime snapshot served at /api/status.
type StatusReport struct {
	Mode            string       `json:"mode"`
	StartedAt       time.Time    `json:"started_at"`
	Venues          []dex.Status `json:"venues"`
	Subscriptions   int          `json:"subscriptions"`
	StreamConnected bool         `json:"stream_connected"`
	Wallet          string       `json:"wallet,omitempty"`
	NextNonce       *uint64      `json:"next_nonce,omitempty"`
	InFlight        int          `json:"in_flight"`
}

// StatusProvider builds the current StatusReport.
type StatusProvider interface {
	Status(ctx context.Context) StatusReport
}

// StatusHandler serves the runtime status.
type StatusHandler struct {
	provider StatusProvider
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(provider StatusProvider) *StatusHandler {
	return &StatusHandler{provider: provider}
}

// GetStatus responds with venue states, pool counts, stream subscription
// count and the next local nonce.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.Status(r.Context()))
}
