package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/feed"
)

// FeedHandler replays the event stream.
type FeedHandler struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(bus domain.SignalBus, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{bus: bus, logger: logger.With(slog.String("handler", "feed"))}
}

// Tail returns events after a stream cursor; clients pass the last id they
// saw back as ?after=.
// GET /api/feed?after=0&limit=50
func (h *FeedHandler) Tail(w http.ResponseWriter, r *http.Request) {
	entries, err := feed.Tail(r.Context(), h.bus, r.URL.Query().Get("after"), parseLimit(r))
	if err != nil {
		h.logger.Error("feed tail failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read feed")
		return
	}
	next := r.URL.Query().Get("after")
	if len(entries) > 0 {
		next = entries[len(entries)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries, "next": next})
}
