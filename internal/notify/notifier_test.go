package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
	events []string
}

func (s *recordingSender) Send(_ context.Context, a Alert) error {
	s.titles = append(s.titles, a.Title)
	s.events = append(s.events, a.Event)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_FiltersByEvent(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventFlashLoanError, " " + EventConcluded}, quietLogger())

	require.NoError(t, n.Notify(t.Context(), EventOpportunity, "opp", "body"))
	require.NoError(t, n.Notify(t.Context(), EventConcluded, "done", "body"))
	require.NoError(t, n.Notify(t.Context(), EventFlashLoanError, "fail", "body"))

	assert.Equal(t, []string{"done", "fail"}, s.titles)
	assert.Equal(t, []string{EventConcluded, EventFlashLoanError}, s.events)
	assert.False(t, n.Enabled(EventSubmitted))
}

func TestNotifier_EmptyFilterForwardsAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quietLogger())
	require.NoError(t, n.Notify(t.Context(), EventOpportunity, "a", ""))
	require.NoError(t, n.Notify(t.Context(), "anything", "b", ""))
	assert.Len(t, s.titles, 2)
}

func TestNotifier_FailingSenderDoesNotBlockOthers(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(t.Context(), EventError, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"t"}, good.titles)
}

func TestTelegramSender_PostsToBotAPI(t *testing.T) {
	var gotPath string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, s.Send(t.Context(), Alert{Event: EventOpportunity, Title: "Title", Message: "line"}))
	assert.Equal(t, "/bottok/sendMessage", gotPath)
	assert.Equal(t, "42", payload["chat_id"])
	assert.Contains(t, payload["text"], "*Title*")
	assert.Equal(t, true, payload["disable_notification"])
}

func TestTelegramSender_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	err := NewTelegramSender("tok", "42").WithBaseURL(srv.URL).
		Send(t.Context(), Alert{Event: EventFlashLoanError, Title: "t", Message: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestDiscordSender_EmbedColourBySeverity(t *testing.T) {
	var payload struct {
		Embeds []struct {
			Title  string `json:"title"`
			Color  int    `json:"color"`
			Footer struct {
				Text string `json:"text"`
			} `json:"footer"`
		} `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(t.Context(), Alert{Event: EventFlashLoanError, Title: "Flash loan error", Message: "m"}))
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, "Flash loan error", payload.Embeds[0].Title)
	assert.Equal(t, discordColorSevere, payload.Embeds[0].Color)
	assert.Equal(t, EventFlashLoanError, payload.Embeds[0].Footer.Text)
}

func TestDiscordSender_ReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(t.Context(), Alert{Event: EventError, Title: "t", Message: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "slow down")
}

func TestFormatConfirmation(t *testing.T) {
	msg := FormatConfirmation(domain.Confirmation{
		Kind:        domain.ConfirmFlashLoanError,
		ExecutionID: 7,
		Message:     "insufficient output",
	})
	assert.Contains(t, msg, "execution: 7")
	assert.Contains(t, msg, "message: insufficient output")
}
