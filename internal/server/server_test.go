package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/flasharb/internal/dex"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/feed"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/server/ws"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticStatus struct{}

func (staticStatus) Status(context.Context) handler.StatusReport {
	next := uint64(12)
	return handler.StatusReport{
		Mode:          "run",
		Venues:        []dex.Status{{Name: "uniswap", Kind: "uniswap_v3", State: "ready", Pools: 3}},
		Subscriptions: 4,
		NextNonce:     &next,
	}
}

type fakeExecutions struct {
	got  domain.ListOpts
	recs []domain.ExecutionRecord
	err  error
}

func (f *fakeExecutions) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.ExecutionRecord, error) {
	f.got = opts
	return f.recs, f.err
}

type fakeOpportunities struct{}

func (fakeOpportunities) ListRecent(_ context.Context, limit int) ([]domain.OpportunitySummary, error) {
	return []domain.OpportunitySummary{{ID: "0x01:1", Cycle: "A -> B -> C -> A", TokenAIn: "10"}}, nil
}

type streamBus struct {
	domain.SignalBus
	msgs []domain.StreamMessage
}

func (b *streamBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID != "0" {
		return nil, nil
	}
	return b.msgs, nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

func newTestServer(t *testing.T, cfg Config, execs *fakeExecutions, checks map[string]handler.Check) http.Handler {
	t.Helper()
	payload, err := feed.Encode(map[string]any{"type": "opportunity", "id": "0x01:1"})
	require.NoError(t, err)
	bus := &streamBus{msgs: []domain.StreamMessage{{ID: "1-0", Payload: payload}}}

	srv := NewServer(cfg, Handlers{
		Health:  handler.NewHealthHandler(checks, discard()),
		Status:  handler.NewStatusHandler(staticStatus{}),
		History: handler.NewHistoryHandler(execs, fakeOpportunities{}, discard()),
		Feed:    handler.NewFeedHandler(bus, discard()),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("metrics")) }),
	}, nil, discard())
	return srv.Handler()
}

func get(t *testing.T, h http.Handler, path string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	_ = sonnet.Unmarshal(rec.Body.Bytes(), &body)
	return rec.Code, body
}

func TestStatusAndHistory(t *testing.T) {
	execs := &fakeExecutions{recs: []domain.ExecutionRecord{{ID: "e1", Status: domain.ExecSubmitted, TxHash: "0xab"}}}
	h := newTestServer(t, Config{}, execs, nil)

	code, body := get(t, h, "/api/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "run", body["mode"])
	assert.Equal(t, float64(12), body["next_nonce"])
	assert.Equal(t, float64(4), body["subscriptions"])

	code, body = get(t, h, "/api/executions/recent?limit=1000&offset=5&since=1h", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["executions"], 1)
	assert.Equal(t, 500, execs.got.Limit)
	assert.Equal(t, 5, execs.got.Offset)
	require.NotNil(t, execs.got.Since)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), *execs.got.Since, time.Minute)

	code, _ = get(t, h, "/api/executions/recent?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = get(t, h, "/api/opportunities/recent", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["opportunities"], 1)
}

func TestExecutionsStoreError(t *testing.T) {
	h := newTestServer(t, Config{}, &fakeExecutions{err: errors.New("db down")}, nil)
	code, body := get(t, h, "/api/executions/recent", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "failed to list executions", body["error"])
}

func TestFeedTail(t *testing.T) {
	h := newTestServer(t, Config{}, &fakeExecutions{}, nil)
	code, body := get(t, h, "/api/feed", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1-0", body["next"])
	events := body["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "opportunity", events[0].(map[string]any)["event"].(map[string]any)["type"])

	_, body = get(t, h, "/api/feed?after=1-0", nil)
	assert.Equal(t, "1-0", body["next"])
	assert.Empty(t, body["events"])
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, Config{}, &fakeExecutions{}, map[string]handler.Check{
		"postgres": func(context.Context) error { return nil },
	})
	code, body := get(t, h, "/api/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	h = newTestServer(t, Config{}, &fakeExecutions{}, map[string]handler.Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	code, body = get(t, h, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["dependencies"].(map[string]any)["redis"])
}

func TestAuth(t *testing.T) {
	h := newTestServer(t, Config{APIKey: "secret"}, &fakeExecutions{}, nil)

	code, _ := get(t, h, "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, h, "/api/status", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, h, "/api/status", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, h, "/api/status", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, h, "/api/health", nil)
	assert.Equal(t, http.StatusOK, code, "health is exempt")
	code, _ = get(t, h, "/metrics", nil)
	assert.Equal(t, http.StatusOK, code, "metrics are exempt")
}

func TestRateLimit(t *testing.T) {
	srv := NewServer(Config{RateLimit: 1, RateWindow: time.Second}, Handlers{
		Health: handler.NewHealthHandler(nil, discard()),
		Status: handler.NewStatusHandler(staticStatus{}),
	}, denyAll{}, discard())

	code, body := get(t, srv.Handler(), "/api/status", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate limit exceeded", body["error"])
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, Config{CORSOrigins: []string{"https://dash.example"}}, &fakeExecutions{}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

type liveBus struct {
	domain.SignalBus
	ch chan []byte
}

func (b *liveBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func TestLiveFeedThroughMiddleware(t *testing.T) {
	bus := &liveBus{ch: make(chan []byte, 1)}
	hub := ws.NewHub(bus, discard())
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := NewServer(Config{APIKey: "secret"}, Handlers{
		Health: handler.NewHealthHandler(nil, discard()),
		Status: handler.NewStatusHandler(staticStatus{}),
		Live:   hub,
	}, nil, discard())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=secret", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	payload, err := feed.Encode(map[string]any{"type": "execution", "status": "submitted"})
	require.NoError(t, err)
	bus.ch <- payload

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"submitted"`)
}
