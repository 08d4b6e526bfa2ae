package ws

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

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/feed"
)

type chanBus struct {
	ch      chan []byte
	channel string
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.channel = channel
	return b.ch, nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestHub_RelaysFeedEvents(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 4)}
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, feed.Channel, bus.channel)

	bus.ch <- []byte("not protobuf at all")
	payload, err := feed.Encode(map[string]any{"type": feed.TypeOpportunity, "venue": "uniswap_v3"})
	require.NoError(t, err)
	bus.ch <- payload

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, sonnet.Unmarshal(msg, &got))
	assert.Equal(t, "opportunity", got["type"])
	assert.Equal(t, "uniswap_v3", got["venue"])

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "clients are disconnected on shutdown")
	assert.Equal(t, 0, hub.ClientCount())
}
