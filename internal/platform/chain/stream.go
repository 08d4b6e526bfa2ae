// Package chain talks to the EVM node: a resilient log-subscription stream
// over WebSocket and an HTTP JSON-RPC client with transport-level retries.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// LogHandler receives every log of one logical subscription. It runs on the
// stream's read goroutine and must not block.
type LogHandler func(types.Log)

// StreamConfig tunes connection keep-alive and reconnection.
type StreamConfig struct {
	// ReconnectDelay is the first backoff delay after a disconnect.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// MaxReconnectAttempts bounds consecutive failed reconnects; 0 retries
	// forever.
	MaxReconnectAttempts int
	// PingPeriod is the keep-alive ping interval. Reads time out after
	// 10/9 of it without a pong.
	PingPeriod time.Duration
	// WriteWait bounds every frame write.
	WriteWait time.Duration
	// CallTimeout bounds one eth_subscribe or eth_unsubscribe round trip.
	CallTimeout time.Duration
}

// DefaultStreamConfig returns the stream defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    2 * time.Second,
		MaxReconnectDelay: 60 * time.Second,
		PingPeriod:        54 * time.Second,
		WriteWait:         10 * time.Second,
		CallTimeout:       30 * time.Second,
	}
}

// subscription is one logical subscription. serverID changes on every
// reconnect; key, query and handler never do.
type subscription struct {
	key      string
	query    ethereum.FilterQuery
	handler  LogHandler
	serverID string
}

type pendingCall struct {
	ch  chan rpcMessage
	sub *subscription
}

// Stream owns one WebSocket connection to the node and the logical log
// subscriptions carried over it. When the connection drops, Stream dials
// again with exponential backoff and restores every logical subscription,
// so handlers keep receiving logs without being registered again.
type Stream struct {
	wsURL  string
	cfg    StreamConfig
	logger *slog.Logger

	// connMu serializes connection changes and subscription requests.
	connMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]*subscription
	order   []string
	active  map[string]*subscription
	stopped bool

	// dispatchMu is held for reading while a handler runs; Stop takes it
	// for writing so no handler runs after Stop returns.
	dispatchMu sync.RWMutex

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]pendingCall
	nextID    atomic.Uint64

	hookMu      sync.RWMutex
	onReconnect []func()

	reconnecting atomic.Bool
	errCh        chan error
	done         chan struct{}
}

// NewStream creates a stream for wsURL. It does not connect; call Refresh.
func NewStream(wsURL string, cfg StreamConfig, logger *slog.Logger) *Stream {
	def := DefaultStreamConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = def.PingPeriod
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	return &Stream{
		wsURL:   wsURL,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "stream")),
		subs:    make(map[string]*subscription),
		active:  make(map[string]*subscription),
		pending: make(map[uint64]pendingCall),
		errCh:   make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// Refresh establishes the connection, replacing any existing one, and
// subscribes every logical subscription on it.
func (s *Stream) Refresh(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("chain/stream: refresh: %w", domain.ErrSubscriptionClosed)
	}
	old := s.conn
	s.conn = nil
	s.active = make(map[string]*subscription)
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("chain/stream: dial: %w", err)
	}

	pongWait := s.cfg.PingPeriod * 10 / 9
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("chain/stream: refresh: %w", domain.ErrSubscriptionClosed)
	}
	s.conn = conn
	subs := make([]*subscription, 0, len(s.order))
	for _, key := range s.order {
		subs = append(subs, s.subs[key])
	}
	s.mu.Unlock()

	go s.readLoop(conn)
	go s.pingLoop(conn)

	for _, sub := range subs {
		if err := s.subscribe(ctx, conn, sub); err != nil {
			return fmt.Errorf("chain/stream: restore %s: %w", sub.key, err)
		}
	}

	s.logger.Info("stream connected", slog.Int("subscriptions", len(subs)))
	return nil
}

// Subscribe registers a logical subscription under key. When the stream
// is connected the subscription is made immediately; otherwise it is made
// by the next Refresh.
func (s *Stream) Subscribe(ctx context.Context, key string, q ethereum.FilterQuery, handler LogHandler) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("chain/stream: subscribe %s: %w", key, domain.ErrSubscriptionClosed)
	}
	if _, dup := s.subs[key]; dup {
		s.mu.Unlock()
		return fmt.Errorf("chain/stream: subscribe %s: already subscribed", key)
	}
	sub := &subscription{key: key, query: q, handler: handler}
	s.subs[key] = sub
	s.order = append(s.order, key)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	if err := s.subscribe(ctx, conn, sub); err != nil {
		s.forget(key)
		return fmt.Errorf("chain/stream: subscribe %s: %w", key, err)
	}
	return nil
}

// Unsubscribe removes the logical subscription under key. Its handler is
// not called once Unsubscribe returns and it is not restored on reconnect.
// The eth_unsubscribe error, if any, is returned after local removal.
func (s *Stream) Unsubscribe(ctx context.Context, key string) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	sub, ok := s.subs[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("chain/stream: unsubscribe %s: %w", key, domain.ErrNotFound)
	}
	serverID := sub.serverID
	live := serverID != "" && s.active[serverID] == sub
	conn := s.conn
	s.mu.Unlock()
	s.forget(key)

	// Wait out a handler that is already running.
	s.dispatchMu.Lock()
	s.dispatchMu.Unlock()

	if !live || conn == nil {
		return nil
	}
	if _, err := s.call(ctx, conn, "eth_unsubscribe", []any{serverID}, nil); err != nil {
		return fmt.Errorf("chain/stream: unsubscribe %s: %w", key, err)
	}
	return nil
}

// Stop unsubscribes every active subscription and closes the connection.
// No handler runs after Stop returns. Stop is idempotent.
func (s *Stream) Stop(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	conn := s.conn
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	// Wait out a handler that is already running.
	s.dispatchMu.Lock()
	s.dispatchMu.Unlock()

	var errs []error
	if conn != nil {
		for _, id := range ids {
			if _, err := s.call(ctx, conn, "eth_unsubscribe", []any{id}, nil); err != nil {
				errs = append(errs, fmt.Errorf("unsubscribe %s: %w", id, err))
			}
		}
	}

	s.mu.Lock()
	s.conn = nil
	s.active = make(map[string]*subscription)
	s.subs = make(map[string]*subscription)
	s.order = nil
	s.mu.Unlock()
	close(s.done)

	if conn != nil {
		s.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		s.writeMu.Unlock()
		conn.Close()
	}

	s.logger.Info("stream stopped", slog.Int("unsubscribed", len(ids)))
	if len(errs) > 0 {
		return fmt.Errorf("chain/stream: stop: %w", errors.Join(errs...))
	}
	return nil
}

// SimulateDisconnect drops the current connection as a network fault
// would, triggering the normal reconnect path.
func (s *Stream) SimulateDisconnect() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		s.logger.Warn("simulating disconnect")
		conn.Close()
	}
}

// OnReconnect registers fn to run after every successful reconnect.
func (s *Stream) OnReconnect(fn func()) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onReconnect = append(s.onReconnect, fn)
}

// Err delivers the error that ended the stream when reconnect attempts are
// exhausted.
func (s *Stream) Err() <-chan error {
	return s.errCh
}

// SubscriptionCount is the number of subscriptions live on the current
// connection.
func (s *Stream) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Connected reports whether the stream currently holds a connection.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (s *Stream) forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[key]
	if !ok {
		return
	}
	delete(s.subs, key)
	if sub.serverID != "" && s.active[sub.serverID] == sub {
		delete(s.active, sub.serverID)
	}
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// subscribe issues eth_subscribe for sub on conn. The server id is
// recorded by the read loop as soon as the response arrives, before any
// notification for it can be read.
func (s *Stream) subscribe(ctx context.Context, conn *websocket.Conn, sub *subscription) error {
	_, err := s.call(ctx, conn, "eth_subscribe", []any{"logs", filterArg(sub.query)}, sub)
	return err
}

// call performs one JSON-RPC round trip on conn.
func (s *Stream) call(ctx context.Context, conn *websocket.Conn, method string, params []any, sub *subscription) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	ch := make(chan rpcMessage, 1)

	s.pendingMu.Lock()
	s.pending[id] = pendingCall{ch: ch, sub: sub}
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	s.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
	err := conn.WriteJSON(req)
	s.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	timer := time.NewTimer(s.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, msg.Error)
		}
		return msg.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: timeout after %s", method, s.cfg.CallTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, domain.ErrSubscriptionClosed
	}
}

// readLoop reads frames from conn until it fails. A failure on the current
// connection starts a reconnect; a failure on a replaced connection is
// expected and ignored.
func (s *Stream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			current := s.conn == conn
			stopped := s.stopped
			if current {
				s.conn = nil
				s.active = make(map[string]*subscription)
			}
			s.mu.Unlock()

			if stopped || !current {
				return
			}
			s.logger.Warn("stream disconnected", slog.String("error", err.Error()))
			if !s.reconnecting.Swap(true) {
				go s.reconnect()
			}
			return
		}
		s.handleMessage(message)
	}
}

// pingLoop keeps conn alive until it is replaced or the stream stops.
func (s *Stream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			current := s.conn == conn
			s.mu.Unlock()
			if !current {
				return
			}

			s.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *Stream) handleMessage(raw []byte) {
	var msg rpcMessage
	if err := sonnet.Unmarshal(raw, &msg); err != nil {
		s.logger.Debug("dropping unparseable frame", slog.String("error", err.Error()))
		return
	}

	if msg.ID != nil {
		s.handleResponse(*msg.ID, msg)
		return
	}
	if msg.Method == "eth_subscription" {
		s.handleNotification(msg.Params)
	}
}

func (s *Stream) handleResponse(id uint64, msg rpcMessage) {
	s.pendingMu.Lock()
	call, ok := s.pending[id]
	s.pendingMu.Unlock()
	if !ok {
		return
	}

	if call.sub != nil && msg.Error == nil {
		var serverID string
		if err := sonnet.Unmarshal(msg.Result, &serverID); err != nil {
			msg.Error = &rpcError{Code: -32700, Message: "subscription id: " + err.Error()}
		} else {
			s.mu.Lock()
			if !s.stopped {
				call.sub.serverID = serverID
				s.active[serverID] = call.sub
			}
			s.mu.Unlock()
		}
	}

	select {
	case call.ch <- msg:
	default:
	}
}

func (s *Stream) handleNotification(raw json.RawMessage) {
	var params subscriptionParams
	if err := sonnet.Unmarshal(raw, &params); err != nil {
		s.logger.Debug("dropping malformed notification", slog.String("error", err.Error()))
		return
	}

	s.dispatchMu.RLock()
	defer s.dispatchMu.RUnlock()

	s.mu.Lock()
	sub := s.active[params.Subscription]
	stopped := s.stopped
	s.mu.Unlock()
	if stopped || sub == nil {
		return
	}

	var lg types.Log
	if err := sonnet.Unmarshal(params.Result, &lg); err != nil {
		s.logger.Warn("dropping undecodable log",
			slog.String("subscription", sub.key),
			slog.String("error", err.Error()),
		)
		return
	}
	if lg.Removed {
		s.logger.Debug("ignoring removed log",
			slog.String("subscription", sub.key),
			slog.String("tx", lg.TxHash.Hex()),
		)
		return
	}
	sub.handler(lg)
}

// reconnect re-establishes the connection with exponential backoff. It
// gives up when the stream stops or the attempt budget is spent. The
// reconnecting flag is released only after the new connection is checked,
// so a drop during the handover still gets a reconnect.
func (s *Stream) reconnect() {
	delay := s.cfg.ReconnectDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-s.done:
			s.reconnecting.Store(false)
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
		err := s.Refresh(ctx)
		cancel()

		if err == nil {
			s.logger.Info("stream reconnected", slog.Int("attempt", attempt))
			s.hookMu.RLock()
			hooks := s.onReconnect
			s.hookMu.RUnlock()
			for _, fn := range hooks {
				fn()
			}

			s.reconnecting.Store(false)
			if !s.dropped() || s.reconnecting.Swap(true) {
				return
			}
			// The new connection already failed and its read loop left the
			// reconnect to us.
			s.logger.Warn("stream dropped right after reconnect")
			attempt = 0
		} else {
			if errors.Is(err, domain.ErrSubscriptionClosed) {
				s.reconnecting.Store(false)
				return
			}

			s.logger.Warn("stream reconnect failed",
				slog.Int("attempt", attempt),
				slog.Duration("next_delay", min(delay*2, s.cfg.MaxReconnectDelay)),
				slog.String("error", err.Error()),
			)
			if s.cfg.MaxReconnectAttempts > 0 && attempt >= s.cfg.MaxReconnectAttempts {
				select {
				case s.errCh <- fmt.Errorf("chain/stream: reconnect exhausted after %d attempts: %w", attempt, err):
				default:
				}
				s.reconnecting.Store(false)
				return
			}
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// dropped reports whether the stream is running without a connection.
func (s *Stream) dropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == nil && !s.stopped
}
