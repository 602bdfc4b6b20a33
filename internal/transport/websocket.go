package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

// wsTransport implements Transport over a WebSocket connection.
type wsTransport struct {
	cfg    Config
	logger *slog.Logger

	events chan Event
	done   chan struct{}

	// Connection state
	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	opened    bool
	lastPing  time.Time

	// Write serialization
	writeMu sync.Mutex

	// Ack correlation
	pendingMu sync.Mutex
	pending   map[int64]chan ackResult
	ackID     int64
}

// ackResult carries an acknowledgement payload or the error that ended the
// wait for it.
type ackResult struct {
	payload json.RawMessage
	err     error
}

// Dial creates a WebSocket transport for the given server. The connection
// lifecycle starts when Open is called.
func Dial(cfg Config, logger *slog.Logger) Transport {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &wsTransport{
		cfg:     cfg,
		logger:  logger.With("component", "transport"),
		events:  make(chan Event, cfg.BufferSize),
		done:    make(chan struct{}),
		pending: make(map[int64]chan ackResult),
	}
}

// Open starts the connect/reconnect loop. Calling Open more than once is a
// no-op.
func (t *wsTransport) Open() {
	t.mu.Lock()
	if t.opened || t.closed {
		t.mu.Unlock()
		return
	}
	t.opened = true
	t.mu.Unlock()

	go t.run()
}

// Close tears down the connection and stops reconnection.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	conn := t.conn
	opened := t.opened
	t.mu.Unlock()

	close(t.done)

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	// The run loop owns the events channel; only close it here when the
	// loop never started.
	if !opened {
		close(t.events)
	}

	return nil
}

// Connected reports whether the link is currently established.
func (t *wsTransport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Events returns the inbound event channel.
func (t *wsTransport) Events() <-chan Event {
	return t.events
}

// Emit sends a fire-and-forget event.
func (t *wsTransport) Emit(event string, payload any) error {
	args, err := marshalArgs(payload)
	if err != nil {
		return err
	}
	return t.send(packet{Event: event, Args: args})
}

// EmitWithAck sends an event and waits for the server's acknowledgement.
func (t *wsTransport) EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	args, err := marshalArgs(payload)
	if err != nil {
		return nil, err
	}

	id := atomic.AddInt64(&t.ackID, 1)
	respCh := make(chan ackResult, 1)

	t.pendingMu.Lock()
	t.pending[id] = respCh
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.send(packet{Event: event, Args: args, ID: id}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrAckTimeout
		}
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrConnectionLost
	case res := <-respCh:
		return res.payload, res.err
	}
}

// run drives the connect/reconnect cycle until Close.
func (t *wsTransport) run() {
	defer close(t.events)

	bo := &backoff.Backoff{
		Min:    t.cfg.ReconnectMin,
		Max:    t.cfg.ReconnectMax,
		Factor: 2,
		Jitter: true,
	}
	attempt := 0

	for {
		if t.isClosed() {
			return
		}

		conn, err := t.dial()
		if err != nil {
			if t.isClosed() {
				return
			}

			if isTimeout(err) {
				t.deliver(Event{Name: EventConnectTimeout, Args: StringArg(err.Error())})
			} else {
				t.deliver(Event{Name: EventConnectError, Args: StringArg(err.Error())})
			}

			attempt++
			if t.cfg.MaxAttempts > 0 && attempt >= t.cfg.MaxAttempts {
				t.logger.Warn("reconnection attempts exhausted", "attempts", attempt)
				t.deliver(Event{Name: EventReconnectFailed})
				return
			}

			t.deliver(Event{Name: EventReconnectAttempt, Args: IntArg(attempt)})
			if !t.wait(bo.Duration()) {
				return
			}
			continue
		}

		attempt = 0
		bo.Reset()
		t.setConn(conn)
		t.deliver(Event{Name: EventConnect})

		reason := t.readLoop(conn)

		t.clearConn()
		t.failPending(ErrConnectionLost)
		t.deliver(Event{Name: EventDisconnect, Args: StringArg(reason)})

		if t.isClosed() {
			return
		}

		attempt++
		t.deliver(Event{Name: EventReconnectAttempt, Args: IntArg(attempt)})
		if !t.wait(bo.Duration()) {
			return
		}
	}
}

// dial establishes a single WebSocket connection.
func (t *wsTransport) dial() (*websocket.Conn, error) {
	sessionID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Session-ID", sessionID)

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.DialTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.DialTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		return nil, err
	}

	// Server sends ping, we respond with pong and track liveness.
	conn.SetPingHandler(func(data string) error {
		t.mu.Lock()
		t.lastPing = time.Now()
		t.mu.Unlock()

		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	t.logger.Debug("websocket connected", "url", t.cfg.URL, "session_id", sessionID)
	return conn, nil
}

// readLoop reads packets until the link drops and returns the native
// disconnect reason string.
func (t *wsTransport) readLoop(conn *websocket.Conn) string {
	stop := make(chan struct{})
	defer close(stop)

	var stale atomic.Bool
	go t.watchPings(conn, stop, &stale)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case t.isClosed():
				return ReasonClientInitiated
			case stale.Load():
				return ReasonPingTimeout
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return ReasonServerInitiated
			default:
				return err.Error()
			}
		}

		var p packet
		if err := json.Unmarshal(data, &p); err != nil {
			t.logger.Warn("malformed packet, skipping", "error", err)
			continue
		}

		if p.Ack != 0 {
			t.routeAck(p)
			continue
		}
		if p.Event == "" {
			continue
		}

		t.deliver(Event{Name: p.Event, Args: p.Args})
	}
}

// watchPings closes the connection when the server stops pinging.
func (t *wsTransport) watchPings(conn *websocket.Conn, stop <-chan struct{}, stale *atomic.Bool) {
	interval := t.cfg.PingTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.done:
			return
		case <-ticker.C:
			t.mu.RLock()
			last := t.lastPing
			t.mu.RUnlock()

			if time.Since(last) > t.cfg.PingTimeout {
				t.logger.Warn("no ping received, connection stale",
					"last_ping", last,
					"timeout", t.cfg.PingTimeout,
				)
				stale.Store(true)
				conn.Close()
				return
			}
		}
	}
}

// routeAck hands an acknowledgement to the waiting caller.
func (t *wsTransport) routeAck(p packet) {
	t.pendingMu.Lock()
	ch, ok := t.pending[p.Ack]
	if ok {
		delete(t.pending, p.Ack)
	}
	t.pendingMu.Unlock()

	if !ok {
		t.logger.Debug("ack with no pending request", "ack", p.Ack)
		return
	}

	var payload json.RawMessage
	if len(p.Args) > 0 {
		payload = p.Args[0]
	}
	select {
	case ch <- ackResult{payload: payload}:
	default:
	}
}

// failPending rejects every in-flight acknowledged request.
func (t *wsTransport) failPending(err error) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	for id, ch := range t.pending {
		delete(t.pending, id)
		select {
		case ch <- ackResult{err: err}:
		default:
		}
	}
}

// send writes a packet to the connection.
func (t *wsTransport) send(p packet) error {
	t.mu.RLock()
	conn := t.conn
	connected := t.connected
	t.mu.RUnlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) setConn(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.lastPing = time.Now()
	t.mu.Unlock()
}

func (t *wsTransport) clearConn() {
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.connected = false
	t.mu.Unlock()
}

func (t *wsTransport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// deliver pushes an event to the consumer, giving up only on shutdown.
func (t *wsTransport) deliver(ev Event) {
	select {
	case t.events <- ev:
	case <-t.done:
		select {
		case t.events <- ev:
		default:
		}
	}
}

// wait sleeps for d, returning false when the transport closes first.
func (t *wsTransport) wait(d time.Duration) bool {
	select {
	case <-t.done:
		return false
	case <-time.After(d):
		return true
	}
}

// marshalArgs encodes a payload as the event's single argument.
func marshalArgs(payload any) ([]json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return []json.RawMessage{data}, nil
}

// StringArg builds a single-argument list holding a JSON string.
func StringArg(s string) []json.RawMessage {
	data, _ := json.Marshal(s)
	return []json.RawMessage{data}
}

// IntArg builds a single-argument list holding a JSON number.
func IntArg(n int) []json.RawMessage {
	return []json.RawMessage{json.RawMessage(strconv.Itoa(n))}
}

// isTimeout reports whether err is a dial timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
