package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mchub/missionctl/internal/bus"
	"github.com/mchub/missionctl/internal/transport"
)

// Handler receives the raw JSON arguments of an event.
type Handler = bus.Handler

// Client wraps a Mission Control transport with authentication sequencing
// and reference-counted subscriptions.
type Client struct {
	cfg    Config
	logger *slog.Logger
	tr     transport.Transport
	bus    *bus.Bus

	mu           sync.Mutex
	state        State
	registry     map[string]int // subscription key → listener count
	pendingSub   []string       // keys awaiting a ready transition, FIFO
	pendingUnsub []string       // keys released while offline, FIFO
	stateCache   map[string]json.RawMessage
	closed       bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New validates cfg, opens the transport, and starts the event pump. It
// fails synchronously when URL or Token is missing; everything else is
// reported through the normalized lifecycle events.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	cfg.applyDefaults()

	if logger == nil {
		logger = slog.Default()
	}

	tr := cfg.Transport
	if tr == nil {
		tcfg := cfg.TransportConfig
		tcfg.URL = cfg.URL
		tr = transport.Dial(tcfg, logger)
	}

	c := &Client{
		cfg:        cfg,
		logger:     logger.With("component", "client"),
		tr:         tr,
		bus:        bus.New(),
		state:      StateDisconnected,
		registry:   make(map[string]int),
		stateCache: make(map[string]json.RawMessage),
		done:       make(chan struct{}),
	}
	c.bus.OnPanic(c.handlerPanic)

	c.wg.Add(1)
	go c.run()
	tr.Open()

	return c, nil
}

// run pumps transport events into the wrapper. All state transitions
// happen on this goroutine, in transport delivery order.
func (c *Client) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.tr.Events():
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Client) handleEvent(ev transport.Event) {
	switch ev.Name {
	case transport.EventConnect:
		c.authenticate()
	case transport.EventDisconnect:
		c.handleDisconnect(decodeString(ev.Arg(0)))
	case transport.EventReconnectAttempt:
		c.bus.Publish(EventReconnecting, ev.Args...)
	case transport.EventReconnectFailed:
		c.emitError(ErrorNoAttemptsLeft, transport.ErrNoAttemptsLeft)
	case transport.EventConnectTimeout:
		c.emitError(ErrorTimeout, fmt.Errorf("connect timeout: %s", decodeString(ev.Arg(0))))
	case transport.EventConnectError:
		c.emitError(ErrorGeneral, fmt.Errorf("connect error: %s", decodeString(ev.Arg(0))))
	default:
		c.forward(ev)
	}
}

// forward republishes a server-pushed event on the internal bus.
func (c *Client) forward(ev transport.Event) {
	switch ev.Name {
	case EventConnect, EventDisconnect, EventReconnecting, EventError:
		// Reserved lifecycle names are never double-delivered.
		c.logger.Warn("dropping server event colliding with lifecycle name", "event", ev.Name)
		return
	}

	if ev.Name == eventSync {
		c.handleSync(ev)
		return
	}

	c.bus.Publish(ev.Name, ev.Args...)
}

// handleSync caches the pushed service state and republishes it under the
// namespaced service key.
func (c *Client) handleSync(ev transport.Event) {
	var msg syncMessage
	if err := json.Unmarshal(ev.Arg(0), &msg); err != nil || msg.Service == "" {
		c.logger.Warn("malformed sync message", "error", err)
		return
	}

	c.mu.Lock()
	c.stateCache[msg.Service] = msg.State
	c.mu.Unlock()

	c.bus.Publish(servicePrefix+msg.Service, msg.State)
}

// authenticate runs the post-connect handshake. The raw transport connect
// is never surfaced; callers see connect only after auth succeeds and
// subscriptions are restored.
func (c *Client) authenticate() {
	c.setState(StateAuthenticating)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AuthTimeout)
	resp, err := c.tr.EmitWithAck(ctx, eventAuthenticate, authRequest{Token: c.cfg.Token})
	cancel()

	if err != nil {
		c.setState(StateDisconnected)
		switch {
		case errors.Is(err, transport.ErrAckTimeout) || errors.Is(err, context.DeadlineExceeded):
			c.emitError(ErrorAuthTimeout, fmt.Errorf("authenticate: %w", err))
		case errors.Is(err, transport.ErrConnectionLost) || errors.Is(err, transport.ErrNotConnected):
			// The disconnect event already reports this.
			c.logger.Debug("authentication interrupted by disconnect")
		default:
			c.emitError(ErrorAuthFailed, fmt.Errorf("authenticate: %w", err))
		}
		return
	}

	if msg := ackErrorMessage(resp); msg != "" {
		c.setState(StateDisconnected)
		c.emitError(ErrorAuthFailed, fmt.Errorf("%w: %s", ErrAuthRejected, msg))
		return
	}

	c.becomeReady()
}

// becomeReady restores subscriptions and announces the normalized connect.
// Order: registry keys first (sorted), then the pending-subscribe queue,
// then the pending-unsubscribe queue, each FIFO.
func (c *Client) becomeReady() {
	c.mu.Lock()
	c.state = StateReady

	queued := make(map[string]struct{}, len(c.pendingSub))
	for _, k := range c.pendingSub {
		queued[k] = struct{}{}
	}
	resend := make([]string, 0, len(c.registry))
	for k := range c.registry {
		if _, ok := queued[k]; !ok {
			resend = append(resend, k)
		}
	}
	sort.Strings(resend)

	subs := append(resend, c.pendingSub...)
	unsubs := c.pendingUnsub
	c.pendingSub = nil
	c.pendingUnsub = nil
	c.mu.Unlock()

	for _, key := range subs {
		if err := c.tr.Emit(eventSubscribe, subscribePayload(key)); err != nil {
			c.emitError(ErrorGeneral, fmt.Errorf("resubscribe %q: %w", key, err))
		}
	}
	for _, key := range unsubs {
		if err := c.tr.Emit(eventUnsubscribe, subscribePayload(key)); err != nil {
			c.emitError(ErrorGeneral, fmt.Errorf("unsubscribe %q: %w", key, err))
		}
	}

	c.logger.Info("authenticated",
		"subscriptions", len(subs),
		"unsubscriptions", len(unsubs),
	)

	c.bus.Publish(EventConnect)
}

// handleDisconnect classifies the native reason and drops readiness. The
// registry is kept so keys are resent on the next ready transition.
func (c *Client) handleDisconnect(native string) {
	c.setState(StateDisconnected)

	reason := ClassifyDisconnect(native)
	c.logger.Info("disconnected", "reason", reason, "native", native)
	c.bus.Publish(EventDisconnect, transport.StringArg(string(reason))...)
}

// On registers a handler for a normalized lifecycle event or any
// server-pushed event name. The returned disposer removes it.
func (c *Client) On(event string, fn Handler) func() {
	return c.bus.Subscribe(event, fn)
}

// Once registers a handler removed after its first delivery.
func (c *Client) Once(event string, fn Handler) func() {
	return c.bus.Once(event, fn)
}

// OnConnect registers a handler for the normalized connect event.
func (c *Client) OnConnect(fn func()) func() {
	return c.bus.Subscribe(EventConnect, func(...json.RawMessage) {
		fn()
	})
}

// OnDisconnect registers a handler receiving the classified reason.
func (c *Client) OnDisconnect(fn func(reason DisconnectReason)) func() {
	return c.bus.Subscribe(EventDisconnect, func(args ...json.RawMessage) {
		reason := ReasonUnknown
		if len(args) > 0 {
			var s string
			if json.Unmarshal(args[0], &s) == nil {
				reason = DisconnectReason(s)
			}
		}
		fn(reason)
	})
}

// OnReconnecting registers a handler receiving the attempt count.
func (c *Client) OnReconnecting(fn func(attempt int)) func() {
	return c.bus.Subscribe(EventReconnecting, func(args ...json.RawMessage) {
		attempt := 0
		if len(args) > 0 {
			json.Unmarshal(args[0], &attempt)
		}
		fn(attempt)
	})
}

// OnError registers a handler for the normalized error channel.
func (c *Client) OnError(fn func(kind ErrorKind, err error)) func() {
	return c.bus.Subscribe(EventError, func(args ...json.RawMessage) {
		var ev errorEvent
		if len(args) > 0 {
			json.Unmarshal(args[0], &ev)
		}
		if ev.Kind == "" {
			ev.Kind = ErrorGeneral
		}
		fn(ev.Kind, errors.New(ev.Message))
	})
}

// Subscribe registers fn for a subscription key. The first listener for a
// key announces it to the server (immediately when ready, queued
// otherwise); further listeners only bump the reference count. The
// disposer reverses exactly one registration and announces the
// unsubscribe once the count reaches zero.
func (c *Client) Subscribe(key string, fn Handler) (func(), error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	switch key {
	case EventConnect, EventDisconnect, EventReconnecting, EventError:
		return nil, ErrReservedEvent
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	dispose := c.bus.Subscribe(key, fn)
	c.registry[key]++
	sendNow := false
	if c.registry[key] == 1 {
		if c.state == StateReady {
			sendNow = true
		} else if !removeKey(&c.pendingUnsub, key) {
			// No queued unsubscribe cancelled out: announce on the next
			// ready transition. (A cancelled unsubscribe leaves the key in
			// the registry, so the resend pass covers it.)
			c.pendingSub = append(c.pendingSub, key)
		}
	}
	c.mu.Unlock()

	if sendNow {
		if err := c.tr.Emit(eventSubscribe, subscribePayload(key)); err != nil {
			c.queuePendingSub(key)
			c.logger.Warn("subscribe send failed, queued", "key", key, "error", err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			dispose()
			c.release(key)
		})
	}, nil
}

// release drops one reference to key and announces the unsubscribe when
// the count reaches zero.
func (c *Client) release(key string) {
	c.mu.Lock()
	count, ok := c.registry[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	if count > 1 {
		c.registry[key] = count - 1
		c.mu.Unlock()
		return
	}
	delete(c.registry, key)

	sendNow := c.state == StateReady && !c.closed
	if !sendNow {
		// A key never announced to the server needs no unsubscribe;
		// dropping its queued subscribe is enough.
		if !removeKey(&c.pendingSub, key) {
			c.pendingUnsub = append(c.pendingUnsub, key)
		}
	}
	c.mu.Unlock()

	if sendNow {
		if err := c.tr.Emit(eventUnsubscribe, subscribePayload(key)); err != nil {
			c.mu.Lock()
			c.pendingUnsub = append(c.pendingUnsub, key)
			c.mu.Unlock()
			c.logger.Warn("unsubscribe send failed, queued", "key", key, "error", err)
		}
	}
}

// queuePendingSub re-queues a key whose immediate subscribe send failed.
func (c *Client) queuePendingSub(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.registry[key]; !ok {
		return
	}
	for _, k := range c.pendingSub {
		if k == key {
			return
		}
	}
	c.pendingSub = append(c.pendingSub, key)
}

// Action invokes a server-side action and returns the acknowledgement
// payload. A server-reported failure surfaces as ErrActionFailed carrying
// the server's message. Actions are not queued: calling while not ready
// fails with ErrNotConnected.
func (c *Client) Action(ctx context.Context, service, action string, data any) (json.RawMessage, error) {
	if action == "" {
		return nil, ErrMissingAction
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	ready := c.state == StateReady
	c.mu.Unlock()

	if !ready {
		return nil, ErrNotConnected
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ActionTimeout)
		defer cancel()
	}

	resp, err := c.tr.EmitWithAck(ctx, eventAction, actionRequest{
		Service: service,
		Action:  action,
		Data:    data,
	})
	if err != nil {
		return nil, fmt.Errorf("action %q: %w", action, err)
	}
	if msg := ackErrorMessage(resp); msg != "" {
		return nil, fmt.Errorf("action %q: %w: %s", action, ErrActionFailed, msg)
	}

	return resp, nil
}

// Ready reports whether the wrapper is authenticated and subscription
// requests are sent immediately rather than queued.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateReady
}

// State returns the wrapper's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of wrapper state.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		State:              c.state,
		Subscriptions:      len(c.registry),
		PendingSubscribe:   len(c.pendingSub),
		PendingUnsubscribe: len(c.pendingUnsub),
		CachedServices:     len(c.stateCache),
	}
}

// Close shuts down the transport and the event pump.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateDisconnected
	c.mu.Unlock()

	err := c.tr.Close()
	close(c.done)
	c.wg.Wait()
	return err
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// cachedState returns the last sync snapshot for a service, or nil.
func (c *Client) cachedState(service string) json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateCache[service]
}

// emitError publishes a normalized error. Errors are never thrown out of
// internal handlers.
func (c *Client) emitError(kind ErrorKind, err error) {
	c.logger.Warn("client error", "kind", kind, "error", err)

	data, _ := json.Marshal(errorEvent{Kind: kind, Message: err.Error()})
	c.bus.Publish(EventError, data)
}

// handlerPanic routes listener panics through the error channel so one
// faulty listener cannot break the wrapper.
func (c *Client) handlerPanic(event string, recovered any) {
	if event == EventError {
		// A panicking error listener must not feed back into the channel
		// it broke.
		c.logger.Error("panic in error listener", "panic", recovered)
		return
	}
	c.emitError(ErrorGeneral, fmt.Errorf("listener panic on %q: %v", event, recovered))
}

// subscribePayload maps a registry key to its wire shape: service keys
// carry the service name, everything else the event name.
func subscribePayload(key string) subscribeRequest {
	if name, ok := strings.CutPrefix(key, servicePrefix); ok {
		return subscribeRequest{Service: name}
	}
	return subscribeRequest{Event: key}
}

// removeKey deletes the first occurrence of key, reporting whether it was
// present.
func removeKey(queue *[]string, key string) bool {
	for i, k := range *queue {
		if k == key {
			*queue = append((*queue)[:i:i], (*queue)[i+1:]...)
			return true
		}
	}
	return false
}

func decodeString(arg json.RawMessage) string {
	var s string
	if err := json.Unmarshal(arg, &s); err != nil {
		return string(arg)
	}
	return s
}

// ackErrorMessage extracts the server-reported failure from an
// acknowledgement payload, or "" when the ack marks success.
func ackErrorMessage(resp json.RawMessage) string {
	if len(resp) == 0 {
		return ""
	}
	var e ackError
	if err := json.Unmarshal(resp, &e); err != nil {
		return ""
	}
	return e.Error
}
