package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrConnectionLost  = errors.New("connection lost")
	ErrAckTimeout      = errors.New("ack timeout")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrNoAttemptsLeft  = errors.New("reconnection attempts exhausted")
	ErrStaleConnection = errors.New("connection stale (no ping)")
)

// Reserved lifecycle event names delivered on the Events channel.
const (
	EventConnect          = "connect"
	EventDisconnect       = "disconnect"
	EventReconnectAttempt = "reconnect_attempt"
	EventReconnectFailed  = "reconnect_failed"
	EventConnectError     = "connect_error"
	EventConnectTimeout   = "connect_timeout"
)

// Native disconnect reason strings carried as the first argument of a
// disconnect event. These mirror the server protocol and must match it
// exactly.
const (
	ReasonServerInitiated = "io server disconnect"
	ReasonClientInitiated = "io client disconnect"
	ReasonPingTimeout     = "ping timeout"
)

// Event is a single inbound event: a server-pushed message or a lifecycle
// signal under one of the reserved names.
type Event struct {
	Name string
	Args []json.RawMessage
}

// Arg returns the i-th argument, or nil when absent.
func (e Event) Arg(i int) json.RawMessage {
	if i < 0 || i >= len(e.Args) {
		return nil
	}
	return e.Args[i]
}

// Transport is the bidirectional connection collaborator. Implementations
// own the wire: they establish the connection, detect loss, and retry with
// backoff, reporting everything through Events.
type Transport interface {
	// Open starts the connection lifecycle. It does not block; progress is
	// reported on Events.
	Open()

	// Close tears the connection down and stops reconnection.
	Close() error

	// Connected reports whether the link is currently established.
	Connected() bool

	// Emit sends a fire-and-forget event. The payload is JSON-encoded as
	// the event's single argument; a nil payload sends no arguments.
	Emit(event string, payload any) error

	// EmitWithAck sends an event and waits for the server's acknowledgement
	// payload. The wait is bounded by ctx. A disconnect while waiting fails
	// the call with ErrConnectionLost.
	EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error)

	// Events returns the channel of all inbound events. The channel is
	// closed when the transport shuts down for good.
	Events() <-chan Event
}

// packet is the wire frame. An outbound packet carrying ID expects the
// server to answer with a packet whose Ack echoes it.
type packet struct {
	Event string            `json:"event,omitempty"`
	Args  []json.RawMessage `json:"args,omitempty"`
	ID    int64             `json:"id,omitempty"`
	Ack   int64             `json:"ack,omitempty"`
}

// Config configures the WebSocket transport.
type Config struct {
	URL          string        // WebSocket URL (e.g., wss://mission-control.local/socket)
	DialTimeout  time.Duration // Handshake deadline per attempt
	WriteTimeout time.Duration // Write deadline for sends
	PingTimeout  time.Duration // Max time without a server ping before the link is stale
	ReconnectMin time.Duration // Base wait between reconnection attempts
	ReconnectMax time.Duration // Cap on the reconnection wait
	MaxAttempts  int           // Consecutive failed attempts before giving up (0 = never)
	BufferSize   int           // Events channel buffer size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		PingTimeout:  60 * time.Second,
		ReconnectMin: 1 * time.Second,
		ReconnectMax: 60 * time.Second,
		BufferSize:   256,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.DialTimeout == 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.ReconnectMin == 0 {
		c.ReconnectMin = def.ReconnectMin
	}
	if c.ReconnectMax == 0 {
		c.ReconnectMax = def.ReconnectMax
	}
	if c.BufferSize == 0 {
		c.BufferSize = def.BufferSize
	}
}
