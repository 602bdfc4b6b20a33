package client

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/mchub/missionctl/internal/transport"
)

// Errors
var (
	ErrMissingURL    = errors.New("missing server url")
	ErrMissingToken  = errors.New("missing auth token")
	ErrMissingKey    = errors.New("missing subscription key")
	ErrMissingAction = errors.New("missing action name")
	ErrClosed        = errors.New("client closed")
	ErrNotConnected  = errors.New("not connected")
	ErrAuthRejected  = errors.New("authentication rejected")
	ErrActionFailed  = errors.New("action failed")
	ErrReservedEvent = errors.New("reserved event name")
)

// Normalized lifecycle event names exposed to callers.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventReconnecting = "reconnecting"
	EventError        = "error"
)

// Protocol event names sent to the server.
const (
	eventAuthenticate = "authenticate"
	eventSubscribe    = "subscribe"
	eventUnsubscribe  = "unsubscribe"
	eventAction       = "action"
	eventSync         = "sync"
)

// servicePrefix namespaces service state subscriptions on the bus so they
// cannot collide with plain event keys.
const servicePrefix = "sync:"

// State is the wrapper's position in the connect/authenticate cycle.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateAuthenticating State = "authenticating"
	StateReady          State = "ready"
)

// ErrorKind classifies a normalized error event.
type ErrorKind string

const (
	ErrorGeneral        ErrorKind = "GENERAL"
	ErrorTimeout        ErrorKind = "TIMEOUT"
	ErrorNoAttemptsLeft ErrorKind = "NO_ATTEMPTS_LEFT"
	ErrorAuthFailed     ErrorKind = "AUTH_FAILED"
	ErrorAuthTimeout    ErrorKind = "AUTH_TIMEOUT"
)

// DisconnectReason classifies a normalized disconnect event.
type DisconnectReason string

const (
	ReasonServerDisconnect DisconnectReason = "SERVER_DISCONNECT"
	ReasonClientDisconnect DisconnectReason = "CLIENT_DISCONNECT"
	ReasonPingTimeout      DisconnectReason = "PING_TIMEOUT"
	ReasonUnknown          DisconnectReason = "UNKNOWN"
)

// ClassifyDisconnect maps a native transport reason string to its
// normalized category. Unknown strings map to ReasonUnknown.
func ClassifyDisconnect(native string) DisconnectReason {
	switch native {
	case transport.ReasonServerInitiated:
		return ReasonServerDisconnect
	case transport.ReasonClientInitiated:
		return ReasonClientDisconnect
	case transport.ReasonPingTimeout:
		return ReasonPingTimeout
	default:
		return ReasonUnknown
	}
}

// Config configures a client.
type Config struct {
	URL   string // Mission Control server URL (required)
	Token string // Authentication token (required)

	AuthTimeout   time.Duration // Max wait for the authenticate acknowledgement
	ActionTimeout time.Duration // Default deadline for Action calls without one

	// Transport overrides the default WebSocket transport. Mainly for
	// tests; when nil a transport is dialed from URL.
	Transport transport.Transport

	// TransportConfig tunes the default transport. URL is filled in from
	// Config.URL.
	TransportConfig transport.Config
}

// DefaultConfig returns sensible defaults for url and token.
func DefaultConfig(url, token string) Config {
	return Config{
		URL:           url,
		Token:         token,
		AuthTimeout:   10 * time.Second,
		ActionTimeout: 30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.AuthTimeout == 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.ActionTimeout == 0 {
		c.ActionTimeout = 30 * time.Second
	}
}

// Stats is a snapshot of wrapper state.
type Stats struct {
	State              State
	Subscriptions      int
	PendingSubscribe   int
	PendingUnsubscribe int
	CachedServices     int
}

// Wire payloads.

// authRequest is the authenticate payload.
type authRequest struct {
	Token string `json:"token"`
}

// subscribeRequest names the channel being (un)subscribed: a plain event
// key or a service.
type subscribeRequest struct {
	Event   string `json:"event,omitempty"`
	Service string `json:"service,omitempty"`
}

// actionRequest is the action payload.
type actionRequest struct {
	Service string `json:"service,omitempty"`
	Action  string `json:"action"`
	Data    any    `json:"data,omitempty"`
}

// ackError is the failure shape shared by authenticate and action
// acknowledgements.
type ackError struct {
	Error string `json:"error"`
}

// syncMessage is a full-state push for a subscribed service.
type syncMessage struct {
	Service string          `json:"service"`
	State   json.RawMessage `json:"state"`
}

// errorEvent is the JSON shape published on the normalized error channel.
type errorEvent struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
