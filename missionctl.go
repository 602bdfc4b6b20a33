// Package missionctl is a client library for Mission Control, a
// home-automation coordination server. It re-exports the core types for
// external consumers of this module.
//
// The wrapper normalizes the transport lifecycle into four caller-facing
// events (connect, disconnect, reconnecting, error), authenticates after
// every transport-level connect, and restores reference-counted
// subscriptions after every reconnect:
//
//	cfg := missionctl.DefaultConfig("wss://mission-control.local/socket", token)
//	mc, err := missionctl.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mc.Close()
//
//	mc.OnConnect(func() { log.Println("ready") })
//	dispose, _ := mc.Subscribe("update:videoQueue", func(args ...json.RawMessage) {
//	    // handle pushed update
//	})
//	defer dispose()
package missionctl

import (
	"log/slog"

	"github.com/mchub/missionctl/internal/client"
	"github.com/mchub/missionctl/internal/transport"
)

// Re-export core types for external use.
type (
	// Client wraps the Mission Control connection.
	Client = client.Client
	// Config configures a Client.
	Config = client.Config
	// Service is a service-scoped view over a Client.
	Service = client.Service
	// Handler receives the raw JSON arguments of an event.
	Handler = client.Handler
	// Stats is a snapshot of wrapper state.
	Stats = client.Stats
	// State is the wrapper's lifecycle state.
	State = client.State
	// ErrorKind classifies a normalized error event.
	ErrorKind = client.ErrorKind
	// DisconnectReason classifies a normalized disconnect event.
	DisconnectReason = client.DisconnectReason
	// Transport is the pluggable connection collaborator.
	Transport = transport.Transport
	// TransportConfig tunes the default WebSocket transport.
	TransportConfig = transport.Config
	// Event is a single inbound transport event.
	Event = transport.Event
)

// Lifecycle states.
const (
	StateDisconnected   = client.StateDisconnected
	StateAuthenticating = client.StateAuthenticating
	StateReady          = client.StateReady
)

// Error kinds.
const (
	ErrorGeneral        = client.ErrorGeneral
	ErrorTimeout        = client.ErrorTimeout
	ErrorNoAttemptsLeft = client.ErrorNoAttemptsLeft
	ErrorAuthFailed     = client.ErrorAuthFailed
	ErrorAuthTimeout    = client.ErrorAuthTimeout
)

// Disconnect reasons.
const (
	ReasonServerDisconnect = client.ReasonServerDisconnect
	ReasonClientDisconnect = client.ReasonClientDisconnect
	ReasonPingTimeout      = client.ReasonPingTimeout
	ReasonUnknown          = client.ReasonUnknown
)

// Sentinel errors.
var (
	ErrMissingURL   = client.ErrMissingURL
	ErrMissingToken = client.ErrMissingToken
	ErrNotConnected = client.ErrNotConnected
	ErrClosed       = client.ErrClosed
	ErrAuthRejected = client.ErrAuthRejected
	ErrActionFailed = client.ErrActionFailed
)

// New creates a client for the given configuration. A nil logger falls
// back to slog.Default().
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	return client.New(cfg, logger)
}

// DefaultConfig returns a Config with sensible defaults for url and token.
func DefaultConfig(url, token string) Config {
	return client.DefaultConfig(url, token)
}

// DialTransport creates the default WebSocket transport. Most callers
// never need this; New dials one itself when Config.Transport is nil.
func DialTransport(cfg TransportConfig, logger *slog.Logger) Transport {
	return transport.Dial(cfg, logger)
}
