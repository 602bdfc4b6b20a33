// Package transport defines the real-time transport collaborator consumed
// by the client wrapper, plus a default WebSocket implementation.
//
// The wrapper layers authentication and subscription bookkeeping on top of
// this interface and never touches the wire itself: connection
// establishment, reconnection backoff, and ping-timeout detection all live
// here. Lifecycle changes are delivered as ordinary events on the Events
// channel under the reserved names (connect, disconnect,
// reconnect_attempt, reconnect_failed, connect_error, connect_timeout).
package transport
