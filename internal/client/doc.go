// Package client implements the Mission Control connection wrapper.
//
// The wrapper presents callers with a normalized lifecycle (connect,
// disconnect, reconnecting, error) and a subscription/action API while
// internally authenticating after every transport-level connect and
// restoring subscriptions after every reconnect. Subscriptions are
// reference counted per key; keys requested while offline are queued and
// flushed in order once the wrapper reaches ready. The raw transport
// connect is never surfaced: callers only ever observe the post-
// authentication connect.
package client
