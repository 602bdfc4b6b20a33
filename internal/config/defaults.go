package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAuthTimeout       = 10 * time.Second
	DefaultActionTimeout     = 30 * time.Second
	DefaultPingTimeout       = 60 * time.Second
	DefaultReconnectMinDelay = 1 * time.Second
	DefaultReconnectMaxDelay = 60 * time.Second
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

func (c *Config) applyDefaults() {
	if c.Client.AuthTimeout == 0 {
		c.Client.AuthTimeout = DefaultAuthTimeout
	}
	if c.Client.ActionTimeout == 0 {
		c.Client.ActionTimeout = DefaultActionTimeout
	}
	if c.Client.PingTimeout == 0 {
		c.Client.PingTimeout = DefaultPingTimeout
	}
	if c.Client.ReconnectMinDelay == 0 {
		c.Client.ReconnectMinDelay = DefaultReconnectMinDelay
	}
	if c.Client.ReconnectMaxDelay == 0 {
		c.Client.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
