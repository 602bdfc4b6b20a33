package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server.url scheme must be ws or wss, got %q", u.Scheme)
	}

	if c.Server.Token == "" {
		return errors.New("server.token is required")
	}

	if c.Client.MaxReconnects < 0 {
		return errors.New("client.max_reconnects must be >= 0")
	}
	if c.Client.ReconnectMinDelay > c.Client.ReconnectMaxDelay {
		return fmt.Errorf("client.reconnect_min_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Client.ReconnectMinDelay, c.Client.ReconnectMaxDelay)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}
