package config

import "time"

// Config is the root configuration for mcctl.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig identifies the Mission Control server.
type ServerConfig struct {
	URL   string `yaml:"url"`   // WebSocket URL (ws:// or wss://)
	Token string `yaml:"token"` // Auth token; typically ${MISSION_CONTROL_TOKEN}
}

// ClientConfig holds wrapper and transport tuning.
type ClientConfig struct {
	AuthTimeout       time.Duration `yaml:"auth_timeout"`
	ActionTimeout     time.Duration `yaml:"action_timeout"`
	PingTimeout       time.Duration `yaml:"ping_timeout"`
	ReconnectMinDelay time.Duration `yaml:"reconnect_min_delay"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnects     int           `yaml:"max_reconnects"` // 0 = retry forever
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
