package config

import (
	"fmt"
	"os"
	"time"
)

// MonitorConfig is the root configuration for a monitor instance.
type MonitorConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Database DBConfig       `yaml:"database"`
	Recorder RecorderConfig `yaml:"recorder"`
	Health   HealthConfig   `yaml:"health"`
}

// InstanceConfig identifies this monitor.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig locates the backend the realtime client connects to.
// The WebSocket address is derived from these fields unless overridden
// by realtime.url or the FLOWLINK_WS_URL environment variable.
type ServerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Path   string `yaml:"path"`
	Secure bool   `yaml:"secure"` // wss instead of ws
}

// RealtimeConfig holds connection and reconnection settings.
type RealtimeConfig struct {
	URL                  string        `yaml:"url"` // explicit override
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	BackoffFactor        float64       `yaml:"backoff_factor"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // -1 = unbounded
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	Debug                bool          `yaml:"debug"`
}

// DBConfig holds the Postgres connection for the event recorder.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RecorderConfig holds batch writer settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// HealthConfig holds the local health endpoint settings.
type HealthConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// WSURLEnvVar overrides every other address source when set.
const WSURLEnvVar = "FLOWLINK_WS_URL"

// ResolveWSURL returns the WebSocket address the client should dial:
// the FLOWLINK_WS_URL environment variable if set, then realtime.url,
// then an address derived from the server section.
func (c *MonitorConfig) ResolveWSURL() string {
	if url := os.Getenv(WSURLEnvVar); url != "" {
		return url
	}
	if c.Realtime.URL != "" {
		return c.Realtime.URL
	}

	scheme := "ws"
	if c.Server.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, c.Server.Host, c.Server.Port, c.Server.Path)
}
