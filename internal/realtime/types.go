package realtime

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrWriteFailed wraps transport write errors surfaced by Send.
var ErrWriteFailed = errors.New("write failed")

// ReadyState is the readiness state of the live connection.
type ReadyState int

const (
	StateClosed ReadyState = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s ReadyState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Frame is one inbound JSON message unit. Type is the mandatory
// discriminator; Raw holds the full frame for payload decoding.
type Frame struct {
	Type string
	Raw  json.RawMessage
}

// Decode unmarshals the full frame into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Raw, v)
}

// EventKind identifies a connection lifecycle event. The set is closed:
// every event the client emits is one of these kinds, with the payload
// fields on Event that match the kind.
type EventKind int

const (
	// EventConnected fires after each successful open.
	EventConnected EventKind = iota

	// EventDisconnected fires when the connection drops, with the
	// close code and reason.
	EventDisconnected

	// EventError reports a transport error. Recovery is driven by the
	// disconnect that follows, never by the error itself.
	EventError

	// EventMessage fires for every parsed inbound frame, after
	// per-type dispatch.
	EventMessage

	// EventReconnectFailed fires exactly once when the reconnect
	// attempt budget is exhausted.
	EventReconnectFailed
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	case EventReconnectFailed:
		return "reconnectFailed"
	default:
		return "unknown"
	}
}

// Event is a lifecycle event with kind-specific payload fields.
type Event struct {
	Kind EventKind

	// EventDisconnected
	Code   int
	Reason string

	// EventError
	Err error

	// EventMessage
	Frame *Frame

	// EventReconnectFailed
	Attempts int
}

// Handler receives inbound frames of a registered message type.
type Handler func(Frame)

// EventHandler receives lifecycle events of a registered kind.
type EventHandler func(Event)

// HandlerID identifies a registration for later removal.
type HandlerID int64

// Config configures a Client.
type Config struct {
	// URL is the WebSocket address of the backend.
	URL string

	// ReconnectBaseDelay is the delay before the first reconnect
	// attempt. Must be > 0.
	ReconnectBaseDelay time.Duration

	// ReconnectMaxDelay caps the backoff growth. Must be >= base.
	ReconnectMaxDelay time.Duration

	// BackoffFactor is the per-attempt delay multiplier. Must be >= 1.
	BackoffFactor float64

	// MaxReconnectAttempts bounds consecutive reconnect attempts.
	// Zero or negative means unbounded.
	MaxReconnectAttempts int

	// HandshakeTimeout bounds the transport dial.
	HandshakeTimeout time.Duration

	// WriteTimeout is the write deadline for sends.
	WriteTimeout time.Duration

	// Debug enables debug-level connection logging.
	Debug bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		BackoffFactor:        1.5,
		MaxReconnectAttempts: 10,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
	}
}

// applyDefaults fills zero values so a partially specified config is
// usable. Invariant enforcement (base > 0, factor >= 1, max >= base)
// lives in the config package; this only backfills.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
}
