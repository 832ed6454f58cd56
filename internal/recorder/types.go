package recorder

import (
	"time"

	"github.com/mfranklin/flowlink/internal/realtime"
)

// Config contains configuration for the event recorder.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the initial capacity of the intake buffer.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: 1 * time.Second,
		BufferSize:    1000,
	}
}

// Entry is one inbound execution frame with its receive timestamp.
type Entry struct {
	Frame      realtime.Frame
	ReceivedAt time.Time
}

// eventRow is a row for the execution_events table.
type eventRow struct {
	ID          string // UUID
	ExecutionID string
	NodeID      string
	EventType   string
	Status      string
	ReceivedAt  int64 // Microseconds
	Payload     []byte
}

// Metrics holds recorder counters.
type Metrics struct {
	Inserts     int64
	Conflicts   int64
	Errors      int64
	Flushes     int64
	DecodeFails int64
}
