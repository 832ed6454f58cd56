// Package recorder persists execution events received over the
// realtime connection. It subscribes to the execution event frame
// types, buffers decoded events, and batch-inserts them into the
// execution_events table.
package recorder
