// Package realtime implements the resilient WebSocket client used to
// exchange execution and progress events with the backend.
//
// The client:
//   - Owns a single live connection at a time
//   - Queues outbound messages while disconnected and drains them in
//     FIFO order after each successful open
//   - Reconnects with capped exponential backoff, up to a configurable
//     attempt budget
//   - Routes inbound frames to per-type handlers and typed lifecycle
//     events, with per-handler fault isolation
package realtime
