// Package protocol defines the JSON frame types exchanged with the
// diagram-execution backend over the realtime connection. Every frame
// is a JSON object with a required string "type" field and arbitrary
// additional fields; there is no length-prefixing, compression, or
// versioning.
package protocol
