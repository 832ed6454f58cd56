// Package database provides connection pool management for the
// Postgres instance that stores recorded execution events.
package database
