package realtime

import (
	"math"
	"time"
)

// backoff computes capped exponential reconnect delays. Exponential
// growth gives fast recovery for transient blips; the cap prevents
// reconnect storms during prolonged outages.
type backoff struct {
	base   time.Duration
	max    time.Duration
	factor float64
}

// delay returns the wait before reconnect attempt k (zero-based):
// min(base * factor^k, max).
func (b backoff) delay(attempt int) time.Duration {
	d := float64(b.base) * math.Pow(b.factor, float64(attempt))
	if d > float64(b.max) {
		return b.max
	}
	return time.Duration(d)
}
