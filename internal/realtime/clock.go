package realtime

import "time"

// Clock schedules the single cancellable delayed callback the client
// needs (the reconnect trigger). Injectable so the reconnect loop can
// be driven deterministically in tests.
type Clock interface {
	// AfterFunc runs f after d elapses, on its own goroutine.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending callback scheduled through a Clock.
type Timer interface {
	// Stop cancels the callback. Returns false if it already fired.
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (t realTimer) Stop() bool {
	return t.t.Stop()
}
