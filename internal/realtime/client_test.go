package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Deterministic fakes
// -----------------------------------------------------------------------------

type fakeTimer struct {
	clock   *fakeClock
	when    time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
	return true
}

// fakeClock runs scheduled callbacks only when the test advances time.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
	delays []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{}
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now + d, fn: f}
	c.timers = append(c.timers, t)
	c.delays = append(c.delays, d)
	return t
}

// Advance moves fake time forward and fires due timers synchronously.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	var rest []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && t.when <= c.now {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// Delays returns every delay scheduled so far, in order.
func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.delays))
	copy(out, c.delays)
	return out
}

type dialResult struct {
	conn Conn
	err  error
}

// fakeDialer hands out scripted dial outcomes.
type fakeDialer struct {
	mu      sync.Mutex
	calls   int
	results chan dialResult
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{results: make(chan dialResult, 16)}
}

func (d *fakeDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	select {
	case res := <-d.results:
		return res.conn, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) succeed(conn Conn) { d.results <- dialResult{conn: conn} }
func (d *fakeDialer) failNext(err error) {
	d.results <- dialResult{err: err}
}

// fakeConn is a scriptable transport connection.
type fakeConn struct {
	inbound chan []byte
	errs    chan error
	writes  chan []byte
	done    chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		errs:    make(chan error, 1),
		writes:  make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case err := <-c.errs:
		return nil, err
	case <-c.done:
		return nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}
	c.writes <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// inject delivers an inbound frame to the read loop.
func (c *fakeConn) inject(frame string) {
	c.inbound <- []byte(frame)
}

// fail makes the next read return err, simulating an unexpected drop.
func (c *fakeConn) fail(err error) {
	c.errs <- err
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func testConfig() Config {
	return Config{
		URL:                  "ws://test.invalid/api/ws",
		ReconnectBaseDelay:   100 * time.Millisecond,
		ReconnectMaxDelay:    1 * time.Second,
		BackoffFactor:        2,
		MaxReconnectAttempts: 3,
	}
}

func newTestClient(t *testing.T, cfg Config) (*Client, *fakeDialer, *fakeClock) {
	t.Helper()
	dialer := newFakeDialer()
	clock := newFakeClock()
	c := NewClient(cfg, WithDialer(dialer), WithClock(clock))
	return c, dialer, clock
}

// eventChan subscribes to the given lifecycle event kinds and funnels
// them into one channel.
func eventChan(c *Client, kinds ...EventKind) chan Event {
	ch := make(chan Event, 64)
	for _, k := range kinds {
		c.OnEvent(k, func(ev Event) { ch <- ev })
	}
	return ch
}

func waitEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s event", kind)
		}
	}
}

func nextWrite(t *testing.T, conn *fakeConn) []byte {
	t.Helper()
	select {
	case data := <-conn.writes:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for write")
		return nil
	}
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

type testMsg struct {
	Type string `json:"type"`
	Seq  int    `json:"seq"`
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestClient_HandshakePrecedesQueueDrain(t *testing.T) {
	c, dialer, _ := newTestClient(t, testConfig())

	// Queue while disconnected
	for i := 1; i <= 3; i++ {
		if err := c.Send(testMsg{Type: "run", Seq: i}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	if got := c.QueueLen(); got != 3 {
		t.Fatalf("QueueLen = %d, want 3", got)
	}

	conn := newFakeConn()
	dialer.succeed(conn)
	events := eventChan(c, EventConnected)
	c.Connect()
	waitEvent(t, events, EventConnected)

	// Handshake frame first
	if got := string(nextWrite(t, conn)); got != `{"type":"subscribe_monitor"}` {
		t.Errorf("first write = %s, want handshake frame", got)
	}

	// Then the queue, in enqueue order, exactly once each
	for i := 1; i <= 3; i++ {
		var msg testMsg
		if err := json.Unmarshal(nextWrite(t, conn), &msg); err != nil {
			t.Fatalf("unmarshal queued write: %v", err)
		}
		if msg.Seq != i {
			t.Errorf("drained message %d has seq %d", i, msg.Seq)
		}
	}

	if got := c.QueueLen(); got != 0 {
		t.Errorf("QueueLen after drain = %d, want 0", got)
	}

	// No duplicates
	select {
	case data := <-conn.writes:
		t.Errorf("unexpected extra write: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_ConnectIsIdempotent(t *testing.T) {
	c, dialer, _ := newTestClient(t, testConfig())

	// While connecting (dial outcome withheld)
	c.Connect()
	waitFor(t, "first dial", func() bool { return dialer.Calls() == 1 })
	c.Connect()
	c.Connect()

	conn := newFakeConn()
	events := eventChan(c, EventConnected)
	dialer.succeed(conn)
	waitEvent(t, events, EventConnected)

	// While open
	c.Connect()
	time.Sleep(50 * time.Millisecond)

	if got := dialer.Calls(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
}

func TestClient_SendWhileOpenTransmitsImmediately(t *testing.T) {
	c, dialer, _ := newTestClient(t, testConfig())

	conn := newFakeConn()
	dialer.succeed(conn)
	events := eventChan(c, EventConnected)
	c.Connect()
	waitEvent(t, events, EventConnected)
	nextWrite(t, conn) // handshake

	if err := c.Send(testMsg{Type: "run", Seq: 7}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	var msg testMsg
	if err := json.Unmarshal(nextWrite(t, conn), &msg); err != nil {
		t.Fatalf("unmarshal write: %v", err)
	}
	if msg.Seq != 7 {
		t.Errorf("seq = %d, want 7", msg.Seq)
	}
	if got := c.QueueLen(); got != 0 {
		t.Errorf("QueueLen = %d, want 0", got)
	}
}

func TestClient_BackoffDelaysAndAttemptBudget(t *testing.T) {
	// base=100ms, factor=2, max=1s, maxAttempts=3: expect delays of
	// 100ms, 200ms, 400ms, then one reconnectFailed and no 4th dial.
	c, dialer, clock := newTestClient(t, testConfig())
	events := eventChan(c, EventDisconnected, EventReconnectFailed)

	conn := newFakeConn()
	dialer.succeed(conn)
	c.Connect()
	waitFor(t, "open", c.IsConnected)

	wantDelays := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}

	conn.fail(errors.New("connection reset"))
	waitEvent(t, events, EventDisconnected)

	for i, want := range wantDelays {
		waitFor(t, fmt.Sprintf("delay %d scheduled", i+1), func() bool {
			return len(clock.Delays()) == i+1
		})
		if got := clock.Delays()[i]; got != want {
			t.Errorf("delay %d = %v, want %v", i+1, got, want)
		}

		dialer.failNext(errors.New("connection refused"))
		clock.Advance(want)
		waitEvent(t, events, EventDisconnected)
	}

	ev := waitEvent(t, events, EventReconnectFailed)
	if ev.Attempts != 3 {
		t.Errorf("reconnectFailed attempts = %d, want 3", ev.Attempts)
	}

	// Exactly N reconnect attempts: initial dial + 3 retries
	if got := dialer.Calls(); got != 4 {
		t.Errorf("dial calls = %d, want 4", got)
	}

	// Terminal: no further timers, no further dials, no second emission
	clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)
	if got := dialer.Calls(); got != 4 {
		t.Errorf("dial calls after exhaustion = %d, want 4", got)
	}
	select {
	case ev := <-events:
		if ev.Kind == EventReconnectFailed {
			t.Error("reconnectFailed emitted more than once")
		}
	default:
	}
}

func TestClient_DisconnectCancelsPendingReconnect(t *testing.T) {
	c, dialer, clock := newTestClient(t, testConfig())
	events := eventChan(c, EventDisconnected)

	dialer.failNext(errors.New("connection refused"))
	c.Connect()
	waitEvent(t, events, EventDisconnected)
	waitFor(t, "reconnect scheduled", func() bool { return len(clock.Delays()) == 1 })

	c.Disconnect()

	// Advancing past the scheduled delay must not dial again
	clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)
	if got := dialer.Calls(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
}

func TestClient_ForcedCloseSuppressesReconnect(t *testing.T) {
	c, dialer, clock := newTestClient(t, testConfig())

	conn := newFakeConn()
	dialer.succeed(conn)
	c.Connect()
	waitFor(t, "open", c.IsConnected)

	c.Disconnect()

	waitFor(t, "closed", func() bool { return c.ReadyState() == StateClosed })
	if c.IsConnected() {
		t.Error("IsConnected true after Disconnect")
	}
	time.Sleep(50 * time.Millisecond)
	if got := len(clock.Delays()); got != 0 {
		t.Errorf("reconnect delays scheduled = %d, want 0", got)
	}
	if got := dialer.Calls(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
}

func TestClient_DisconnectClearsQueueAndHandlers(t *testing.T) {
	c, dialer, _ := newTestClient(t, testConfig())

	var calls atomic.Int64
	c.On("node_progress", func(Frame) { calls.Add(1) })

	c.Send(testMsg{Type: "run", Seq: 1})
	c.Send(testMsg{Type: "run", Seq: 2})
	if got := c.QueueLen(); got != 2 {
		t.Fatalf("QueueLen = %d, want 2", got)
	}

	c.Disconnect()
	if got := c.QueueLen(); got != 0 {
		t.Errorf("QueueLen after Disconnect = %d, want 0", got)
	}

	// Reconnect without re-registering: the old handler must be gone.
	conn := newFakeConn()
	dialer.succeed(conn)
	events := eventChan(c, EventConnected, EventMessage)
	c.Connect()
	waitEvent(t, events, EventConnected)

	conn.inject(`{"type":"node_progress","execution_id":"e1"}`)
	waitEvent(t, events, EventMessage)

	if got := calls.Load(); got != 0 {
		t.Errorf("stale handler invoked %d times after Disconnect", got)
	}
}

func TestClient_AttemptCounterResetsOnOpen(t *testing.T) {
	c, dialer, clock := newTestClient(t, testConfig())
	events := eventChan(c, EventConnected, EventDisconnected)

	conn1 := newFakeConn()
	dialer.succeed(conn1)
	c.Connect()
	waitEvent(t, events, EventConnected)

	conn1.fail(errors.New("connection reset"))
	waitEvent(t, events, EventDisconnected)
	waitFor(t, "first delay", func() bool { return len(clock.Delays()) == 1 })

	conn2 := newFakeConn()
	dialer.succeed(conn2)
	clock.Advance(100 * time.Millisecond)
	waitEvent(t, events, EventConnected)

	// Counter reset on open: next failure starts from the base delay
	conn2.fail(errors.New("connection reset"))
	waitEvent(t, events, EventDisconnected)
	waitFor(t, "second delay", func() bool { return len(clock.Delays()) == 2 })

	delays := clock.Delays()
	if delays[0] != 100*time.Millisecond || delays[1] != 100*time.Millisecond {
		t.Errorf("delays = %v, want [100ms 100ms]", delays)
	}
}

func TestClient_TwoHandlersSameTypeAndOff(t *testing.T) {
	c, dialer, _ := newTestClient(t, testConfig())

	var first, second atomic.Int64
	id1 := c.On("node_progress", func(Frame) { first.Add(1) })
	c.On("node_progress", func(Frame) { second.Add(1) })

	conn := newFakeConn()
	dialer.succeed(conn)
	events := eventChan(c, EventConnected, EventMessage)
	c.Connect()
	waitEvent(t, events, EventConnected)

	conn.inject(`{"type":"node_progress","execution_id":"e1"}`)
	waitEvent(t, events, EventMessage)

	if first.Load() != 1 || second.Load() != 1 {
		t.Errorf("handler calls = %d/%d, want 1/1", first.Load(), second.Load())
	}

	c.Off("node_progress", id1)

	conn.inject(`{"type":"node_progress","execution_id":"e1"}`)
	waitEvent(t, events, EventMessage)

	if first.Load() != 1 {
		t.Errorf("removed handler fired again: %d calls", first.Load())
	}
	if second.Load() != 2 {
		t.Errorf("remaining handler calls = %d, want 2", second.Load())
	}
}

func TestClient_MessageEventCarriesFullFrame(t *testing.T) {
	c, dialer, _ := newTestClient(t, testConfig())

	conn := newFakeConn()
	dialer.succeed(conn)
	events := eventChan(c, EventConnected, EventMessage)
	c.Connect()
	waitEvent(t, events, EventConnected)

	raw := `{"type":"execution_started","execution_id":"exec-1"}`
	conn.inject(raw)
	ev := waitEvent(t, events, EventMessage)

	if ev.Frame == nil {
		t.Fatal("message event without frame")
	}
	if ev.Frame.Type != "execution_started" {
		t.Errorf("frame type = %q, want execution_started", ev.Frame.Type)
	}
	if string(ev.Frame.Raw) != raw {
		t.Errorf("frame raw = %s, want full payload", ev.Frame.Raw)
	}
}

func TestClient_MalformedFramesDropped(t *testing.T) {
	c, dialer, _ := newTestClient(t, testConfig())

	var calls atomic.Int64
	c.On("good", func(Frame) { calls.Add(1) })

	conn := newFakeConn()
	dialer.succeed(conn)
	events := eventChan(c, EventConnected, EventMessage)
	c.Connect()
	waitEvent(t, events, EventConnected)

	conn.inject(`{not json`)
	conn.inject(`{"missing":"type field"}`)
	conn.inject(`{"type":"good"}`)

	// Only the well-formed frame reaches dispatch
	ev := waitEvent(t, events, EventMessage)
	if ev.Frame.Type != "good" {
		t.Errorf("dispatched frame type = %q, want good", ev.Frame.Type)
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
	if !c.IsConnected() {
		t.Error("connection dropped by malformed frame")
	}
}

func TestClient_HandlerPanicIsolation(t *testing.T) {
	c, dialer, _ := newTestClient(t, testConfig())

	var survivor atomic.Int64
	c.On("node_progress", func(Frame) { panic("subscriber bug") })
	c.On("node_progress", func(Frame) { survivor.Add(1) })

	conn := newFakeConn()
	dialer.succeed(conn)
	events := eventChan(c, EventConnected, EventMessage)
	c.Connect()
	waitEvent(t, events, EventConnected)

	conn.inject(`{"type":"node_progress"}`)
	waitEvent(t, events, EventMessage)
	conn.inject(`{"type":"node_progress"}`)
	waitEvent(t, events, EventMessage)

	if survivor.Load() != 2 {
		t.Errorf("surviving handler calls = %d, want 2", survivor.Load())
	}
	if !c.IsConnected() {
		t.Error("connection destabilized by handler panic")
	}
}

func TestClient_ReadyStates(t *testing.T) {
	c, dialer, _ := newTestClient(t, testConfig())

	if got := c.ReadyState(); got != StateClosed {
		t.Errorf("initial state = %v, want closed", got)
	}
	if c.IsConnected() {
		t.Error("IsConnected true before Connect")
	}

	// Dial outcome withheld: the client is connecting
	c.Connect()
	waitFor(t, "connecting", func() bool { return c.ReadyState() == StateConnecting })
	if c.IsConnected() {
		t.Error("IsConnected true while connecting")
	}

	conn := newFakeConn()
	events := eventChan(c, EventConnected, EventDisconnected)
	dialer.succeed(conn)
	waitEvent(t, events, EventConnected)
	if got := c.ReadyState(); got != StateOpen {
		t.Errorf("state after open = %v, want open", got)
	}
	if !c.IsConnected() {
		t.Error("IsConnected false while open")
	}

	conn.fail(errors.New("connection reset"))
	waitEvent(t, events, EventDisconnected)
	if c.IsConnected() {
		t.Error("IsConnected true after close")
	}
}

func TestClient_DialFailureEmitsErrorThenDisconnected(t *testing.T) {
	c, dialer, _ := newTestClient(t, testConfig())
	ch := make(chan EventKind, 8)
	c.OnEvent(EventError, func(Event) { ch <- EventError })
	c.OnEvent(EventDisconnected, func(Event) { ch <- EventDisconnected })

	dialer.failNext(errors.New("connection refused"))
	c.Connect()

	if got := <-ch; got != EventError {
		t.Fatalf("first event = %v, want error", got)
	}
	if got := <-ch; got != EventDisconnected {
		t.Fatalf("second event = %v, want disconnected", got)
	}
}

func TestClient_UnboundedAttemptsKeepRetrying(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 0 // unbounded
	c, dialer, clock := newTestClient(t, cfg)
	events := eventChan(c, EventDisconnected, EventReconnectFailed)

	dialer.failNext(errors.New("connection refused"))
	c.Connect()
	waitEvent(t, events, EventDisconnected)

	// Well past any 3-attempt budget
	for i := 0; i < 8; i++ {
		waitFor(t, "retry scheduled", func() bool { return len(clock.Delays()) == i+1 })
		dialer.failNext(errors.New("connection refused"))
		clock.Advance(time.Second)
		waitEvent(t, events, EventDisconnected)
	}

	if got := dialer.Calls(); got != 9 {
		t.Errorf("dial calls = %d, want 9", got)
	}
	select {
	case ev := <-events:
		if ev.Kind == EventReconnectFailed {
			t.Error("reconnectFailed emitted with unbounded budget")
		}
	default:
	}
}
