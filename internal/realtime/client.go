package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscribeMonitorFrame is the fixed handshake the backend expects
// immediately after a successful open, before any queued traffic.
var subscribeMonitorFrame = []byte(`{"type":"subscribe_monitor"}`)

// Client is the public facade over the connection manager, outbound
// queue, and handler registry. All methods return immediately;
// outcomes surface asynchronously through lifecycle events.
type Client struct {
	cfg    Config
	logger *slog.Logger
	dialer Dialer
	clock  Clock
	boff   backoff

	registry *registry

	// emitMu serializes every handler and event invocation so
	// subscribers observe callbacks one at a time.
	emitMu sync.Mutex

	mu          sync.Mutex
	state       ReadyState
	conn        Conn
	gen         uint64 // connection generation; stale callbacks no-op
	queue       outboundQueue
	attempts    int
	forcedClose bool
	retryTimer  Timer
	failedSent  bool
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer replaces the transport dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithClock replaces the reconnect timer source.
func WithClock(clk Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// NewClient creates a disconnected client. Call Connect to open the
// transport.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()

	c := &Client{
		cfg:    cfg,
		logger: slog.Default(),
		clock:  realClock{},
		state:  StateClosed,
		boff: backoff{
			base:   cfg.ReconnectBaseDelay,
			max:    cfg.ReconnectMaxDelay,
			factor: cfg.BackoffFactor,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewWSDialer(cfg.HandshakeTimeout, cfg.WriteTimeout)
	}

	c.logger = c.logger.With("session_id", uuid.NewString())
	c.registry = newRegistry(c.logger)

	return c
}

// Connect opens the transport. No-op while a connection already exists
// in the connecting or open state, so at most one attempt is ever in
// flight. A manual Connect also resets the reconnect budget, which is
// the only way forward after a reconnectFailed.
func (c *Client) Connect() {
	c.mu.Lock()
	c.attempts = 0
	c.failedSent = false
	c.mu.Unlock()

	c.connect()
}

// connect is the internal entry shared by Connect and the reconnect
// timer; it does not touch the attempt counter.
func (c *Client) connect() {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	c.forcedClose = false
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.dial(gen)
}

// Disconnect is the forced close: it cancels any pending reconnect,
// closes the live connection, and clears the queue and every handler
// registration. Terminal until a fresh Connect plus re-subscription.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.forcedClose = true
	c.gen++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	if conn != nil {
		c.state = StateClosing
	} else {
		c.state = StateClosed
	}
	c.queue.clear()
	c.mu.Unlock()

	c.registry.clear()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("close error on disconnect", "error", err)
		}
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
	}

	c.logger.Debug("disconnected by caller")
}

// Send serializes v and transmits it if the connection is open;
// otherwise it appends to the outbound queue for delivery after the
// next successful open.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.queue.push(data)
		pending := c.queue.len()
		c.mu.Unlock()
		c.logger.Debug("message queued", "pending", pending)
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// On registers a handler for a message type. The returned id removes
// exactly this registration via Off.
func (c *Client) On(msgType string, h Handler) HandlerID {
	return c.registry.on(msgType, h)
}

// Off removes a message-type registration.
func (c *Client) Off(msgType string, id HandlerID) {
	c.registry.off(msgType, id)
}

// OnEvent registers a lifecycle event subscriber.
func (c *Client) OnEvent(kind EventKind, h EventHandler) HandlerID {
	return c.registry.onEvent(kind, h)
}

// OffEvent removes a lifecycle event subscriber.
func (c *Client) OffEvent(kind EventKind, id HandlerID) {
	c.registry.offEvent(kind, id)
}

// IsConnected reports whether the connection is open. False while
// connecting, closing, and closed.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen
}

// ReadyState returns the current connection state.
func (c *Client) ReadyState() ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueueLen returns the number of messages pending transmission.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// dial opens the transport off the caller's goroutine and runs the
// open sequence: handshake, queue drain, read loop.
func (c *Client) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, c.cfg.URL)

	c.mu.Lock()
	if gen != c.gen || c.forcedClose {
		c.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.state = StateClosed
		c.mu.Unlock()

		c.logger.Warn("connect failed", "url", c.cfg.URL, "error", err)
		c.emit(Event{Kind: EventError, Err: err})
		code, reason, _ := closeInfo(err)
		c.emit(Event{Kind: EventDisconnected, Code: code, Reason: reason})
		c.scheduleReconnect()
		return
	}

	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.mu.Unlock()

	if c.cfg.Debug {
		c.logger.Debug("connected", "url", c.cfg.URL)
	}
	c.emit(Event{Kind: EventConnected})

	// Handshake goes out first; the backend expects it immediately
	// after connecting, before any queued application traffic.
	if err := conn.WriteMessage(subscribeMonitorFrame); err != nil {
		c.logger.Warn("handshake write failed", "error", err)
	}

	c.drainQueue(gen, conn)
	c.readLoop(gen, conn)
}

// drainQueue flushes pending messages in strict FIFO order, removing
// each from the queue before handing it to the transport.
func (c *Client) drainQueue(gen uint64, conn Conn) {
	for {
		c.mu.Lock()
		if gen != c.gen || c.state != StateOpen {
			c.mu.Unlock()
			return
		}
		data, ok := c.queue.pop()
		c.mu.Unlock()

		if !ok {
			return
		}
		if err := conn.WriteMessage(data); err != nil {
			// Connection is going down; the read loop surfaces the
			// close and drives recovery.
			c.logger.Warn("queued message write failed", "error", err)
			return
		}
	}
}

// readLoop parses and dispatches inbound frames until the connection
// drops.
func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale := gen != c.gen
			c.mu.Unlock()
			if stale {
				return
			}

			code, reason, abnormal := closeInfo(err)
			if abnormal {
				c.emit(Event{Kind: EventError, Err: err})
			}
			c.handleClosed(gen, code, reason)
			return
		}

		c.handleFrame(data)
	}
}

// handleFrame parses one raw payload and routes it. Parse failures are
// logged and dropped; they never propagate to callers.
func (c *Client) handleFrame(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		c.logger.Warn("dropping unparseable frame", "error", err, "bytes", len(data))
		return
	}
	if head.Type == "" {
		c.logger.Warn("dropping frame without type", "bytes", len(data))
		return
	}

	f := Frame{Type: head.Type, Raw: json.RawMessage(data)}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.registry.dispatch(f)
	c.registry.emit(Event{Kind: EventMessage, Frame: &f})
}

// handleClosed runs the close path for an unexpected drop: release the
// connection, report it, and schedule recovery unless the close was
// forced.
func (c *Client) handleClosed(gen uint64, code int, reason string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateClosed
	forced := c.forcedClose
	c.mu.Unlock()

	c.logger.Info("connection closed", "code", code, "reason", reason)
	c.emit(Event{Kind: EventDisconnected, Code: code, Reason: reason})

	if !forced {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms the backoff timer for the next attempt, or
// reports budget exhaustion exactly once.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.forcedClose {
		c.mu.Unlock()
		return
	}

	max := c.cfg.MaxReconnectAttempts
	if max > 0 && c.attempts >= max {
		alreadySent := c.failedSent
		c.failedSent = true
		attempts := c.attempts
		c.mu.Unlock()

		if !alreadySent {
			c.logger.Warn("reconnect attempts exhausted", "attempts", attempts)
			c.emit(Event{Kind: EventReconnectFailed, Attempts: attempts})
		}
		return
	}

	delay := c.boff.delay(c.attempts)
	attempt := c.attempts + 1
	c.retryTimer = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.forcedClose {
			c.mu.Unlock()
			return
		}
		c.attempts++
		c.retryTimer = nil
		c.mu.Unlock()

		c.connect()
	})
	c.mu.Unlock()

	if c.cfg.Debug {
		c.logger.Debug("reconnect scheduled", "attempt", attempt, "delay", delay)
	}
}

// emit serializes lifecycle event delivery with frame dispatch so all
// callbacks run one at a time.
func (c *Client) emit(ev Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.registry.emit(ev)
}
