package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a single live transport connection. At most one exists at
// any time and it is exclusively owned by the client.
type Conn interface {
	// ReadMessage blocks until the next text frame or a read error.
	ReadMessage() ([]byte, error)

	// WriteMessage writes one text frame.
	WriteMessage(data []byte) error

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Dialer opens transport connections. Injectable so the state machine
// can be tested against deterministic fakes.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials real WebSocket connections.
type WSDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// NewWSDialer creates a Dialer backed by gorilla/websocket.
func NewWSDialer(handshakeTimeout, writeTimeout time.Duration) *WSDialer {
	return &WSDialer{
		HandshakeTimeout: handshakeTimeout,
		WriteTimeout:     writeTimeout,
	}
}

// DialContext opens a WebSocket connection to url.
func (d *WSDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	return &wsConn{
		conn:         conn,
		writeTimeout: d.WriteTimeout,
	}, nil
}

// wsConn wraps a gorilla connection with write serialization.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	// Best effort close frame before dropping the socket
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

// closeInfo maps a read error to a close code and reason. Non-close
// errors (network failures, stale sockets) report as abnormal closure.
func closeInfo(err error) (code int, reason string, abnormal bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, false
	}
	return websocket.CloseAbnormalClosure, err.Error(), true
}
