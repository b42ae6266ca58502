package dialer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/actual-software/connpool/internal/constants"
	"github.com/actual-software/connpool/internal/pool"
)

const (
	defaultReadBufferSize  = 4096
	defaultWriteBufferSize = 4096
)

// WebSocketFactory opens WebSocket connections. The handshake is the HTTP
// upgrade followed by a ping frame.
type WebSocketFactory struct {
	url    string
	dialer websocket.Dialer
	logger *zap.Logger
}

// NewWebSocketFactory creates a factory for the ws:// or wss:// url.
func NewWebSocketFactory(url string, timeout time.Duration, logger *zap.Logger) *WebSocketFactory {
	return &WebSocketFactory{
		url: url,
		dialer: websocket.Dialer{
			HandshakeTimeout: timeout,
			ReadBufferSize:   defaultReadBufferSize,
			WriteBufferSize:  defaultWriteBufferSize,
		},
		logger: logger,
	}
}

// Kind returns "websocket".
func (f *WebSocketFactory) Kind() string { return "websocket" }

// Open dials the endpoint and sends a ping.
func (f *WebSocketFactory) Open(ctx context.Context) (pool.Conn, error) {
	conn, resp, err := f.dialer.DialContext(ctx, f.url, nil)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", f.url, err)
	}

	c := &WebSocketConn{conn: conn}
	c.alive.Store(true)

	if err := c.Ping(time.Now().Add(constants.ConnectionPingTimeout)); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("failed to ping %s: %w", f.url, err)
	}

	return c, nil
}

// Probe dials the endpoint and closes the connection cleanly.
func (f *WebSocketFactory) Probe(ctx context.Context) error {
	conn, err := f.Open(ctx)
	if err != nil {
		return err
	}

	return conn.Close()
}

// WebSocketConn is a pooled WebSocket connection. Writes are serialized and any
// I/O failure marks it dead.
type WebSocketConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	alive   atomic.Bool
}

// Ping writes a ping control frame.
func (c *WebSocketConn) Ping(deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	err := c.conn.WriteControl(websocket.PingMessage, nil, deadline)
	c.observe(err)

	return err
}

// WriteMessage writes a data message.
func (c *WebSocketConn) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	err := c.conn.WriteMessage(messageType, data)
	c.observe(err)

	return err
}

// ReadMessage reads the next data message.
func (c *WebSocketConn) ReadMessage() (int, []byte, error) {
	messageType, data, err := c.conn.ReadMessage()
	c.observe(err)

	return messageType, data, err
}

// IsAlive implements pool.AliveChecker.
func (c *WebSocketConn) IsAlive() bool {
	return c.alive.Load()
}

// Close sends a close frame and closes the socket.
func (c *WebSocketConn) Close() error {
	if c.alive.Swap(false) {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
	}

	return c.conn.Close()
}

func (c *WebSocketConn) observe(err error) {
	if err != nil {
		c.alive.Store(false)
	}
}
