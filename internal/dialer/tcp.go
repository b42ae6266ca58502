package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/actual-software/connpool/internal/constants"
	"github.com/actual-software/connpool/internal/pool"
)

// TCPFactory opens plain TCP connections.
type TCPFactory struct {
	address string
	dialer  net.Dialer
	logger  *zap.Logger
}

// NewTCPFactory creates a factory dialing address with the given connect timeout.
func NewTCPFactory(address string, timeout time.Duration, logger *zap.Logger) *TCPFactory {
	return &TCPFactory{
		address: address,
		dialer: net.Dialer{
			Timeout:   timeout,
			KeepAlive: constants.ConnectionKeepaliveInterval,
		},
		logger: logger,
	}
}

// Kind returns "tcp".
func (f *TCPFactory) Kind() string { return "tcp" }

// Open dials the server.
func (f *TCPFactory) Open(ctx context.Context) (pool.Conn, error) {
	conn, err := f.dialer.DialContext(ctx, "tcp", f.address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", f.address, err)
	}

	c := &TCPConn{Conn: conn}
	c.alive.Store(true)

	return c, nil
}

// Probe dials and immediately closes a connection.
func (f *TCPFactory) Probe(ctx context.Context) error {
	conn, err := f.dialer.DialContext(ctx, "tcp", f.address)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", f.address, err)
	}

	if err := conn.Close(); err != nil {
		f.logger.Debug("Failed to close probe connection", zap.Error(err))
	}

	return nil
}

// TCPConn is a pooled TCP connection. Any read or write failure other than a
// deadline expiry marks it dead.
type TCPConn struct {
	net.Conn

	alive atomic.Bool
}

func (c *TCPConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.observe(err)

	return n, err
}

func (c *TCPConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.observe(err)

	return n, err
}

// IsAlive implements pool.AliveChecker.
func (c *TCPConn) IsAlive() bool {
	return c.alive.Load()
}

// Close closes the socket.
func (c *TCPConn) Close() error {
	c.alive.Store(false)

	return c.Conn.Close()
}

func (c *TCPConn) observe(err error) {
	if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
		c.alive.Store(false)
	}
}
