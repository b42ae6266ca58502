package pool

import (
	"context"
	"sync/atomic"
	"time"
)

// Conn is a physical transport connection produced by a ConnectionFactory.
type Conn interface {
	Close() error
}

// AliveChecker is implemented by transports that can report liveness without I/O.
type AliveChecker interface {
	IsAlive() bool
}

// ConnectionFactory opens physical connections, including any handshake or authentication.
type ConnectionFactory interface {
	Open(ctx context.Context) (Conn, error)
}

// FactoryFunc adapts a function to ConnectionFactory.
type FactoryFunc func(ctx context.Context) (Conn, error)

// Open calls f(ctx).
func (f FactoryFunc) Open(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// ConnectionState is the lifecycle state of a pooled connection.
type ConnectionState int32

const (
	ConnectionConnecting ConnectionState = iota
	ConnectionReady
	ConnectionInUse
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionConnecting:
		return "connecting"
	case ConnectionReady:
		return "ready"
	case ConnectionInUse:
		return "in_use"
	case ConnectionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection wraps one physical connection owned by a Pool. It belongs either
// to the pool or to the single caller that checked it out, never both.
type Connection struct {
	id         uint64
	generation uint64
	pool       *Pool
	conn       Conn
	createdAt  time.Time

	state      atomic.Int32
	lastUsedAt atomic.Int64
	unusable   atomic.Bool
}

func newConnection(p *Pool, r reservation, now time.Time) *Connection {
	c := &Connection{
		id:         r.id,
		generation: r.generation,
		pool:       p,
		createdAt:  now,
	}
	c.state.Store(int32(ConnectionConnecting))
	c.lastUsedAt.Store(now.UnixNano())

	return c
}

// ID returns the connection identifier, unique within its pool.
func (c *Connection) ID() uint64 { return c.id }

// Generation returns the pool generation the connection was created in.
func (c *Connection) Generation() uint64 { return c.generation }

// Address returns the server address of the owning pool.
func (c *Connection) Address() string { return c.pool.address }

// Conn returns the physical connection.
func (c *Connection) Conn() Conn { return c.conn }

// State returns the current lifecycle state.
func (c *Connection) State() ConnectionState { return ConnectionState(c.state.Load()) }

// CreatedAt returns when establishment started.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// LastUsedAt returns when the connection was last checked in.
func (c *Connection) LastUsedAt() time.Time { return time.Unix(0, c.lastUsedAt.Load()) }

// MarkUnusable flags the connection as broken. It is closed on checkin instead of reused.
func (c *Connection) MarkUnusable() { c.unusable.Store(true) }

// IsUnusable reports whether MarkUnusable was called.
func (c *Connection) IsUnusable() bool { return c.unusable.Load() }

func (c *Connection) setState(s ConnectionState) { c.state.Store(int32(s)) }

func (c *Connection) touch(now time.Time) { c.lastUsedAt.Store(now.UnixNano()) }

func (c *Connection) alive() bool {
	if c.unusable.Load() {
		return false
	}

	if checker, ok := c.conn.(AliveChecker); ok {
		return checker.IsAlive()
	}

	return true
}

func (c *Connection) close() error {
	c.setState(ConnectionClosed)

	if c.conn == nil {
		return nil
	}

	return c.conn.Close()
}
