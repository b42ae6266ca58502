package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testEventually = 2 * time.Second
	testTick       = 5 * time.Millisecond
)

// mockConn implements Conn and AliveChecker.
type mockConn struct {
	id     int32
	alive  atomic.Bool
	closed atomic.Bool
}

func (c *mockConn) Close() error {
	c.closed.Store(true)
	c.alive.Store(false)

	return nil
}

func (c *mockConn) IsAlive() bool {
	return c.alive.Load()
}

// mockFactory records concurrency and can be made to block or fail.
type mockFactory struct {
	mu       sync.Mutex
	conns    []*mockConn
	failures int
	openErr  error
	block    chan struct{}
	delay    time.Duration

	opens       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *mockFactory) Open(ctx context.Context) (Conn, error) {
	f.opens.Add(1)

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)

	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	block := f.block
	delay := f.delay
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--

		return nil, f.openErr
	}

	c := &mockConn{id: int32(len(f.conns) + 1)}
	c.alive.Store(true)
	f.conns = append(f.conns, c)

	return c, nil
}

func (f *mockFactory) failNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures = n
	f.openErr = err
}

func (f *mockFactory) setBlock(ch chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.block = ch
}

func (f *mockFactory) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.conns)
}

func mustSettings(t *testing.T, opts ...SettingsOption) Settings {
	t.Helper()

	base := []SettingsOption{WithMaintenanceInterval(Infinite)}
	settings, err := NewSettings(append(base, opts...)...)
	require.NoError(t, err)

	return settings
}

func newTestPool(t *testing.T, settings Settings, factory ConnectionFactory, opts ...Option) *Pool {
	t.Helper()

	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)

	p, err := New("localhost:27017", settings, factory, opts...)
	require.NoError(t, err)

	t.Cleanup(func() { closePool(t, p) })

	return p
}

func closePool(t *testing.T, p *Pool) {
	t.Helper()

	if err := p.Close(); err != nil {
		t.Logf("Failed to close pool: %v", err)
	}
}

func mustCheckOut(t *testing.T, p *Pool) *Connection {
	t.Helper()

	conn, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)

	return conn
}

type checkOutResult struct {
	conn *Connection
	err  error
}

// checkOutAsync starts a checkout in a goroutine and returns its result channel.
func checkOutAsync(ctx context.Context, p *Pool) <-chan checkOutResult {
	ch := make(chan checkOutResult, 1)

	go func() {
		conn, err := p.CheckOut(ctx)
		ch <- checkOutResult{conn, err}
	}()

	return ch
}

func waitForQueueLength(t *testing.T, p *Pool, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return p.Stats().WaitQueueLength == n
	}, testEventually, testTick)
}

func receive(t *testing.T, ch <-chan checkOutResult) checkOutResult {
	t.Helper()

	select {
	case res := <-ch:
		return res
	case <-time.After(testEventually):
		t.Fatal("timed out waiting for checkout result")

		return checkOutResult{}
	}
}

// eventRecorder collects events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) HandleEvent(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}

	return types
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event

	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}

	return out
}
