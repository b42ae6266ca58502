package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/actual-software/connpool/internal/config"
	"github.com/actual-software/connpool/internal/dialer"
	"github.com/actual-software/connpool/internal/pool"
)

type nopConn struct{}

func (nopConn) Close() error { return nil }

// scriptedProber fails while failing is set.
type scriptedProber struct {
	failing atomic.Bool
	calls   atomic.Int32
}

func (p *scriptedProber) Probe(context.Context) error {
	p.calls.Add(1)

	if p.failing.Load() {
		return errors.New("connection refused")
	}

	return nil
}

type heartbeat struct {
	address string
	err     error
}

type recorder struct {
	mu         sync.Mutex
	heartbeats []heartbeat
}

func (r *recorder) RecordHeartbeat(address string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.heartbeats = append(r.heartbeats, heartbeat{address, err})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.heartbeats)
}

func newPool(t *testing.T, opts ...pool.Option) *pool.Pool {
	t.Helper()

	settings, err := pool.NewSettings(pool.WithMaintenanceInterval(pool.Infinite))
	require.NoError(t, err)

	factory := pool.FactoryFunc(func(context.Context) (pool.Conn, error) {
		return nopConn{}, nil
	})

	opts = append(opts, pool.WithLogger(zaptest.NewLogger(t)))

	p, err := pool.New("localhost:27017", settings, factory, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	return p
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	m := New(newPool(t), &scriptedProber{}, Config{})

	assert.Equal(t, DefaultConfig(), m.config)
	assert.True(t, m.Status().Healthy)
}

func TestCheckClearsAfterThreshold(t *testing.T) {
	t.Parallel()

	p := newPool(t)
	prober := &scriptedProber{}
	prober.failing.Store(true)

	rec := &recorder{}
	m := New(p, prober, Config{Interval: time.Hour, Timeout: time.Second, FailureThreshold: 3},
		WithLogger(zaptest.NewLogger(t)),
		WithRecorder(rec),
	)

	for range 2 {
		require.Error(t, m.Check(context.Background()))
	}

	assert.Equal(t, pool.StateReady, p.State())
	assert.Equal(t, uint64(0), p.Generation())

	err := m.Check(context.Background())
	require.Error(t, err)

	assert.Equal(t, pool.StatePaused, p.State())
	assert.Equal(t, uint64(1), p.Generation())

	_, err = p.CheckOut(context.Background())
	require.ErrorIs(t, err, pool.ErrPoolPaused)
	assert.Contains(t, err.Error(), "heartbeat to localhost:27017 failed")

	require.Error(t, m.Check(context.Background()))
	assert.Equal(t, uint64(1), p.Generation(), "a failure streak clears only once")

	status := m.Status()
	assert.False(t, status.Healthy)
	assert.Equal(t, 4, status.ConsecutiveFailures)
	assert.Equal(t, int64(1), status.Clears)
	assert.Equal(t, int64(4), status.Heartbeats)
	assert.Equal(t, "connection refused", status.LastError)
	assert.Equal(t, 4, rec.count())
}

func TestCheckMarksReadyOnRecovery(t *testing.T) {
	t.Parallel()

	p := newPool(t)
	prober := &scriptedProber{}
	prober.failing.Store(true)

	m := New(p, prober, Config{Interval: time.Hour, Timeout: time.Second, FailureThreshold: 1},
		WithLogger(zaptest.NewLogger(t)))

	require.Error(t, m.Check(context.Background()))
	assert.Equal(t, pool.StatePaused, p.State())

	prober.failing.Store(false)
	require.NoError(t, m.Check(context.Background()))

	assert.Equal(t, pool.StateReady, p.State())

	status := m.Status()
	assert.True(t, status.Healthy)
	assert.Zero(t, status.ConsecutiveFailures)
	assert.Empty(t, status.LastError)

	conn, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), conn.Generation())
	require.NoError(t, p.CheckIn(conn))
}

func TestCheckReadiesPoolStartedPaused(t *testing.T) {
	t.Parallel()

	p := newPool(t, pool.WithStartPaused())
	m := New(p, &scriptedProber{}, Config{Interval: time.Hour, Timeout: time.Second})

	require.NoError(t, m.Check(context.Background()))
	assert.Equal(t, pool.StateReady, p.State())
	assert.Equal(t, uint64(0), p.Generation())
}

func TestCheckIgnoresShutdown(t *testing.T) {
	t.Parallel()

	p := newPool(t)
	rec := &recorder{}

	prober := ProberFunc(func(ctx context.Context) error {
		<-ctx.Done()

		return ctx.Err()
	})

	m := New(p, prober, Config{Interval: time.Hour, Timeout: time.Hour, FailureThreshold: 1}, WithRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Check(ctx), context.Canceled)
	assert.Equal(t, pool.StateReady, p.State())
	assert.Zero(t, rec.count())
}

func TestCheckTimeout(t *testing.T) {
	t.Parallel()

	p := newPool(t)

	prober := ProberFunc(func(ctx context.Context) error {
		<-ctx.Done()

		return ctx.Err()
	})

	m := New(p, prober, Config{Interval: time.Hour, Timeout: 20 * time.Millisecond, FailureThreshold: 1})

	err := m.Check(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, pool.StatePaused, p.State())
}

func TestRun(t *testing.T) {
	t.Parallel()

	p := newPool(t)
	prober := &scriptedProber{}
	m := New(p, prober, Config{Interval: 10 * time.Millisecond, Timeout: time.Second, FailureThreshold: 2},
		WithLogger(zaptest.NewLogger(t)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	require.Eventually(t, func() bool { return prober.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	prober.failing.Store(true)
	require.Eventually(t, func() bool { return p.State() == pool.StatePaused }, 2*time.Second, 5*time.Millisecond)

	prober.failing.Store(false)
	require.Eventually(t, func() bool { return p.State() == pool.StateReady }, 2*time.Second, 5*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMonitorWithRedisServer(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)

	factory := dialer.NewRedisFactory(srv.Addr(), config.RedisConfig{}, time.Second, logger)

	settings, err := pool.NewSettings(pool.WithMaintenanceInterval(pool.Infinite))
	require.NoError(t, err)

	p, err := pool.New(srv.Addr(), settings, factory, pool.WithLogger(logger), pool.WithStartPaused())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	m := New(p, factory, Config{Interval: time.Hour, Timeout: time.Second, FailureThreshold: 1},
		WithLogger(logger))

	require.NoError(t, m.Check(context.Background()))
	assert.Equal(t, pool.StateReady, p.State())

	conn, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.CheckIn(conn))

	srv.Close()

	require.Error(t, m.Check(context.Background()))
	assert.Equal(t, pool.StatePaused, p.State())
	assert.Zero(t, p.Stats().Available)
}
