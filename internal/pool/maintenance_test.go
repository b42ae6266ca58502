package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaintenanceInterval = 10 * time.Millisecond

func TestMaintenanceDisabled(t *testing.T) {
	t.Parallel()

	factory := &mockFactory{}
	p := newTestPool(t, mustSettings(t, WithMinConnections(3)), factory)

	time.Sleep(5 * testMaintenanceInterval)

	assert.Equal(t, 0, factory.createdCount())
	assert.Equal(t, 0, p.Stats().Available)
}

func TestMaintenanceTopsUpToMinimum(t *testing.T) {
	t.Parallel()

	factory := &mockFactory{}
	p := newTestPool(t, mustSettings(t,
		WithMaintenanceInterval(testMaintenanceInterval),
		WithMinConnections(3),
	), factory)

	require.Eventually(t, func() bool {
		return p.Stats().Available == 3
	}, testEventually, testTick)

	time.Sleep(3 * testMaintenanceInterval)
	assert.Equal(t, 3, factory.createdCount(), "no top-up beyond the minimum")

	conn := mustCheckOut(t, p)
	require.Eventually(t, func() bool {
		return p.Stats().Total() == 3
	}, testEventually, testTick)
	assert.Equal(t, 2, p.Stats().Available, "in-use connections count toward the minimum")

	require.NoError(t, p.CheckIn(conn))
}

func TestMaintenanceCapsMinimumAtMax(t *testing.T) {
	t.Parallel()

	factory := &mockFactory{}
	p := newTestPool(t, mustSettings(t,
		WithMaintenanceInterval(testMaintenanceInterval),
		WithMinConnections(5),
		WithMaxConnections(2),
	), factory)

	require.Eventually(t, func() bool {
		return p.Stats().Available == 2
	}, testEventually, testTick)

	time.Sleep(3 * testMaintenanceInterval)
	assert.Equal(t, 2, factory.createdCount())
}

func TestMaintenancePrunesIdleConnections(t *testing.T) {
	t.Parallel()

	recorder := &eventRecorder{}
	p := newTestPool(t, mustSettings(t, WithMaintenanceInterval(testMaintenanceInterval)), &mockFactory{},
		WithStalenessPolicy(MaxIdleTime(20*time.Millisecond)),
		WithObserver(recorder),
	)

	conn := mustCheckOut(t, p)
	require.NoError(t, p.CheckIn(conn))

	require.Eventually(t, func() bool {
		return p.Stats().Available == 0
	}, testEventually, testTick)

	assert.True(t, conn.Conn().(*mockConn).closed.Load())

	require.NoError(t, p.Close())

	closed := recorder.ofType(EventConnectionClosed)
	require.NotEmpty(t, closed)
	assert.Equal(t, ReasonIdle, closed[0].Reason)
}

func TestMaintenancePrunesPerishedConnections(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, mustSettings(t, WithMaintenanceInterval(testMaintenanceInterval)), &mockFactory{})

	conn := mustCheckOut(t, p)
	require.NoError(t, p.CheckIn(conn))

	conn.Conn().(*mockConn).alive.Store(false)

	require.Eventually(t, func() bool {
		return p.Stats().Available == 0
	}, testEventually, testTick)
}

func TestMaintenanceSkippedWhilePaused(t *testing.T) {
	t.Parallel()

	factory := &mockFactory{}
	p := newTestPool(t, mustSettings(t,
		WithMaintenanceInterval(testMaintenanceInterval),
		WithMinConnections(2),
	), factory, WithStartPaused())

	time.Sleep(5 * testMaintenanceInterval)
	assert.Equal(t, 0, factory.createdCount())

	require.NoError(t, p.Ready())

	require.Eventually(t, func() bool {
		return p.Stats().Available == 2
	}, testEventually, testTick)
}

func TestMaintenanceRetriesFailedTopUp(t *testing.T) {
	t.Parallel()

	factory := &mockFactory{}
	factory.failNext(2, errors.New("connection refused"))

	p := newTestPool(t, mustSettings(t,
		WithMaintenanceInterval(testMaintenanceInterval),
		WithMinConnections(1),
		WithMaxConnecting(1),
	), factory)

	require.Eventually(t, func() bool {
		return p.Stats().Available == 1
	}, testEventually, testTick)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.EstablishFailedCount)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, StateReady, stats.State, "a failed top-up does not clear the pool")
}

func TestMaintenanceRespectsMaxConnecting(t *testing.T) {
	t.Parallel()

	factory := &mockFactory{delay: 5 * time.Millisecond}
	p := newTestPool(t, mustSettings(t,
		WithMaintenanceInterval(testMaintenanceInterval),
		WithMinConnections(5),
		WithMaxConnecting(1),
	), factory)

	require.Eventually(t, func() bool {
		return p.Stats().Available == 5
	}, testEventually, testTick)

	assert.Equal(t, int32(1), factory.maxInFlight.Load())
}

func TestMaintenanceTopUpServesWaiter(t *testing.T) {
	t.Parallel()

	factory := &mockFactory{}
	block := make(chan struct{})
	factory.setBlock(block)

	p := newTestPool(t, mustSettings(t,
		WithMaintenanceInterval(testMaintenanceInterval),
		WithMinConnections(1),
		WithMaxConnections(1),
		WithWaitQueueTimeout(Infinite),
	), factory)

	require.Eventually(t, func() bool {
		return p.Stats().Pending == 1
	}, testEventually, testTick)

	waiting := checkOutAsync(t.Context(), p)
	waitForQueueLength(t, p, 1)

	factory.setBlock(nil)
	close(block)

	res := receive(t, waiting)
	require.NoError(t, res.err)
	assert.Equal(t, 1, factory.createdCount())
}

func TestCloseStopsMaintenance(t *testing.T) {
	t.Parallel()

	factory := &mockFactory{}
	block := make(chan struct{})
	factory.setBlock(block)

	p := newTestPool(t, mustSettings(t,
		WithMaintenanceInterval(testMaintenanceInterval),
		WithMinConnections(2),
	), factory)

	require.Eventually(t, func() bool {
		return factory.opens.Load() == 2
	}, testEventually, testTick)

	done := make(chan error, 1)
	go func() { done <- p.Close() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(testEventually):
		t.Fatal("Close did not cancel in-flight top-ups")
	}

	opens := factory.opens.Load()
	time.Sleep(5 * testMaintenanceInterval)

	assert.Equal(t, opens, factory.opens.Load())
	assert.Equal(t, 0, factory.createdCount())
	assert.Equal(t, 0, p.Stats().Pending)
}
