package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueueN(t *testing.T, q *waitQueue, n int) []*waiter {
	t.Helper()

	waiters := make([]*waiter, 0, n)

	for range n {
		w, ok := q.enqueue(time.Now(), time.Time{}, true)
		require.True(t, ok)

		waiters = append(waiters, w)
	}

	return waiters
}

func TestWaitQueueFIFO(t *testing.T) {
	t.Parallel()

	q := newWaitQueue(10)
	waiters := enqueueN(t, q, 3)

	for i := range waiters {
		require.True(t, q.deliver(waitResult{grant: &reservation{id: uint64(i)}}))
	}

	for i, w := range waiters {
		select {
		case res := <-w.ready:
			require.NotNil(t, res.grant)
			assert.Equal(t, uint64(i), res.grant.id)
		default:
			t.Fatalf("waiter %d was not served", i)
		}
	}

	assert.Equal(t, 0, q.len())
	assert.False(t, q.deliver(waitResult{}), "deliver on an empty queue")
}

func TestWaitQueueCapacity(t *testing.T) {
	t.Parallel()

	q := newWaitQueue(2)
	enqueueN(t, q, 2)

	w, ok := q.enqueue(time.Now(), time.Time{}, true)
	assert.False(t, ok)
	assert.Nil(t, w)
	assert.Equal(t, 2, q.len())

	zero := newWaitQueue(0)
	_, ok = zero.enqueue(time.Now(), time.Time{}, true)
	assert.False(t, ok)
}

func TestWaitQueueCapacityIgnoresUnboundedWaiters(t *testing.T) {
	t.Parallel()

	zero := newWaitQueue(0)

	permitWaiter, ok := zero.enqueue(time.Now(), time.Time{}, false)
	require.True(t, ok, "a waiter below MaxConnections is not limited by the queue size")

	_, ok = zero.enqueue(time.Now(), time.Time{}, true)
	assert.False(t, ok)

	require.True(t, zero.deliver(waitResult{err: errors.New("served")}))
	assert.EqualError(t, (<-permitWaiter.ready).err, "served")

	q := newWaitQueue(1)
	_, ok = q.enqueue(time.Now(), time.Time{}, false)
	require.True(t, ok)

	full, ok := q.enqueue(time.Now(), time.Time{}, true)
	require.True(t, ok, "unbounded waiters do not use up capacity")

	_, ok = q.enqueue(time.Now(), time.Time{}, true)
	assert.False(t, ok)

	require.True(t, q.remove(full))

	_, ok = q.enqueue(time.Now(), time.Time{}, true)
	assert.True(t, ok, "removing a bounded waiter frees its place")
	assert.Equal(t, 2, q.len())
}

func TestWaitQueueRemove(t *testing.T) {
	t.Parallel()

	q := newWaitQueue(5)
	waiters := enqueueN(t, q, 3)

	assert.True(t, q.remove(waiters[1]))
	assert.False(t, q.remove(waiters[1]), "second remove is a no-op")
	assert.Equal(t, 2, q.len())

	q.deliver(waitResult{err: errors.New("first")})
	q.deliver(waitResult{err: errors.New("second")})

	assert.EqualError(t, (<-waiters[0].ready).err, "first")
	assert.EqualError(t, (<-waiters[2].ready).err, "second")
	assert.False(t, q.remove(waiters[0]), "delivered waiters are no longer queued")
}

func TestWaitQueueRejectAll(t *testing.T) {
	t.Parallel()

	q := newWaitQueue(5)
	waiters := enqueueN(t, q, 3)

	rejectErr := errors.New("closed")
	assert.Equal(t, 3, q.rejectAll(rejectErr))
	assert.Equal(t, 0, q.len())

	for _, w := range waiters {
		assert.Equal(t, rejectErr, (<-w.ready).err)
	}

	assert.Equal(t, 0, q.rejectAll(rejectErr))
}
