package pool

import (
	"container/list"
	"time"
)

// waitResult is delivered to a queued checkout: a connection already marked
// in use, a reservation the waiter must establish itself, or an error.
type waitResult struct {
	conn  *Connection
	grant *reservation
	err   error
}

type waiter struct {
	ready      chan waitResult
	enqueuedAt time.Time
	deadline   time.Time
	elem       *list.Element

	// bounded waiters entered while the pool was at MaxConnections and count
	// against the queue capacity. Unbounded ones only lack an establishment permit.
	bounded bool
}

// waitQueue is a FIFO of blocked checkouts. It is guarded by the pool lock and
// never times entries out itself; each waiter removes itself on timeout.
type waitQueue struct {
	entries  *list.List
	capacity int
	bounded  int
}

func newWaitQueue(capacity int) *waitQueue {
	return &waitQueue{
		entries:  list.New(),
		capacity: capacity,
	}
}

func (q *waitQueue) len() int {
	return q.entries.Len()
}

// enqueue appends a waiter. A bounded waiter is refused when the bounded
// waiters already fill the queue capacity.
func (q *waitQueue) enqueue(now, deadline time.Time, bounded bool) (*waiter, bool) {
	if bounded && q.bounded >= q.capacity {
		return nil, false
	}

	w := &waiter{
		ready:      make(chan waitResult, 1),
		enqueuedAt: now,
		deadline:   deadline,
		bounded:    bounded,
	}
	w.elem = q.entries.PushBack(w)

	if bounded {
		q.bounded++
	}

	return w, true
}

// remove takes w out of the queue. It reports false if w was already delivered.
func (q *waitQueue) remove(w *waiter) bool {
	if w.elem == nil {
		return false
	}

	q.entries.Remove(w.elem)
	w.elem = nil

	if w.bounded {
		q.bounded--
	}

	return true
}

// deliver hands res to the head waiter. It reports false if the queue is empty.
func (q *waitQueue) deliver(res waitResult) bool {
	front := q.entries.Front()
	if front == nil {
		return false
	}

	w, _ := front.Value.(*waiter)
	q.remove(w)
	w.ready <- res

	return true
}

// rejectAll fails every queued waiter with err and returns how many there were.
func (q *waitQueue) rejectAll(err error) int {
	n := 0
	for q.deliver(waitResult{err: err}) {
		n++
	}

	return n
}
