package pool

import (
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Pool.
type State int32

const (
	StateReady State = iota
	StatePaused
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats represents a point-in-time snapshot of a pool.
type Stats struct {
	State           State
	Generation      uint64
	Available       int
	InUse           int
	Pending         int
	WaitQueueLength int
	MaxConnections  int
	MaxConnecting   int

	CreatedCount         int64
	ClosedCount          int64
	CheckedOutCount      int64
	CheckOutFailedCount  int64
	EstablishFailedCount int64
	WaitCount            int64
	WaitDuration         time.Duration
	DroppedEvents        int64
}

// Total returns available + in-use + pending, the quantity bounded by MaxConnections.
func (s Stats) Total() int {
	return s.Available + s.InUse + s.Pending
}

type counters struct {
	created         atomic.Int64
	closed          atomic.Int64
	checkedOut      atomic.Int64
	checkOutFailed  atomic.Int64
	establishFailed atomic.Int64
	waits           atomic.Int64
	waitNanos       atomic.Int64
}

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	stats := Stats{
		State:           p.state,
		Generation:      p.generation,
		Available:       len(p.available),
		InUse:           len(p.inUse),
		Pending:         p.pending,
		WaitQueueLength: p.queue.len(),
		MaxConnections:  p.settings.maxConnections,
		MaxConnecting:   p.settings.maxConnecting,
	}
	p.mu.Unlock()

	stats.CreatedCount = p.stats.created.Load()
	stats.ClosedCount = p.stats.closed.Load()
	stats.CheckedOutCount = p.stats.checkedOut.Load()
	stats.CheckOutFailedCount = p.stats.checkOutFailed.Load()
	stats.EstablishFailedCount = p.stats.establishFailed.Load()
	stats.WaitCount = p.stats.waits.Load()
	stats.WaitDuration = time.Duration(p.stats.waitNanos.Load())
	stats.DroppedEvents = p.events.dropped.Load()

	return stats
}
