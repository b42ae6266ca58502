package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/actual-software/connpool/pkg/common/logging"
)

// EventType identifies a pool lifecycle event.
type EventType int

const (
	EventConnectionCreated EventType = iota
	EventConnectionClosed
	EventCheckedOut
	EventCheckOutFailed
	EventCheckedIn
	EventPoolCleared
	EventPoolReady
	EventPoolClosed
)

func (t EventType) String() string {
	switch t {
	case EventConnectionCreated:
		return "connection_created"
	case EventConnectionClosed:
		return "connection_closed"
	case EventCheckedOut:
		return "checked_out"
	case EventCheckOutFailed:
		return "check_out_failed"
	case EventCheckedIn:
		return "checked_in"
	case EventPoolCleared:
		return "pool_cleared"
	case EventPoolReady:
		return "pool_ready"
	case EventPoolClosed:
		return "pool_closed"
	default:
		return "unknown"
	}
}

// Reasons attached to EventConnectionClosed.
const (
	ReasonStale      = "stale"
	ReasonIdle       = "idle"
	ReasonError      = "error"
	ReasonPoolClosed = "pool_closed"
)

// Event describes something that happened in a pool.
type Event struct {
	Type         EventType
	Time         time.Time
	PoolID       string
	Address      string
	ConnectionID uint64
	Generation   uint64
	// Reason is the close reason for EventConnectionClosed and the error kind
	// for EventCheckOutFailed.
	Reason string
	// Err is the clear cause for EventPoolCleared and the failure for EventCheckOutFailed.
	Err error
	// Duration is the establishment time for EventConnectionCreated and the
	// checkout time for EventCheckedOut and EventCheckOutFailed.
	Duration time.Duration
}

// Observer receives pool events. Events are delivered on a single goroutine in
// emission order; a slow observer causes events to be dropped, never the pool to block.
// An observer must not call Close on the pool it observes.
type Observer interface {
	HandleEvent(event Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(event Event)

// HandleEvent calls f(event).
func (f ObserverFunc) HandleEvent(event Event) {
	f(event)
}

// emitter decouples event delivery from pool operations.
type emitter struct {
	observer Observer
	logger   *zap.Logger
	events   chan Event
	done     chan struct{}

	mu     sync.Mutex
	closed bool

	dropped atomic.Int64
}

func newEmitter(observer Observer, size int, logger *zap.Logger) *emitter {
	e := &emitter{
		observer: observer,
		logger:   logger,
		done:     make(chan struct{}),
	}

	if observer == nil {
		e.closed = true
		close(e.done)

		return e
	}

	e.events = make(chan Event, size)

	go e.run()

	return e
}

func (e *emitter) emit(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	select {
	case e.events <- event:
	default:
		e.dropped.Add(1)
	}
}

func (e *emitter) run() {
	defer close(e.done)

	for event := range e.events {
		e.deliver(event)
	}
}

func (e *emitter) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Event observer panicked",
				zap.String("event", event.Type.String()),
				zap.Any("panic", r),
			)
		}
	}()

	e.observer.HandleEvent(event)
}

// close stops accepting events and waits until queued ones are delivered.
func (e *emitter) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done

		return
	}

	e.closed = true
	close(e.events)
	e.mu.Unlock()

	<-e.done

	if dropped := e.dropped.Load(); dropped > 0 {
		e.logger.Warn("Dropped pool events for slow observer", zap.Int64(logging.FieldDropped, dropped))
	}
}
