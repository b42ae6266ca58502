// Package pool implements a bounded, concurrent connection pool for a single server.
//
// The pool hands out connections to callers, replenishes and prunes them in the
// background, applies backpressure when exhausted, and can be invalidated in one
// step when the server is judged unhealthy.
//
// # Architecture
//
// A Pool composes four parts behind a single mutex:
//
//   - establisher: gates physical opens to MaxConnecting in flight
//   - waitQueue: FIFO of blocked checkouts, capped at WaitQueueSize while the
//     pool is at MaxConnections
//   - maintainer: periodic prune and top-up toward MinConnections
//   - emitter: best-effort delivery of lifecycle events to an Observer
//
// The mutex is held only for bookkeeping. Physical opens and closes always
// happen outside it.
//
// # Connection Lifecycle
//
//  1. Connecting: a slot and an establishment permit are reserved, and the
//     ConnectionFactory opens the transport
//  2. Ready: the connection rests in the available stack
//  3. InUse: the connection is owned by exactly one caller
//  4. Closed: the connection was stale, perished, or the pool closed
//
// Available connections are reused last-in first-out, so warm connections are
// preferred and the coldest ones age out through maintenance.
//
// # Generations
//
// Every connection is stamped with the pool generation current when its slot
// was reserved. Clear increments the generation and drops every available
// connection. In-use connections finish their work and are closed on CheckIn.
// A pausable pool also moves to Paused until Ready is called. A non-pausable
// pool keeps serving with fresh connections, which suits load-balanced
// deployments.
//
// # Usage Example
//
//	settings, err := pool.NewSettings(pool.WithMaxConnections(20))
//	if err != nil {
//	    return err
//	}
//
//	p, err := pool.New("db1:27017", settings, factory, pool.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = p.Close() }()
//
//	conn, err := p.CheckOut(ctx)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = p.CheckIn(conn) }()
//
// # Invariants
//
// At all times available + inUse + pending <= MaxConnections and
// pending <= MaxConnecting. A newly freed or newly established connection is
// always offered to the longest-waiting queued caller before it rests in the
// available stack.
//
// # Error Handling
//
// Failures are *errors.PoolError values whose Kind is one of configuration,
// pool closed, pool paused, wait queue full, wait queue timeout or connection
// establish. Use errors.Is with the package sentinels (ErrPoolClosed, ...) or
// errors.IsKind to classify them.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/actual-software/connpool/internal/constants"
	poolerr "github.com/actual-software/connpool/pkg/common/errors"
	"github.com/actual-software/connpool/pkg/common/logging"
)

const tracerName = "github.com/actual-software/connpool/internal/pool"

// Pool is a connection pool for one server address.
type Pool struct {
	id        string
	address   string
	settings  Settings
	staleness StalenessPolicy
	observer  Observer
	logger    *zap.Logger
	tracer    trace.Tracer

	establisher *establisher
	maintainer  *maintainer
	events      *emitter

	mu         sync.Mutex
	state      State
	generation uint64
	clearCause error
	available  []*Connection // newest last
	inUse      map[uint64]*Connection
	pending    int
	queue      *waitQueue
	nextConnID uint64

	stats counters
}

// Option configures optional Pool collaborators.
type Option func(*Pool)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithObserver registers an observer for lifecycle events.
func WithObserver(observer Observer) Option {
	return func(p *Pool) { p.observer = observer }
}

// WithStalenessPolicy sets the policy used to prune idle connections.
func WithStalenessPolicy(policy StalenessPolicy) Option {
	return func(p *Pool) { p.staleness = policy }
}

// WithTracer sets the tracer used for checkout spans. The default comes from
// the global OpenTelemetry provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pool) { p.tracer = tracer }
}

// WithStartPaused creates the pool in the Paused state; it serves nothing
// until Ready is called.
func WithStartPaused() Option {
	return func(p *Pool) { p.state = StatePaused }
}

type closeRequest struct {
	conn   *Connection
	reason string
}

// New creates a pool for address and starts its maintenance loop.
func New(address string, settings Settings, factory ConnectionFactory, opts ...Option) (*Pool, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}

	if factory == nil {
		return nil, poolerr.New(poolerr.KindConfiguration, "connection factory is required")
	}

	p := &Pool{
		id:       uuid.New().String(),
		address:  address,
		settings: settings,
		state:    StateReady,
		inUse:    make(map[uint64]*Connection),
		queue:    newWaitQueue(settings.waitQueueSize),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = zap.NewNop()
	}

	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}

	p.logger = p.logger.With(
		zap.String(logging.FieldPoolID, p.id),
		zap.String(logging.FieldAddress, address),
	)

	p.establisher = newEstablisher(p, factory, settings.maxConnecting)
	p.events = newEmitter(p.observer, constants.EventBufferSize, p.logger)
	p.maintainer = newMaintainer(p, settings.maintenanceInterval)
	p.maintainer.start()

	p.logger.Info("Connection pool created",
		zap.Int(logging.FieldPoolMin, settings.minConnections),
		zap.Int(logging.FieldPoolMax, settings.maxConnections),
		zap.Int(logging.FieldMaxConnecting, settings.maxConnecting),
		zap.Int(logging.FieldWaitQueueSize, settings.waitQueueSize),
		zap.String(logging.FieldMaintenanceInterval, formatDuration(settings.maintenanceInterval)),
		zap.String(logging.FieldState, p.state.String()),
	)

	return p, nil
}

// ID returns the unique identifier of this pool instance.
func (p *Pool) ID() string { return p.id }

// Address returns the server address the pool connects to.
func (p *Pool) Address() string { return p.address }

// Settings returns the pool settings.
func (p *Pool) Settings() Settings { return p.settings }

// State returns the current lifecycle state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Generation returns the current generation.
func (p *Pool) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.generation
}

// CheckOut returns a connection for exclusive use by the caller. It reuses the
// most recently returned connection, establishes a new one while below
// MaxConnections, or waits in FIFO order for one to be freed. The wait is bounded
// by WaitQueueTimeout and by ctx.
func (p *Pool) CheckOut(ctx context.Context) (*Connection, error) {
	ctx, span := p.tracer.Start(ctx, "connpool.CheckOut",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("server.address", p.address)),
	)
	defer span.End()

	start := time.Now()
	conn, err := p.checkOut(ctx, start)
	elapsed := time.Since(start)

	if err != nil {
		p.stats.checkOutFailed.Add(1)

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		p.logger.Debug("Checkout failed",
			zap.String(logging.FieldErrorKind, string(poolerr.KindOf(err))),
			zap.Duration(logging.FieldElapsed, elapsed),
			zap.Error(err),
		)
		p.emit(Event{
			Type:     EventCheckOutFailed,
			Reason:   string(poolerr.KindOf(err)),
			Err:      err,
			Duration: elapsed,
		})

		return nil, err
	}

	p.stats.checkedOut.Add(1)

	span.SetAttributes(
		attribute.Int64("connpool.connection_id", int64(conn.id)),
		attribute.Int64("connpool.generation", int64(conn.generation)),
	)

	p.emit(Event{
		Type:         EventCheckedOut,
		ConnectionID: conn.id,
		Generation:   conn.generation,
		Duration:     elapsed,
	})

	return conn, nil
}

func (p *Pool) checkOut(ctx context.Context, start time.Time) (*Connection, error) {
	for {
		p.mu.Lock()

		if err := p.unavailableErrorLocked(); err != nil {
			p.mu.Unlock()

			return nil, err
		}

		conn, discarded := p.popAvailableLocked(time.Now(), nil)
		if conn != nil {
			p.markInUseLocked(conn)
			p.mu.Unlock()
			p.closeConnections(discarded)

			return conn, nil
		}

		// Queued callers go first; only an empty queue lets us establish directly.
		if p.queue.len() == 0 {
			if r, ok := p.reserveLocked(); ok {
				p.mu.Unlock()
				p.closeConnections(discarded)

				conn, retry, err := p.establishFor(ctx, r)
				if retry {
					continue
				}

				return conn, err
			}
		}

		// Only a full pool applies the queue capacity; below it the caller is
		// waiting for an establishment permit.
		full := p.totalLocked() >= p.settings.maxConnections

		w, ok := p.queue.enqueue(time.Now(), p.waitDeadline(ctx), full)
		if !ok {
			err := p.waitQueueFullErrorLocked()
			p.mu.Unlock()
			p.closeConnections(discarded)

			return nil, err
		}
		p.mu.Unlock()
		p.closeConnections(discarded)

		conn, grant, err := p.await(ctx, w, start)
		if err != nil {
			return nil, err
		}

		if conn != nil {
			return conn, nil
		}

		conn, retry, err := p.establishFor(ctx, *grant)
		if retry {
			continue
		}

		return conn, err
	}
}

func (p *Pool) waitDeadline(ctx context.Context) time.Time {
	var deadline time.Time

	if timeout := p.settings.waitQueueTimeout; timeout != Infinite {
		deadline = time.Now().Add(timeout)
	}

	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}

	return deadline
}

// await blocks until w is served, its deadline passes, or ctx ends.
func (p *Pool) await(ctx context.Context, w *waiter, start time.Time) (*Connection, *reservation, error) {
	p.stats.waits.Add(1)

	defer func() {
		p.stats.waitNanos.Add(int64(time.Since(w.enqueuedAt)))
	}()

	var timeout <-chan time.Time

	if !w.deadline.IsZero() {
		timer := time.NewTimer(time.Until(w.deadline))
		defer timer.Stop()

		timeout = timer.C
	}

	select {
	case res := <-w.ready:
		return res.conn, res.grant, res.err
	case <-timeout:
		return p.abandon(w, start, ctx.Err())
	case <-ctx.Done():
		return p.abandon(w, start, ctx.Err())
	}
}

// abandon removes a timed out waiter. If a delivery raced the timeout, the
// delivered connection or reservation is given back before reporting the timeout.
func (p *Pool) abandon(w *waiter, start time.Time, cause error) (*Connection, *reservation, error) {
	p.mu.Lock()
	removed := p.queue.remove(w)
	generation := p.generation
	p.mu.Unlock()

	if !removed {
		res := <-w.ready

		switch {
		case res.err != nil:
			return nil, nil, res.err
		case res.conn != nil:
			_ = p.checkIn(res.conn)
		case res.grant != nil:
			p.cancelReservation()
		}
	}

	return nil, nil, p.timeoutError(time.Since(start), generation, cause)
}

// establishFor opens a connection for a caller that owns reservation r. retry
// is true when the connection raced a non-pausing Clear and the caller should
// start over.
func (p *Pool) establishFor(ctx context.Context, r reservation) (*Connection, bool, error) {
	conn, err := p.establisher.open(ctx, r)

	p.mu.Lock()
	p.releaseReservationLocked()

	if err != nil {
		discarded := p.dispatchLocked(nil)
		p.mu.Unlock()
		p.closeConnections(discarded)

		return nil, false, p.establishError(err, r.generation)
	}

	if stateErr := p.unavailableErrorLocked(); stateErr != nil || conn.generation < p.generation {
		reason := ReasonStale
		if p.state == StateClosed {
			reason = ReasonPoolClosed
		}

		discarded := p.dispatchLocked([]closeRequest{{conn, reason}})
		p.mu.Unlock()
		p.closeConnections(discarded)

		if stateErr != nil {
			return nil, false, stateErr
		}

		return nil, true, nil
	}

	p.markInUseLocked(conn)
	discarded := p.dispatchLocked(nil)
	p.mu.Unlock()
	p.closeConnections(discarded)

	return conn, false, nil
}

func (p *Pool) cancelReservation() {
	p.mu.Lock()
	p.releaseReservationLocked()
	discarded := p.dispatchLocked(nil)
	p.mu.Unlock()

	p.closeConnections(discarded)
}

// CheckIn returns a connection to the pool. Connections from an older
// generation, marked unusable, or returned to a pool that is not Ready are
// closed instead of reused.
func (p *Pool) CheckIn(conn *Connection) error {
	if err := p.checkIn(conn); err != nil {
		return err
	}

	p.emit(Event{
		Type:         EventCheckedIn,
		ConnectionID: conn.id,
		Generation:   conn.generation,
	})

	return nil
}

func (p *Pool) checkIn(conn *Connection) error {
	if conn == nil || conn.pool != p {
		return ErrInvalidConnection
	}

	now := time.Now()

	p.mu.Lock()

	if _, ok := p.inUse[conn.id]; !ok {
		p.mu.Unlock()

		return ErrInvalidConnection
	}

	delete(p.inUse, conn.id)
	conn.touch(now)

	var discarded []closeRequest

	if reason := p.discardReasonLocked(conn, now); reason != "" {
		discarded = append(discarded, closeRequest{conn, reason})
	} else {
		conn.setState(ConnectionReady)
		p.available = append(p.available, conn)
	}

	discarded = p.dispatchLocked(discarded)
	p.mu.Unlock()

	p.closeConnections(discarded)

	return nil
}

// Clear invalidates every existing connection by advancing the generation.
// Available connections are closed immediately; in-use ones are closed when
// checked in. A pausable pool moves to Paused and fails queued and future
// checkouts with a paused error carrying cause.
func (p *Pool) Clear(cause error) {
	p.mu.Lock()

	if p.state == StateClosed {
		p.mu.Unlock()

		return
	}

	p.generation++
	generation := p.generation
	discarded := p.drainAvailableLocked(ReasonStale)

	rejected := 0

	if p.settings.isPausable {
		p.state = StatePaused
		p.clearCause = cause
		rejected = p.queue.rejectAll(p.pausedErrorLocked())
	} else {
		discarded = p.dispatchLocked(discarded)
	}

	state := p.state
	p.mu.Unlock()

	p.closeConnections(discarded)

	p.logger.Info("Connection pool cleared",
		zap.Uint64(logging.FieldGeneration, generation),
		zap.String(logging.FieldState, state.String()),
		zap.Int("rejected_waiters", rejected),
		zap.NamedError(logging.FieldCause, cause),
	)

	p.emit(Event{
		Type:       EventPoolCleared,
		Generation: generation,
		Err:        cause,
	})
}

// Ready resumes a paused pool.
func (p *Pool) Ready() error {
	p.mu.Lock()

	switch p.state {
	case StateClosed:
		p.mu.Unlock()

		return p.closedError()
	case StateReady:
		p.mu.Unlock()

		return nil
	}

	p.state = StateReady
	p.clearCause = nil
	generation := p.generation
	p.mu.Unlock()

	p.logger.Info("Connection pool ready", zap.Uint64(logging.FieldGeneration, generation))

	p.emit(Event{Type: EventPoolReady, Generation: generation})
	p.maintainer.wake()

	return nil
}

// Close closes the pool. Queued checkouts fail with a closed error, available
// connections are closed, and the maintenance loop is stopped. Connections still
// in use are closed when checked in. Close is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()

	if p.state == StateClosed {
		p.mu.Unlock()

		return nil
	}

	p.state = StateClosed
	generation := p.generation
	discarded := p.drainAvailableLocked(ReasonPoolClosed)
	p.queue.rejectAll(p.closedError())
	p.mu.Unlock()

	p.maintainer.stop()

	err := p.closeConnections(discarded)

	p.logger.Info("Connection pool closed",
		zap.Int64("total_created", p.stats.created.Load()),
		zap.Int64("total_closed", p.stats.closed.Load()),
	)

	p.emit(Event{Type: EventPoolClosed, Generation: generation})
	p.events.close()

	return err
}

func (p *Pool) unavailableErrorLocked() error {
	switch p.state {
	case StateClosed:
		return p.closedError()
	case StatePaused:
		return p.pausedErrorLocked()
	default:
		return nil
	}
}

func (p *Pool) totalLocked() int {
	return len(p.available) + len(p.inUse) + p.pending
}

// reserveLocked claims a slot and an establishment permit if both are free.
func (p *Pool) reserveLocked() (reservation, bool) {
	if p.totalLocked() >= p.settings.maxConnections {
		return reservation{}, false
	}

	if !p.establisher.tryAcquire() {
		return reservation{}, false
	}

	p.pending++
	p.nextConnID++

	return reservation{id: p.nextConnID, generation: p.generation}, true
}

func (p *Pool) releaseReservationLocked() {
	p.pending--
	p.establisher.release()
}

func (p *Pool) markInUseLocked(conn *Connection) {
	conn.setState(ConnectionInUse)
	p.inUse[conn.id] = conn
}

// popAvailableLocked pops the newest reusable connection. Stale and perished
// connections met on the way are appended to discarded.
func (p *Pool) popAvailableLocked(now time.Time, discarded []closeRequest) (*Connection, []closeRequest) {
	for len(p.available) > 0 {
		last := len(p.available) - 1
		conn := p.available[last]
		p.available[last] = nil
		p.available = p.available[:last]

		if reason := p.discardReasonLocked(conn, now); reason != "" {
			discarded = append(discarded, closeRequest{conn, reason})

			continue
		}

		return conn, discarded
	}

	return nil, discarded
}

// dispatchLocked serves queued waiters from the available stack, then with
// establishment grants while capacity and permits allow.
func (p *Pool) dispatchLocked(discarded []closeRequest) []closeRequest {
	if p.state != StateReady {
		return discarded
	}

	now := time.Now()

	for p.queue.len() > 0 {
		var conn *Connection

		conn, discarded = p.popAvailableLocked(now, discarded)
		if conn != nil {
			p.markInUseLocked(conn)
			p.queue.deliver(waitResult{conn: conn})

			continue
		}

		r, ok := p.reserveLocked()
		if !ok {
			break
		}

		p.queue.deliver(waitResult{grant: &r})
	}

	return discarded
}

// pruneLocked removes idle connections that are stale or rejected by the staleness policy.
func (p *Pool) pruneLocked(now time.Time) []closeRequest {
	var discarded []closeRequest

	kept := p.available[:0]

	for _, conn := range p.available {
		if reason := p.discardReasonLocked(conn, now); reason != "" {
			discarded = append(discarded, closeRequest{conn, reason})

			continue
		}

		kept = append(kept, conn)
	}

	clear(p.available[len(kept):])
	p.available = kept

	return discarded
}

func (p *Pool) drainAvailableLocked(reason string) []closeRequest {
	discarded := make([]closeRequest, 0, len(p.available))
	for _, conn := range p.available {
		discarded = append(discarded, closeRequest{conn, reason})
	}

	p.available = nil

	return discarded
}

func (p *Pool) discardReasonLocked(conn *Connection, now time.Time) string {
	switch {
	case p.state == StateClosed:
		return ReasonPoolClosed
	case conn.generation < p.generation || p.state != StateReady:
		return ReasonStale
	case !conn.alive():
		return ReasonError
	case p.staleness != nil && p.staleness.IsStale(conn, now):
		return ReasonIdle
	default:
		return ""
	}
}

// closeConnections closes physical connections outside the pool lock and
// returns the first close error.
func (p *Pool) closeConnections(requests []closeRequest) error {
	var firstErr error

	for _, req := range requests {
		err := req.conn.close()
		p.stats.closed.Add(1)

		if err != nil {
			if firstErr == nil {
				firstErr = err
			}

			p.logger.Warn("Failed to close connection",
				zap.Uint64(logging.FieldConnectionID, req.conn.id),
				zap.Error(err),
			)
		}

		p.logger.Debug("Removed connection",
			zap.Uint64(logging.FieldConnectionID, req.conn.id),
			zap.Uint64(logging.FieldGeneration, req.conn.generation),
			zap.String(logging.FieldReason, req.reason),
		)

		p.emit(Event{
			Type:         EventConnectionClosed,
			ConnectionID: req.conn.id,
			Generation:   req.conn.generation,
			Reason:       req.reason,
		})
	}

	return firstErr
}

func (p *Pool) emit(event Event) {
	event.Time = time.Now()
	event.PoolID = p.id
	event.Address = p.address

	p.events.emit(event)
}
