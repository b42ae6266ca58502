package pool

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/actual-software/connpool/pkg/common/logging"
)

// reservation is a slot counted in pendingConnects together with an
// establishment permit. The generation is captured when the slot is reserved so
// that a handshake racing a Clear is recognised as stale.
type reservation struct {
	id         uint64
	generation uint64
}

// establisher gates physical connection creation to maxConnecting in flight.
// Permits are taken and returned under the pool lock; a caller that cannot get
// one waits in the wait queue, outside its capacity, and is granted the next free
// permit in FIFO order.
type establisher struct {
	pool    *Pool
	factory ConnectionFactory
	permits *semaphore.Weighted
}

func newEstablisher(p *Pool, factory ConnectionFactory, maxConnecting int) *establisher {
	return &establisher{
		pool:    p,
		factory: factory,
		permits: semaphore.NewWeighted(int64(maxConnecting)),
	}
}

func (e *establisher) tryAcquire() bool {
	return e.permits.TryAcquire(1)
}

func (e *establisher) release() {
	e.permits.Release(1)
}

// open performs the physical open outside the pool lock. The caller still owns
// the reservation and must release it whatever the outcome.
func (e *establisher) open(ctx context.Context, r reservation) (*Connection, error) {
	p := e.pool
	conn := newConnection(p, r, time.Now())

	raw, err := e.factory.Open(ctx)
	if err == nil && raw == nil {
		err = errNilConn
	}

	elapsed := time.Since(conn.createdAt)

	if err != nil {
		conn.setState(ConnectionClosed)
		p.stats.establishFailed.Add(1)

		p.logger.Debug("Failed to establish connection",
			zap.Uint64(logging.FieldConnectionID, r.id),
			zap.Uint64(logging.FieldGeneration, r.generation),
			zap.Duration(logging.FieldDuration, elapsed),
			zap.Error(err),
		)

		return nil, err
	}

	conn.conn = raw
	conn.setState(ConnectionReady)
	p.stats.created.Add(1)

	p.logger.Debug("Established connection",
		zap.Uint64(logging.FieldConnectionID, conn.id),
		zap.Uint64(logging.FieldGeneration, conn.generation),
		zap.Duration(logging.FieldDuration, elapsed),
	)

	p.emit(Event{
		Type:         EventConnectionCreated,
		ConnectionID: conn.id,
		Generation:   conn.generation,
		Duration:     elapsed,
	})

	return conn, nil
}
