package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/actual-software/connpool/internal/constants"
	"github.com/actual-software/connpool/pkg/common/logging"
)

// maintainer runs the periodic prune and top-up pass. It is started with the
// pool and stopped by Close, which also waits for in-flight top-ups.
type maintainer struct {
	pool     *Pool
	interval time.Duration
	wakeCh   chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newMaintainer(p *Pool, interval time.Duration) *maintainer {
	ctx, cancel := context.WithCancel(context.Background())

	return &maintainer{
		pool:     p,
		interval: interval,
		wakeCh:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (m *maintainer) start() {
	if m.interval == Infinite {
		return
	}

	m.wg.Add(1)

	go m.run()
}

func (m *maintainer) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(max(m.interval, constants.MinMaintenanceInterval))
	defer ticker.Stop()

	m.maintain()

	for {
		select {
		case <-ticker.C:
		case <-m.wakeCh:
		case <-m.ctx.Done():
			return
		}

		m.maintain()
	}
}

// wake schedules a pass without waiting for the next tick.
func (m *maintainer) wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

func (m *maintainer) stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
}

// maintain prunes idle connections and reserves top-up slots under the pool
// lock, then establishes the reserved connections asynchronously.
func (m *maintainer) maintain() {
	p := m.pool

	if m.ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	if p.state != StateReady {
		p.mu.Unlock()

		return
	}

	discarded := p.pruneLocked(time.Now())
	discarded = p.dispatchLocked(discarded)

	var reservations []reservation

	for p.totalLocked() < p.settings.minConnections {
		r, ok := p.reserveLocked()
		if !ok {
			break
		}

		reservations = append(reservations, r)
	}
	p.mu.Unlock()

	p.closeConnections(discarded)

	for _, r := range reservations {
		m.wg.Add(1)

		go m.topUp(r)
	}
}

func (m *maintainer) topUp(r reservation) {
	defer m.wg.Done()

	p := m.pool

	ctx, cancel := context.WithTimeout(m.ctx, constants.ConnectionEstablishTimeout)
	defer cancel()

	conn, err := p.establisher.open(ctx, r)

	p.mu.Lock()
	p.releaseReservationLocked()

	var discarded []closeRequest

	if err == nil {
		switch {
		case p.state == StateClosed:
			discarded = append(discarded, closeRequest{conn, ReasonPoolClosed})
		case p.state != StateReady || conn.generation < p.generation:
			discarded = append(discarded, closeRequest{conn, ReasonStale})
		default:
			p.available = append(p.available, conn)
		}
	}

	discarded = p.dispatchLocked(discarded)
	p.mu.Unlock()

	p.closeConnections(discarded)

	if err != nil && m.ctx.Err() == nil {
		p.logger.Warn("Failed to create connection during maintenance",
			zap.Uint64(logging.FieldGeneration, r.generation),
			zap.Error(err),
		)
	}
}
