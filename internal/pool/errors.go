package pool

import (
	"errors"
	"fmt"
	"time"

	poolerr "github.com/actual-software/connpool/pkg/common/errors"
)

// Sentinels for errors.Is. Matching is by kind, so any error returned by the
// pool matches the sentinel of its kind regardless of its context fields.
var (
	ErrConfiguration       = poolerr.New(poolerr.KindConfiguration, "invalid pool settings")
	ErrPoolClosed          = poolerr.New(poolerr.KindPoolClosed, "connection pool is closed")
	ErrPoolPaused          = poolerr.New(poolerr.KindPoolPaused, "connection pool is paused")
	ErrWaitQueueFull       = poolerr.New(poolerr.KindWaitQueueFull, "wait queue is full")
	ErrWaitQueueTimeout    = poolerr.New(poolerr.KindWaitQueueTimeout, "timed out waiting for a connection")
	ErrConnectionEstablish = poolerr.New(poolerr.KindConnectionEstablish, "failed to establish connection")

	// ErrInvalidConnection is returned by CheckIn for a connection that is not
	// checked out from this pool.
	ErrInvalidConnection = errors.New("connection is not checked out from this pool")

	errNilConn = errors.New("connection factory returned a nil connection")
)

func (p *Pool) closedError() error {
	return poolerr.New(poolerr.KindPoolClosed, "connection pool is closed").WithAddress(p.address)
}

func (p *Pool) pausedErrorLocked() error {
	return poolerr.Wrap(poolerr.KindPoolPaused, p.clearCause, "connection pool is paused").
		WithAddress(p.address).
		WithGeneration(p.generation)
}

func (p *Pool) waitQueueFullErrorLocked() error {
	return poolerr.Newf(poolerr.KindWaitQueueFull, "wait queue is full (size %d)", p.settings.waitQueueSize).
		WithAddress(p.address).
		WithGeneration(p.generation)
}

func (p *Pool) timeoutError(elapsed time.Duration, generation uint64, cause error) error {
	msg := fmt.Sprintf("timed out while checking out a connection after %s", elapsed.Round(time.Millisecond))

	return poolerr.Wrap(poolerr.KindWaitQueueTimeout, cause, msg).
		WithAddress(p.address).
		WithGeneration(generation).
		WithElapsed(elapsed)
}

func (p *Pool) establishError(cause error, generation uint64) error {
	return poolerr.Wrap(poolerr.KindConnectionEstablish, cause, "failed to establish connection").
		WithAddress(p.address).
		WithGeneration(generation)
}
