package main

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/actual-software/connpool/internal/constants"
	"github.com/actual-software/connpool/internal/dialer"
	"github.com/actual-software/connpool/internal/pool"
	"github.com/actual-software/connpool/internal/tracing"
	poolerr "github.com/actual-software/connpool/pkg/common/errors"
	"github.com/actual-software/connpool/pkg/common/logging"
)

// WorkloadResult summarizes a workload run.
type WorkloadResult struct {
	Iterations int64
	Failures   map[poolerr.Kind]int64

	// Check-out latency, including retries.
	CheckOutLatency LatencySummary
}

// LatencySummary holds percentiles of a latency sample.
type LatencySummary struct {
	Count int
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

func summarize(samples []time.Duration) LatencySummary {
	if len(samples) == 0 {
		return LatencySummary{}
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	at := func(percentile int) time.Duration {
		index := len(sorted) * percentile / 100
		if index >= len(sorted) {
			index = len(sorted) - 1
		}

		return sorted[index]
	}

	return LatencySummary{
		Count: len(sorted),
		P50:   at(50),
		P95:   at(95),
		P99:   at(99),
		Max:   sorted[len(sorted)-1],
	}
}

// FailureCount returns the total number of failed iterations.
func (r WorkloadResult) FailureCount() int64 {
	var total int64
	for _, n := range r.Failures {
		total += n
	}

	return total
}

// Workload drives concurrent check-out, use and check-in cycles against a pool.
type Workload struct {
	pool    *pool.Pool
	retry   *poolerr.RetryManager
	tracer  *tracing.Tracer
	logger  *zap.Logger
	workers int
	hold    time.Duration

	iterations atomic.Int64

	mu        sync.Mutex
	failures  map[poolerr.Kind]int64
	latencies []time.Duration
}

// NewWorkload creates a workload of workers goroutines, each keeping a
// connection checked out for hold per iteration.
func NewWorkload(p *pool.Pool, workers int, hold time.Duration, retry *poolerr.RetryManager,
	tracer *tracing.Tracer, logger *zap.Logger) *Workload {
	if hold < 0 {
		hold = 0
	}

	return &Workload{
		pool:     p,
		retry:    retry,
		tracer:   tracer,
		logger:   logger,
		workers:  workers,
		hold:     hold,
		failures: make(map[poolerr.Kind]int64),
	}
}

// Run blocks until ctx is done or the pool is closed.
func (w *Workload) Run(ctx context.Context) WorkloadResult {
	g, ctx := errgroup.WithContext(ctx)

	for range w.workers {
		g.Go(func() error {
			for ctx.Err() == nil {
				if err := w.iterate(ctx); err != nil {
					return err
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		w.logger.Info("Workload stopped", zap.Error(err))
	}

	return w.result()
}

// iterate runs one check-out, use and check-in cycle. It returns an error only
// when the pool is closed and no further iteration can succeed.
func (w *Workload) iterate(ctx context.Context) error {
	ctx, span := w.tracer.StartSpan(ctx, "connpool.workload.iteration")
	defer span.End()

	var conn *pool.Connection

	start := time.Now()

	err := w.retry.Execute(ctx, func(ctx context.Context) error {
		var err error

		conn, err = w.pool.CheckOut(ctx)

		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			w.fail(ctx, err)
		}

		if poolerr.IsKind(err, poolerr.KindPoolClosed) {
			return err
		}

		return nil
	}

	w.mu.Lock()
	w.latencies = append(w.latencies, time.Since(start))
	w.mu.Unlock()

	w.tracer.SetSpanAttributes(ctx,
		attribute.Int64("connpool.connection_id", int64(conn.ID())),
		attribute.Int64("connpool.generation", int64(conn.Generation())),
	)

	if err := exercise(ctx, conn); err != nil {
		if !poolerr.IsKind(err, poolerr.KindCommand) {
			conn.MarkUnusable()
		}

		w.fail(ctx, err)
	} else {
		w.iterations.Add(1)
	}

	w.sleep(ctx)

	if err := w.pool.CheckIn(conn); err != nil {
		w.logger.Warn("Failed to check in connection",
			zap.Uint64(logging.FieldConnectionID, conn.ID()),
			zap.Error(err),
		)
	}

	return nil
}

// exercise issues one round trip on the transports that support it.
func exercise(ctx context.Context, conn *pool.Connection) error {
	switch c := conn.Conn().(type) {
	case *dialer.RedisConn:
		_, err := c.Do(ctx, "PING")

		return err
	case *dialer.WebSocketConn:
		return c.Ping(time.Now().Add(constants.ConnectionPingTimeout))
	default:
		return nil
	}
}

func (w *Workload) sleep(ctx context.Context) {
	if w.hold == 0 {
		return
	}

	timer := time.NewTimer(w.hold)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (w *Workload) fail(ctx context.Context, err error) {
	kind := poolerr.KindOf(err)

	w.tracer.RecordError(ctx, err)

	w.mu.Lock()
	w.failures[kind]++
	w.mu.Unlock()

	fields := []zap.Field{
		zap.String(logging.FieldErrorKind, string(kind)),
		zap.String(logging.FieldErrorCode, string(poolerr.GetErrorCode(err))),
		zap.Error(err),
	}
	if traceID := w.tracer.TraceID(ctx); traceID != "" {
		fields = append(fields, zap.String(logging.FieldTraceID, traceID))
	}

	w.logger.Debug("Workload iteration failed", fields...)
}

func (w *Workload) result() WorkloadResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	failures := make(map[poolerr.Kind]int64, len(w.failures))
	for kind, n := range w.failures {
		failures[kind] = n
	}

	return WorkloadResult{
		Iterations:      w.iterations.Load(),
		Failures:        failures,
		CheckOutLatency: summarize(w.latencies),
	}
}
