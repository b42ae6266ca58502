// Package monitor heartbeats a server and drives its pool's Clear and Ready
// transitions.
//
// After FailureThreshold consecutive failed heartbeats the pool is cleared
// with the last failure as the cause. The first successful heartbeat while
// the pool is paused marks it ready again. A pool created paused therefore
// starts serving as soon as the server has answered once.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/actual-software/connpool/internal/constants"
	"github.com/actual-software/connpool/internal/pool"
	"github.com/actual-software/connpool/pkg/common/logging"
)

// Prober performs one out-of-band round trip to the server.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe calls f(ctx).
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Target is the pool a monitor drives. *pool.Pool implements it.
type Target interface {
	Address() string
	State() pool.State
	Clear(cause error)
	Ready() error
}

// Recorder receives every heartbeat outcome.
type Recorder interface {
	RecordHeartbeat(address string, duration time.Duration, err error)
}

// Config controls heartbeat cadence and tolerance.
type Config struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Interval:         constants.DefaultHeartbeatInterval,
		Timeout:          constants.DefaultHeartbeatTimeout,
		FailureThreshold: 1,
	}
}

// Status is a snapshot of the monitor's view of the server.
type Status struct {
	Healthy             bool          `json:"healthy"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Heartbeats          int64         `json:"heartbeats"`
	Clears              int64         `json:"clears"`
	LastCheck           time.Time     `json:"last_check"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
}

// Monitor heartbeats one server.
type Monitor struct {
	target   Target
	prober   Prober
	recorder Recorder
	config   Config
	logger   *zap.Logger

	mu     sync.RWMutex
	status Status
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithRecorder reports each heartbeat to r.
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// New creates a monitor. Zero config fields take their defaults.
func New(target Target, prober Prober, cfg Config, opts ...Option) *Monitor {
	defaults := DefaultConfig()

	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}

	m := &Monitor{
		target: target,
		prober: prober,
		config: cfg,
		status: Status{Healthy: true},
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	m.logger = m.logger.With(
		zap.String(logging.FieldComponent, "monitor"),
		zap.String(logging.FieldAddress, target.Address()),
	)

	return m
}

// Run heartbeats immediately and then every Interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.logger.Info("Starting heartbeat monitor",
		zap.Duration("interval", m.config.Interval),
		zap.Duration(logging.FieldTimeout, m.config.Timeout),
		zap.Int("failure_threshold", m.config.FailureThreshold),
	)

	_ = m.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Heartbeat monitor stopped")

			return
		case <-ticker.C:
			_ = m.Check(ctx)
		}
	}
}

// Check performs one heartbeat and applies its outcome to the target.
func (m *Monitor) Check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	start := time.Now()
	err := m.prober.Probe(probeCtx)
	duration := time.Since(start)

	cancel()

	// A heartbeat cut short by shutdown says nothing about the server.
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	if m.recorder != nil {
		m.recorder.RecordHeartbeat(m.target.Address(), duration, err)
	}

	if err != nil {
		m.onFailure(err, duration)

		return err
	}

	m.onSuccess(duration)

	return nil
}

func (m *Monitor) onFailure(err error, duration time.Duration) {
	m.mu.Lock()
	m.status.Heartbeats++
	m.status.ConsecutiveFailures++
	m.status.LastCheck = time.Now()
	m.status.LastDuration = duration
	m.status.LastError = err.Error()

	failures := m.status.ConsecutiveFailures
	shouldClear := failures == m.config.FailureThreshold

	if shouldClear {
		m.status.Healthy = false
		m.status.Clears++
	}
	m.mu.Unlock()

	m.logger.Warn("Heartbeat failed",
		zap.Bool(logging.FieldHealthy, failures < m.config.FailureThreshold),
		zap.Int(logging.FieldFailures, failures),
		zap.Duration(logging.FieldDuration, duration),
		zap.Error(err),
	)

	if shouldClear {
		m.target.Clear(fmt.Errorf("heartbeat to %s failed: %w", m.target.Address(), err))
	}
}

func (m *Monitor) onSuccess(duration time.Duration) {
	m.mu.Lock()
	recovered := !m.status.Healthy
	m.status.Heartbeats++
	m.status.ConsecutiveFailures = 0
	m.status.Healthy = true
	m.status.LastCheck = time.Now()
	m.status.LastDuration = duration
	m.status.LastError = ""
	m.mu.Unlock()

	if recovered {
		m.logger.Info("Heartbeat recovered",
			zap.Bool(logging.FieldHealthy, true),
			zap.Duration(logging.FieldDuration, duration),
		)
	}

	if m.target.State() != pool.StatePaused {
		return
	}

	if err := m.target.Ready(); err != nil {
		m.logger.Warn("Failed to mark pool ready", zap.Error(err))
	}
}

// Status returns the current status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.status
}
