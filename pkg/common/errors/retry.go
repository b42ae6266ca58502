package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/actual-software/connpool/pkg/common/logging"
)

const (
	defaultMaxAttempts     = 3
	defaultInitialInterval = 50 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
	defaultMultiplier      = 2.0
	defaultRandomizeFactor = 0.1
)

// RetryConfig defines retry behavior for pool operations.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// DefaultRetryConfig returns default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     defaultMaxAttempts,
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxInterval,
		Multiplier:      defaultMultiplier,
		RandomizeFactor: defaultRandomizeFactor,
	}
}

// RetryPolicy decides whether and when to retry.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	NextInterval(attempt int) time.Duration
}

// ExponentialBackoffPolicy retries recoverable pool errors with jittered exponential backoff.
type ExponentialBackoffPolicy struct {
	config RetryConfig
	logger *zap.Logger
}

// NewExponentialBackoffPolicy creates a new exponential backoff policy.
func NewExponentialBackoffPolicy(config RetryConfig, logger *zap.Logger) *ExponentialBackoffPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExponentialBackoffPolicy{
		config: config,
		logger: logger,
	}
}

// ShouldRetry determines if an error should be retried.
func (p *ExponentialBackoffPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.config.MaxAttempts {
		return false
	}

	if !IsRetryable(err) {
		p.logger.Debug("Error is not retryable",
			zap.String(logging.FieldErrorKind, string(KindOf(err))),
			zap.Int(logging.FieldAttempt, attempt),
			zap.Error(err),
		)

		return false
	}

	return true
}

// NextInterval calculates the next retry interval.
func (p *ExponentialBackoffPolicy) NextInterval(attempt int) time.Duration {
	interval := float64(p.config.InitialInterval) * math.Pow(p.config.Multiplier, float64(attempt-1))

	if interval > float64(p.config.MaxInterval) {
		interval = float64(p.config.MaxInterval)
	}

	if p.config.RandomizeFactor > 0 {
		delta := interval * p.config.RandomizeFactor
		interval = interval - delta + rand.Float64()*2*delta
	}

	return time.Duration(interval)
}

// RetryOperation represents a retryable operation.
type RetryOperation func(ctx context.Context) error

// RetryManager runs operations under a RetryPolicy.
type RetryManager struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetryManager creates a new retry manager.
func NewRetryManager(policy RetryPolicy, logger *zap.Logger) *RetryManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryManager{
		policy: policy,
		logger: logger,
	}
}

// Execute runs operation until it succeeds, the policy gives up, or ctx ends.
// The last operation error is returned unchanged so callers can still match its Kind.
func (m *RetryManager) Execute(ctx context.Context, operation RetryOperation) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("operation canceled after %d attempts: %w", attempt-1, lastErr)
			}

			return err
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				m.logger.Debug("Operation succeeded after retry", zap.Int("attempts", attempt))
			}

			return nil
		}

		lastErr = err

		if !m.policy.ShouldRetry(err, attempt) {
			return err
		}

		interval := m.policy.NextInterval(attempt)

		m.logger.Debug("Retrying operation",
			zap.Int(logging.FieldAttempt, attempt),
			zap.Duration("retry_after", interval),
			zap.Error(err),
		)

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			return fmt.Errorf("operation canceled during retry: %w", lastErr)
		}
	}
}
