package pool

import (
	"fmt"
	"time"

	poolerr "github.com/actual-software/connpool/pkg/common/errors"
)

// Infinite disables the maintenance loop when used as MaintenanceInterval and
// removes the bound when used as WaitQueueTimeout.
const Infinite time.Duration = -1

// Default settings values.
const (
	DefaultMaintenanceInterval = time.Minute
	DefaultMaxConnections      = 100
	DefaultMinConnections      = 0
	DefaultMaxConnecting       = 2
	DefaultWaitQueueTimeout    = 2 * time.Minute
	DefaultIsPausable          = true

	// waitQueueMultiple derives the wait queue size from MaxConnections when it is not set.
	waitQueueMultiple = 5
)

// Settings is the immutable, validated configuration of a Pool.
// The zero value is not valid; use NewSettings or DefaultSettings.
type Settings struct {
	maintenanceInterval time.Duration
	maxConnections      int
	minConnections      int
	maxConnecting       int
	waitQueueTimeout    time.Duration
	waitQueueSize       int
	isPausable          bool
}

// SettingsOption overrides one field while building Settings.
type SettingsOption func(*settingsBuilder)

type settingsBuilder struct {
	Settings
	waitQueueSizeSet bool
}

// WithMaintenanceInterval sets the period between maintenance passes. Infinite disables maintenance.
func WithMaintenanceInterval(d time.Duration) SettingsOption {
	return func(b *settingsBuilder) { b.maintenanceInterval = d }
}

// WithMaxConnections sets the hard cap on available, in-use and connecting connections.
func WithMaxConnections(n int) SettingsOption {
	return func(b *settingsBuilder) { b.maxConnections = n }
}

// WithMinConnections sets the floor maintained by background top-up.
func WithMinConnections(n int) SettingsOption {
	return func(b *settingsBuilder) { b.minConnections = n }
}

// WithMaxConnecting sets how many physical connects may be in flight at once.
func WithMaxConnecting(n int) SettingsOption {
	return func(b *settingsBuilder) { b.maxConnecting = n }
}

// WithWaitQueueTimeout sets the longest a checkout may wait in the queue. Infinite waits forever.
func WithWaitQueueTimeout(d time.Duration) SettingsOption {
	return func(b *settingsBuilder) { b.waitQueueTimeout = d }
}

// WithWaitQueueSize caps the number of queued checkouts.
func WithWaitQueueSize(n int) SettingsOption {
	return func(b *settingsBuilder) {
		b.waitQueueSize = n
		b.waitQueueSizeSet = true
	}
}

// WithPausable controls whether Clear pauses the pool.
func WithPausable(pausable bool) SettingsOption {
	return func(b *settingsBuilder) { b.isPausable = pausable }
}

// DefaultSettings returns the default settings.
func DefaultSettings() Settings {
	return Settings{
		maintenanceInterval: DefaultMaintenanceInterval,
		maxConnections:      DefaultMaxConnections,
		minConnections:      DefaultMinConnections,
		maxConnecting:       DefaultMaxConnecting,
		waitQueueTimeout:    DefaultWaitQueueTimeout,
		waitQueueSize:       DefaultMaxConnections * waitQueueMultiple,
		isPausable:          DefaultIsPausable,
	}
}

// NewSettings builds validated settings from the defaults and the given overrides.
// An unset wait queue size is derived as MaxConnections*5.
func NewSettings(opts ...SettingsOption) (Settings, error) {
	b := settingsBuilder{Settings: DefaultSettings()}

	return b.build(opts)
}

// With returns a copy of s with the given overrides applied. Every other field,
// including the wait queue size, is carried over as is.
func (s Settings) With(opts ...SettingsOption) (Settings, error) {
	b := settingsBuilder{Settings: s, waitQueueSizeSet: true}

	return b.build(opts)
}

func (b *settingsBuilder) build(opts []SettingsOption) (Settings, error) {
	for _, opt := range opts {
		opt(b)
	}

	if !b.waitQueueSizeSet {
		b.waitQueueSize = b.maxConnections * waitQueueMultiple
	}

	if err := b.Settings.validate(); err != nil {
		return Settings{}, err
	}

	return b.Settings, nil
}

func (s Settings) validate() error {
	switch {
	case s.maintenanceInterval < 0 && s.maintenanceInterval != Infinite:
		return configError("maintenanceInterval must be infinite or >= 0, got %s", s.maintenanceInterval)
	case s.maxConnections <= 0:
		return configError("maxConnections must be > 0, got %d", s.maxConnections)
	case s.minConnections < 0:
		return configError("minConnections must be >= 0, got %d", s.minConnections)
	case s.maxConnecting <= 0:
		return configError("maxConnecting must be > 0, got %d", s.maxConnecting)
	case s.waitQueueTimeout < 0 && s.waitQueueTimeout != Infinite:
		return configError("waitQueueTimeout must be infinite or >= 0, got %s", s.waitQueueTimeout)
	case s.waitQueueSize < 0:
		return configError("waitQueueSize must be >= 0, got %d", s.waitQueueSize)
	}

	return nil
}

func configError(format string, args ...interface{}) error {
	return poolerr.Newf(poolerr.KindConfiguration, format, args...)
}

// MaintenanceInterval returns the period between maintenance passes.
func (s Settings) MaintenanceInterval() time.Duration { return s.maintenanceInterval }

// MaintenanceEnabled reports whether the maintenance loop runs at all.
func (s Settings) MaintenanceEnabled() bool { return s.maintenanceInterval != Infinite }

// MaxConnections returns the hard cap on pool size.
func (s Settings) MaxConnections() int { return s.maxConnections }

// MinConnections returns the maintained floor.
func (s Settings) MinConnections() int { return s.minConnections }

// MaxConnecting returns the cap on concurrent establishment.
func (s Settings) MaxConnecting() int { return s.maxConnecting }

// WaitQueueTimeout returns the longest a checkout may wait.
func (s Settings) WaitQueueTimeout() time.Duration { return s.waitQueueTimeout }

// WaitQueueSize returns the queue capacity.
func (s Settings) WaitQueueSize() int { return s.waitQueueSize }

// IsPausable reports whether Clear pauses the pool.
func (s Settings) IsPausable() bool { return s.isPausable }

func (s Settings) String() string {
	return fmt.Sprintf(
		"MaintenanceInterval: %s, MaxConnections: %d, MinConnections: %d, MaxConnecting: %d, "+
			"WaitQueueTimeout: %s, WaitQueueSize: %d, IsPausable: %t",
		formatDuration(s.maintenanceInterval),
		s.maxConnections,
		s.minConnections,
		s.maxConnecting,
		formatDuration(s.waitQueueTimeout),
		s.waitQueueSize,
		s.isPausable,
	)
}

func formatDuration(d time.Duration) string {
	if d == Infinite {
		return "infinite"
	}

	return d.String()
}
