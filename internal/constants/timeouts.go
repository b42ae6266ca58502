// Package constants defines shared timeout and duration constants used throughout connpool.
package constants

import "time"

const (
	defaultTimeoutSeconds = 30
	defaultRetryCount     = 10
	defaultShortSeconds   = 5
)

// These values bound the metrics endpoint.
const (
	// Value chosen to allow reasonable metrics collection time.
	MetricsServerReadTimeout = defaultRetryCount * time.Second

	// Should be sufficient for metrics payload transmission.
	MetricsServerWriteTimeout = defaultRetryCount * time.Second

	// Balances graceful shutdown with reasonable termination time.
	MetricsShutdownTimeout = defaultShortSeconds * time.Second
)

// These values handle connection lifecycle.
const (
	// Handles slow DNS resolution and handshake.
	ConnectionEstablishTimeout = defaultTimeoutSeconds * time.Second

	// Standard for TCP keepalive probes.
	ConnectionKeepaliveInterval = defaultTimeoutSeconds * time.Second

	// Bounds the WebSocket ping written after the handshake.
	ConnectionPingTimeout = defaultShortSeconds * time.Second
)

// These values drive the heartbeat monitor.
const (
	// Matches the default server heartbeat frequency.
	DefaultHeartbeatInterval = defaultRetryCount * time.Second

	// A heartbeat slower than this counts as a failure.
	DefaultHeartbeatTimeout = defaultShortSeconds * time.Second
)

// These values bound background work owned by the pool.
const (
	// Smallest maintenance period; a zero interval runs at this cadence.
	MinMaintenanceInterval = 10 * time.Millisecond

	// Events buffered for the observer before new ones are dropped.
	EventBufferSize = 256

	// Balances graceful shutdown with reasonable termination.
	ShutdownTimeout = defaultShortSeconds * time.Second
)
