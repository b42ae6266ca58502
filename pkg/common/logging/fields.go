// Package logging defines standardized logging field names for connpool components.
package logging

// StandardFields defines common logging field names.
const (
	// Service identification.
	FieldService   = "service"
	FieldComponent = "component"
	FieldVersion   = "version"

	// Connection and network.
	FieldConnectionID = "connection_id"
	FieldAddress      = "address"
	FieldDialer       = "dialer"
	FieldEndpoint     = "endpoint"

	// Pool identity and state.
	FieldPoolID     = "pool_id"
	FieldGeneration = "generation"
	FieldState      = "state"
	FieldReason     = "reason"
	FieldCause      = "cause"

	// Pool sizing.
	FieldPoolMin       = "pool_min"
	FieldPoolMax       = "pool_max"
	FieldMaxConnecting = "max_connecting"
	FieldAvailable     = "available"
	FieldInUse         = "in_use"
	FieldPending       = "pending"
	FieldWaitQueueLen  = "wait_queue_length"
	FieldWaitQueueSize = "wait_queue_size"

	// Timing.
	FieldDuration            = "duration"
	FieldElapsed             = "elapsed"
	FieldTimeout             = "timeout"
	FieldMaintenanceInterval = "maintenance_interval"

	// Error handling.
	FieldErrorKind = "error_kind"
	FieldErrorCode = "error_code"
	FieldAttempt   = "attempt"

	// Tracing.
	FieldTraceID = "trace_id"

	// Monitoring.
	FieldHealthy  = "healthy"
	FieldFailures = "consecutive_failures"
	FieldDropped  = "dropped"
)

// ServiceName identifies the connpool binary in logs and traces.
const ServiceName = "connpool"
