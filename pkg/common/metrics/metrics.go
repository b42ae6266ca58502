// Package metrics defines standardized metric names and labels for connpool components.
package metrics

// StandardMetrics defines common metric names and labels.
const (
	// Namespace for all connpool metrics.
	Namespace = "connpool"

	// Subsystems.
	SubsystemPool    = "pool"
	SubsystemMonitor = "monitor"

	// Pool metric names.
	MetricEventsTotal           = "events_total"
	MetricConnectionsCreated    = "connections_created_total"
	MetricConnectionsClosed     = "connections_closed_total"
	MetricCheckoutsTotal        = "checkouts_total"
	MetricCheckoutWaitSeconds   = "checkout_wait_seconds"
	MetricConnectionsInUse      = "connections_in_use"
	MetricConnectionsOpen       = "connections_open"
	MetricPoolClearsTotal       = "clears_total"
	MetricPoolGeneration        = "generation"
	MetricConnectionsPending    = "connections_pending"
	MetricWaitQueueLength       = "wait_queue_length"
	MetricPaused                = "paused"
	MetricHeartbeatsTotal       = "heartbeats_total"
	MetricHeartbeatDurationSecs = "heartbeat_duration_seconds"

	// Common labels.
	LabelAddress = "address"
	LabelType    = "type"
	LabelReason  = "reason"
	LabelStatus  = "status"
	LabelKind    = "kind"

	// Status values.
	StatusSuccess = "success"
	StatusError   = "error"
)

// MetricName generates a fully qualified metric name.
func MetricName(subsystem, metric string) string {
	return Namespace + "_" + subsystem + "_" + metric
}

// PoolMetric generates a pool metric name.
func PoolMetric(metric string) string {
	return MetricName(SubsystemPool, metric)
}

// MonitorMetric generates a monitor metric name.
func MonitorMetric(metric string) string {
	return MetricName(SubsystemMonitor, metric)
}
