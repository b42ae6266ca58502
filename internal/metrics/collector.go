// Package metrics exports connection pool activity to Prometheus.
//
// A Collector is registered as a pool.Observer and turns lifecycle events into
// counters and histograms. Point-in-time gauges are read from Pool.Stats at
// scrape time through Watch, so they stay exact even when the observer drops
// events under load.
//
// # Usage Example
//
//	reg := prometheus.NewRegistry()
//	collector := metrics.NewCollector(reg, nil)
//
//	p, err := pool.New(address, settings, factory, pool.WithObserver(collector))
//	if err != nil {
//	    return err
//	}
//
//	if err := collector.Watch(p); err != nil {
//	    return err
//	}
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/actual-software/connpool/internal/pool"
	common "github.com/actual-software/connpool/pkg/common/metrics"
)

// Collector holds the pool and monitor metrics.
type Collector struct {
	registerer prometheus.Registerer

	// Event metrics
	EventsTotal        *prometheus.CounterVec
	ConnectionsCreated *prometheus.CounterVec
	ConnectionsClosed  *prometheus.CounterVec
	CheckoutsTotal     *prometheus.CounterVec
	CheckoutWait       *prometheus.HistogramVec
	ClearsTotal        *prometheus.CounterVec

	// Monitor metrics
	HeartbeatsTotal   *prometheus.CounterVec
	HeartbeatDuration *prometheus.HistogramVec
}

// NewCollector creates the metrics on reg. Every series carries constLabels.
func NewCollector(reg prometheus.Registerer, constLabels prometheus.Labels) *Collector {
	if len(constLabels) > 0 {
		reg = prometheus.WrapRegistererWith(constLabels, reg)
	}

	factory := promauto.With(reg)

	c := &Collector{registerer: reg}
	c.EventsTotal, c.ConnectionsCreated, c.ConnectionsClosed, c.ClearsTotal = createEventMetrics(factory)
	c.CheckoutsTotal, c.CheckoutWait = createCheckoutMetrics(factory)
	c.HeartbeatsTotal, c.HeartbeatDuration = createMonitorMetrics(factory)

	return c
}

func createEventMetrics(factory promauto.Factory) (
	*prometheus.CounterVec,
	*prometheus.CounterVec,
	*prometheus.CounterVec,
	*prometheus.CounterVec,
) {
	events := factory.NewCounterVec(prometheus.CounterOpts{
		Name: common.PoolMetric(common.MetricEventsTotal),
		Help: "Total pool lifecycle events by type",
	}, []string{common.LabelAddress, common.LabelType})
	created := factory.NewCounterVec(prometheus.CounterOpts{
		Name: common.PoolMetric(common.MetricConnectionsCreated),
		Help: "Total connections established",
	}, []string{common.LabelAddress})
	closed := factory.NewCounterVec(prometheus.CounterOpts{
		Name: common.PoolMetric(common.MetricConnectionsClosed),
		Help: "Total connections closed by reason",
	}, []string{common.LabelAddress, common.LabelReason})
	clears := factory.NewCounterVec(prometheus.CounterOpts{
		Name: common.PoolMetric(common.MetricPoolClearsTotal),
		Help: "Total pool clears",
	}, []string{common.LabelAddress})

	return events, created, closed, clears
}

func createCheckoutMetrics(factory promauto.Factory) (*prometheus.CounterVec, *prometheus.HistogramVec) {
	checkouts := factory.NewCounterVec(prometheus.CounterOpts{
		Name: common.PoolMetric(common.MetricCheckoutsTotal),
		Help: "Total checkouts by status and error kind",
	}, []string{common.LabelAddress, common.LabelStatus, common.LabelKind})
	wait := factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    common.PoolMetric(common.MetricCheckoutWaitSeconds),
		Help:    "Time spent in CheckOut in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{common.LabelAddress, common.LabelStatus})

	return checkouts, wait
}

func createMonitorMetrics(factory promauto.Factory) (*prometheus.CounterVec, *prometheus.HistogramVec) {
	heartbeats := factory.NewCounterVec(prometheus.CounterOpts{
		Name: common.MonitorMetric(common.MetricHeartbeatsTotal),
		Help: "Total heartbeats by status",
	}, []string{common.LabelAddress, common.LabelStatus})
	duration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    common.MonitorMetric(common.MetricHeartbeatDurationSecs),
		Help:    "Heartbeat round trip time in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{common.LabelAddress})

	return heartbeats, duration
}

// HandleEvent implements pool.Observer.
func (c *Collector) HandleEvent(event pool.Event) {
	c.EventsTotal.WithLabelValues(event.Address, event.Type.String()).Inc()

	switch event.Type {
	case pool.EventConnectionCreated:
		c.ConnectionsCreated.WithLabelValues(event.Address).Inc()
	case pool.EventConnectionClosed:
		c.ConnectionsClosed.WithLabelValues(event.Address, event.Reason).Inc()
	case pool.EventCheckedOut:
		c.CheckoutsTotal.WithLabelValues(event.Address, common.StatusSuccess, "").Inc()
		c.CheckoutWait.WithLabelValues(event.Address, common.StatusSuccess).Observe(event.Duration.Seconds())
	case pool.EventCheckOutFailed:
		c.CheckoutsTotal.WithLabelValues(event.Address, common.StatusError, event.Reason).Inc()
		c.CheckoutWait.WithLabelValues(event.Address, common.StatusError).Observe(event.Duration.Seconds())
	case pool.EventPoolCleared:
		c.ClearsTotal.WithLabelValues(event.Address).Inc()
	case pool.EventCheckedIn, pool.EventPoolReady, pool.EventPoolClosed:
	}
}

// RecordHeartbeat records one monitor heartbeat against address.
func (c *Collector) RecordHeartbeat(address string, duration time.Duration, err error) {
	status := common.StatusSuccess
	if err != nil {
		status = common.StatusError
	}

	c.HeartbeatsTotal.WithLabelValues(address, status).Inc()
	c.HeartbeatDuration.WithLabelValues(address).Observe(duration.Seconds())
}

// Watch registers gauges that read p.Stats at scrape time.
func (c *Collector) Watch(p *pool.Pool) error {
	return c.registerer.Register(newStatsCollector(p))
}
