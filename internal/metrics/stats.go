package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/actual-software/connpool/internal/pool"
	common "github.com/actual-software/connpool/pkg/common/metrics"
)

// statsCollector exposes a pool's Stats snapshot as gauges.
type statsCollector struct {
	pool *pool.Pool

	inUse      *prometheus.Desc
	open       *prometheus.Desc
	pending    *prometheus.Desc
	waitQueue  *prometheus.Desc
	generation *prometheus.Desc
	paused     *prometheus.Desc
}

func newStatsCollector(p *pool.Pool) *statsCollector {
	labels := prometheus.Labels{common.LabelAddress: p.Address()}

	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(common.PoolMetric(metric), help, nil, labels)
	}

	return &statsCollector{
		pool:       p,
		inUse:      desc(common.MetricConnectionsInUse, "Connections currently checked out"),
		open:       desc(common.MetricConnectionsOpen, "Available plus in-use connections"),
		pending:    desc(common.MetricConnectionsPending, "Connections being established"),
		waitQueue:  desc(common.MetricWaitQueueLength, "Checkouts waiting for a connection"),
		generation: desc(common.MetricPoolGeneration, "Current pool generation"),
		paused:     desc(common.MetricPaused, "1 when the pool is paused or closed"),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inUse
	ch <- c.open
	ch <- c.pending
	ch <- c.waitQueue
	ch <- c.generation
	ch <- c.paused
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.pool.Stats()

	paused := 0.0
	if stats.State != pool.StateReady {
		paused = 1
	}

	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(stats.InUse))
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(stats.Available+stats.InUse))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(stats.Pending))
	ch <- prometheus.MustNewConstMetric(c.waitQueue, prometheus.GaugeValue, float64(stats.WaitQueueLength))
	ch <- prometheus.MustNewConstMetric(c.generation, prometheus.GaugeValue, float64(stats.Generation))
	ch <- prometheus.MustNewConstMetric(c.paused, prometheus.GaugeValue, paused)
}
