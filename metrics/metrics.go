// Package metrics exposes connection pool statistics and registry events as
// Prometheus metrics.
//
// # Basic Usage
//
//	reg, _ := core.NewRegistry(...)
//	collector := metrics.NewCollector(reg)
//	prometheus.MustRegister(collector)
//
// To also count reconnects, leaks and statement latencies, pass the
// collector as the registry's observer:
//
//	collector := metrics.NewCollector(nil)
//	reg, _ := core.NewRegistry(core.WithObserver(collector))
//	collector.SetSource(reg)
package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shrek82/dbutil/core"
)

const namespace = "dbutil"

// StatsSource reports pool statistics per datasource. *core.Registry
// implements it.
type StatsSource interface {
	Stats() map[string]sql.DBStats
}

var (
	openDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "open_connections"),
		"Established connections, in use and idle.",
		[]string{"datasource"}, nil)
	inUseDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "in_use_connections"),
		"Connections currently checked out.",
		[]string{"datasource"}, nil)
	idleDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "idle_connections"),
		"Idle connections.",
		[]string{"datasource"}, nil)
	maxOpenDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "max_open_connections"),
		"Configured maximum pool size.",
		[]string{"datasource"}, nil)
	waitCountDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "wait_count_total"),
		"Checkouts that had to wait for a connection.",
		[]string{"datasource"}, nil)
	waitDurationDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "wait_duration_seconds_total"),
		"Total time spent waiting for a connection.",
		[]string{"datasource"}, nil)
	maxIdleClosedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "max_idle_time_closed_total"),
		"Connections closed for exceeding the idle timeout.",
		[]string{"datasource"}, nil)
	maxLifetimeClosedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "max_lifetime_closed_total"),
		"Connections closed for exceeding the maximum lifetime.",
		[]string{"datasource"}, nil)
)

// Collector is a prometheus.Collector for pool statistics and a
// core.Observer for registry events.
type Collector struct {
	mu     sync.RWMutex
	source StatsSource

	poolsCreated *prometheus.CounterVec
	reconnects   *prometheus.CounterVec
	leaks        *prometheus.CounterVec
	statements   *prometheus.HistogramVec
}

var _ core.Observer = (*Collector)(nil)

// NewCollector creates a collector reading pool stats from source, which may
// be nil until SetSource is called.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		poolsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "created_total",
			Help:      "Pools built, including rebuilds.",
		}, []string{"datasource"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "reconnects_total",
			Help:      "Pool rebuilds after a failed checkout.",
		}, []string{"datasource"}),
		leaks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "leaks_suspected_total",
			Help:      "Connections held past the leak detection threshold.",
		}, []string{"datasource"}),
		statements: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "statement_duration_seconds",
			Help:      "Statement latency by kind and result.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"datasource", "kind", "result"}),
	}
}

// SetSource sets where pool statistics are read from.
func (c *Collector) SetSource(source StatsSource) {
	c.mu.Lock()
	c.source = source
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- openDesc
	ch <- inUseDesc
	ch <- idleDesc
	ch <- maxOpenDesc
	ch <- waitCountDesc
	ch <- waitDurationDesc
	ch <- maxIdleClosedDesc
	ch <- maxLifetimeClosedDesc
	c.poolsCreated.Describe(ch)
	c.reconnects.Describe(ch)
	c.leaks.Describe(ch)
	c.statements.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	source := c.source
	c.mu.RUnlock()

	if source != nil {
		for name, s := range source.Stats() {
			gauge := func(d *prometheus.Desc, v float64) {
				ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, name)
			}
			counter := func(d *prometheus.Desc, v float64) {
				ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, name)
			}
			gauge(openDesc, float64(s.OpenConnections))
			gauge(inUseDesc, float64(s.InUse))
			gauge(idleDesc, float64(s.Idle))
			gauge(maxOpenDesc, float64(s.MaxOpenConnections))
			counter(waitCountDesc, float64(s.WaitCount))
			counter(waitDurationDesc, s.WaitDuration.Seconds())
			counter(maxIdleClosedDesc, float64(s.MaxIdleTimeClosed))
			counter(maxLifetimeClosedDesc, float64(s.MaxLifetimeClosed))
		}
	}

	c.poolsCreated.Collect(ch)
	c.reconnects.Collect(ch)
	c.leaks.Collect(ch)
	c.statements.Collect(ch)
}

func (c *Collector) PoolCreated(datasource string) {
	c.poolsCreated.WithLabelValues(datasource).Inc()
}

func (c *Collector) Reconnected(datasource string, _ error) {
	c.reconnects.WithLabelValues(datasource).Inc()
}

func (c *Collector) LeakSuspected(datasource string, _ time.Duration) {
	c.leaks.WithLabelValues(datasource).Inc()
}

func (c *Collector) StatementDone(datasource string, kind core.StatementKind, took time.Duration, err error) {
	c.statements.WithLabelValues(datasource, string(kind), result(err)).Observe(took.Seconds())
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case core.IsConnectivity(err):
		return "connection_error"
	}
	return "error"
}
