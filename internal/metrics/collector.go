package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// EngineStats provides the metrics collector access to live engine state.
type EngineStats interface {
	ActiveJobCount() int
	OpenSessionCount() int
	SSESubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	stats EngineStats

	// Descriptors for scrape-time gauges.
	activeJobs      *prometheus.Desc
	openSessions    *prometheus.Desc
	sseSubscribers  *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil (metrics will report 0). stats may be nil before the engine
// is wired up.
func NewCollector(pool *pgxpool.Pool, stats EngineStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		activeJobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_jobs"),
			"Current number of jobs being polled.",
			nil, nil,
		),
		openSessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "open_sessions"),
			"Current number of open edit sessions.",
			nil, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE subscribers.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeJobs
	ch <- c.openSessions
	ch <- c.sseSubscribers
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	// Engine stats
	if c.stats != nil {
		ch <- prometheus.MustNewConstMetric(c.activeJobs, prometheus.GaugeValue, float64(c.stats.ActiveJobCount()))
		ch <- prometheus.MustNewConstMetric(c.openSessions, prometheus.GaugeValue, float64(c.stats.OpenSessionCount()))
		ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, float64(c.stats.SSESubscriberCount()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.activeJobs, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.openSessions, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, 0)
	}

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
