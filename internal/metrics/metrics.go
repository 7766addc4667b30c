package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the attribution service.
type Metrics struct {
	// Report metrics
	Requests      *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	RowsReturned  *prometheus.HistogramVec
	RequestErrors *prometheus.CounterVec

	// Archive metrics
	Builds        *prometheus.CounterVec
	BuildDuration *prometheus.HistogramVec
	RowsWritten   *prometheus.CounterVec
	LockSkips     *prometheus.CounterVec

	// HTTP metrics
	RateLimitHits *prometheus.CounterVec
	DBConnections *prometheus.GaugeVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_requests_total",
				Help:      "Report requests by operation and serving route",
			},
			[]string{"operation", "route"},
		),
		RequestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "report_latency_seconds",
				Help:      "Report latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 3, 10},
			},
			[]string{"operation"},
		),
		RowsReturned: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "report_rows",
				Help:      "Rows returned per report",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 9),
			},
			[]string{"operation"},
		),
		RequestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_errors_total",
				Help:      "Failed reports by operation and error kind",
			},
			[]string{"operation", "kind"},
		),

		Builds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_builds_total",
				Help:      "Archive builds by status",
			},
			[]string{"status"},
		),
		BuildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "archive_build_duration_seconds",
				Help:      "Archive build duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"period"},
		),
		RowsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_rows_written_total",
				Help:      "Rollup rows written by record",
			},
			[]string{"record"},
		),
		LockSkips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_lock_skips_total",
				Help:      "Builds skipped because another build held the archive lock",
			},
			[]string{"period"},
		),

		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint"},
		),
		DBConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics of a specific registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordRequest records a served report.
func (m *Metrics) RecordRequest(operation, route string, rows int, latency time.Duration) {
	m.Requests.WithLabelValues(operation, route).Inc()
	m.RequestLatency.WithLabelValues(operation).Observe(latency.Seconds())
	m.RowsReturned.WithLabelValues(operation).Observe(float64(rows))
}

// RecordRequestError records a failed report.
func (m *Metrics) RecordRequestError(operation, kind string) {
	m.RequestErrors.WithLabelValues(operation, kind).Inc()
}

// RecordBuild records an archive build.
func (m *Metrics) RecordBuild(period string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Builds.WithLabelValues(status).Inc()
	m.BuildDuration.WithLabelValues(period).Observe(duration.Seconds())
}

// RecordRowsWritten records rollup rows persisted for a record.
func (m *Metrics) RecordRowsWritten(record string, rows int) {
	m.RowsWritten.WithLabelValues(record).Add(float64(rows))
}

// RecordLockSkip records a build skipped on a held lock.
func (m *Metrics) RecordLockSkip(period string) {
	m.LockSkips.WithLabelValues(period).Inc()
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}
