// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing,
// which keeps engine code free of nil checks in tests.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	DBOperationDuration *prometheus.HistogramVec
	SchemaChanges       *prometheus.CounterVec

	ReportSaves        *prometheus.CounterVec
	IdentitySuffixes   *prometheus.CounterVec
	TrackingFailures   prometheus.Counter
	AuthAttempts       *prometheus.CounterVec
	ExpiredRowsDeleted prometheus.Counter
}

// New registers all collectors on a fresh registry using the given name prefix.
func New(prefix string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		DBOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_db_operation_duration_seconds",
				Help:    "Duration of database operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation_type"},
		),
		SchemaChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_tenant_schema_changes_total",
				Help: "DDL statements applied to tenant tables",
			},
			[]string{"kind"},
		),
		ReportSaves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_report_saves_total",
				Help: "Report saves by outcome",
			},
			[]string{"outcome"},
		),
		IdentitySuffixes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_report_identity_suffixes_total",
				Help: "Primary field values rewritten by collision or visit numbering",
			},
			[]string{"mode"},
		),
		TrackingFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_performance_tracking_failures_total",
				Help: "Performance tracker upserts that failed",
			},
		),
		AuthAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_auth_attempts_total",
				Help: "Sign-in attempts by result",
			},
			[]string{"result"},
		),
		ExpiredRowsDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_cleanup_deleted_rows_total",
				Help: "Rows removed by the cleanup timer",
			},
		),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// TrackDBOperation returns a func that observes the elapsed time when called.
//
//	defer m.TrackDBOperation("insert_report")()
func (m *Metrics) TrackDBOperation(operation string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.DBOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// SchemaChange counts one applied DDL statement.
func (m *Metrics) SchemaChange(kind string) {
	if m == nil {
		return
	}
	m.SchemaChanges.WithLabelValues(kind).Inc()
}

// ReportSaved counts a save by outcome ("created" or "updated").
func (m *Metrics) ReportSaved(outcome string) {
	if m == nil {
		return
	}
	m.ReportSaves.WithLabelValues(outcome).Inc()
}

// IdentitySuffixed counts a rewritten primary field value ("collision" or "visit").
func (m *Metrics) IdentitySuffixed(mode string) {
	if m == nil {
		return
	}
	m.IdentitySuffixes.WithLabelValues(mode).Inc()
}

// TrackingFailed counts a failed performance upsert.
func (m *Metrics) TrackingFailed() {
	if m == nil {
		return
	}
	m.TrackingFailures.Inc()
}

// AuthAttempt counts a sign-in attempt ("success" or "failure").
func (m *Metrics) AuthAttempt(result string) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(result).Inc()
}

// RowsCleaned adds n to the cleanup counter.
func (m *Metrics) RowsCleaned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ExpiredRowsDeleted.Add(float64(n))
}
