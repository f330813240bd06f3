// Package observability provides Prometheus metrics for the pipeline and the
// query API.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Pipeline metrics
	RecordsRead       prometheus.Counter
	RecordsExcluded   *prometheus.CounterVec
	RecordsClassified *prometheus.CounterVec
	PipelineDuration  *prometheus.HistogramVec

	// Database metrics
	RowsInserted    *prometheus.CounterVec
	RowsSkipped     *prometheus.CounterVec
	DBQueryDuration *prometheus.HistogramVec

	// Queue metrics
	MessagesConsumed *prometheus.CounterVec
	MessageErrors    *prometheus.CounterVec

	// API metrics
	HTTPRequests *prometheus.CounterVec
	CacheLookups *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mobility"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,

		RecordsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_read_total",
			Help:      "Total number of raw trip records read",
		}),
		RecordsExcluded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_excluded_total",
			Help:      "Total number of records dropped during cleaning by reason",
		}, []string{"reason"}),
		RecordsClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_classified_total",
			Help:      "Total number of records classified by classifier and class",
		}, []string{"classifier", "class"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),

		RowsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "rows_inserted_total",
			Help:      "Total number of rows inserted by table",
		}, []string{"table"}),
		RowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "rows_skipped_total",
			Help:      "Total number of rows skipped on key conflict by table",
		}, []string{"table"}),
		DBQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries by operation",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),

		MessagesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "messages_consumed_total",
			Help:      "Total number of Kafka messages consumed by topic",
		}, []string{"topic"}),
		MessageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "message_errors_total",
			Help:      "Total number of Kafka messages that failed processing by stage",
		}, []string{"stage"}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status",
		}, []string{"route", "status"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "cache_lookups_total",
			Help:      "Total number of stats cache lookups by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RecordsRead,
		m.RecordsExcluded,
		m.RecordsClassified,
		m.PipelineDuration,
		m.RowsInserted,
		m.RowsSkipped,
		m.DBQueryDuration,
		m.MessagesConsumed,
		m.MessageErrors,
		m.HTTPRequests,
		m.CacheLookups,
	)

	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
