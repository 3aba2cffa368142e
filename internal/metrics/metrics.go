// Package metrics provides Prometheus metrics for leostore
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for leostore.
// A nil *Metrics records nothing.
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Database metrics
	DbOperationsTotal   *prometheus.CounterVec
	DbOperationDuration *prometheus.HistogramVec

	// Extraction metrics
	SectionsParsedTotal prometheus.Counter
	RuleFaultsTotal     *prometheus.CounterVec

	// Document metrics
	UpsertsTotal        *prometheus.CounterVec
	DeltasAppendedTotal prometheus.Counter
	DeltaOpsTotal       *prometheus.CounterVec
	HistoryQueriesTotal *prometheus.CounterVec

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leostore_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leostore_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "leostore_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	m.DbOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leostore_db_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	m.DbOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leostore_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.SectionsParsedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "leostore_sections_parsed_total",
			Help: "Total number of page sections extracted",
		},
	)

	m.RuleFaultsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leostore_rule_faults_total",
			Help: "Total number of rule faults during extraction",
		},
		[]string{"kind"},
	)

	m.UpsertsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leostore_upserts_total",
			Help: "Total number of document upserts",
		},
		[]string{"class", "outcome"},
	)

	m.DeltasAppendedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "leostore_deltas_appended_total",
			Help: "Total number of deltas appended to document histories",
		},
	)

	m.DeltaOpsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leostore_delta_operations_total",
			Help: "Total number of delta operations recorded",
		},
		[]string{"op"},
	)

	m.HistoryQueriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leostore_history_queries_total",
			Help: "Total number of history queries",
		},
		[]string{"kind"},
	)

	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "leostore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	return m
}

// RunUptime updates the uptime gauge every 10 seconds until ctx is done.
func (m *Metrics) RunUptime(ctx context.Context) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		}
	}
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordDbOperation records a database operation
func (m *Metrics) RecordDbOperation(operation string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DbOperationsTotal.WithLabelValues(operation, status).Inc()
	m.DbOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordParse records one parsed page: its section count and the kinds of its faults
func (m *Metrics) RecordParse(sections int, faultKinds []string) {
	if m == nil {
		return
	}
	m.SectionsParsedTotal.Add(float64(sections))
	for _, kind := range faultKinds {
		m.RuleFaultsTotal.WithLabelValues(kind).Inc()
	}
}

// RecordUpsert records an upsert outcome (new, updated or unchanged) and the ops of its delta
func (m *Metrics) RecordUpsert(class, outcome string, ops []string) {
	if m == nil {
		return
	}
	m.UpsertsTotal.WithLabelValues(class, outcome).Inc()
	if len(ops) > 0 {
		m.DeltasAppendedTotal.Inc()
	}
	for _, op := range ops {
		m.DeltaOpsTotal.WithLabelValues(op).Inc()
	}
}

// RecordHistoryQuery records a history query of the given kind
func (m *Metrics) RecordHistoryQuery(kind string) {
	if m == nil {
		return
	}
	m.HistoryQueriesTotal.WithLabelValues(kind).Inc()
}
