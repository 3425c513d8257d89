package store

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeMetricsOnce ensures metrics are only initialized once.
var storeMetricsOnce sync.Once

// storeMetricsInstance is the singleton instance of store metrics.
var storeMetricsInstance *Metrics

// Metrics holds all Prometheus metrics for the namespace server.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec   // idclaim_store_requests_total{operation,status}
	RequestDuration *prometheus.HistogramVec // idclaim_store_request_duration_seconds{operation}

	NamespacesTotal prometheus.Gauge // idclaim_store_namespaces_total
	RecordsTotal    prometheus.Gauge // idclaim_store_records_total
}

// InitMetrics initializes all namespace-server metrics.
// Metrics are only registered once; subsequent calls return the same instance.
func InitMetrics(registry prometheus.Registerer) *Metrics {
	storeMetricsOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		storeMetricsInstance = &Metrics{
			RequestsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "idclaim_store_requests_total",
				Help: "Total namespace server requests by operation and status",
			}, []string{"operation", "status"}),

			RequestDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
				Name:    "idclaim_store_request_duration_seconds",
				Help:    "Namespace server request duration in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"operation"}),

			NamespacesTotal: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "idclaim_store_namespaces_total",
				Help: "Total number of namespaces",
			}),

			RecordsTotal: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "idclaim_store_records_total",
				Help: "Total number of claim records across all namespaces",
			}),
		}
	})

	return storeMetricsInstance
}

// GetMetrics returns the singleton store metrics instance.
// Returns nil if metrics have not been initialized.
func GetMetrics() *Metrics {
	return storeMetricsInstance
}

// RecordRequest records a request metric.
func (m *Metrics) RecordRequest(operation, status string, durationSeconds float64) {
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// UpdateStorageMetrics updates the namespace and record gauges.
func (m *Metrics) UpdateStorageMetrics(namespaces, records int) {
	m.NamespacesTotal.Set(float64(namespaces))
	m.RecordsTotal.Set(float64(records))
}
