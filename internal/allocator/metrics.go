package allocator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// allocMetricsOnce ensures metrics are only initialized once.
var allocMetricsOnce sync.Once

// allocMetricsInstance is the singleton instance of allocator metrics.
var allocMetricsInstance *Metrics

// Metrics holds all Prometheus metrics for the allocator.
type Metrics struct {
	AttemptsTotal   prometheus.Counter   // idclaim_allocator_claim_attempts_total
	RacesTotal      prometheus.Counter   // idclaim_allocator_claim_races_total
	AcquireDuration prometheus.Histogram // idclaim_allocator_acquire_duration_seconds

	ReleasesTotal        prometheus.Counter // idclaim_allocator_releases_total
	ReleaseFailuresTotal prometheus.Counter // idclaim_allocator_release_failures_total

	HeldID prometheus.Gauge // idclaim_allocator_held_id (0 = none)
}

// InitMetrics initializes all allocator metrics.
// Metrics are only registered once; subsequent calls return the same instance.
func InitMetrics(registry prometheus.Registerer) *Metrics {
	allocMetricsOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		allocMetricsInstance = &Metrics{
			AttemptsTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "idclaim_allocator_claim_attempts_total",
				Help: "Total conditional create attempts during acquisition",
			}),

			RacesTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "idclaim_allocator_claim_races_total",
				Help: "Total conditional creates lost to a concurrent claimant",
			}),

			AcquireDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
				Name:    "idclaim_allocator_acquire_duration_seconds",
				Help:    "Time spent acquiring the instance ID",
				Buckets: prometheus.DefBuckets,
			}),

			ReleasesTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "idclaim_allocator_releases_total",
				Help: "Total instance ID releases attempted at shutdown",
			}),

			ReleaseFailuresTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "idclaim_allocator_release_failures_total",
				Help: "Total failed instance ID releases (slot leaked)",
			}),

			HeldID: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "idclaim_allocator_held_id",
				Help: "Instance ID currently held by this process (0 = none)",
			}),
		}
	})

	return allocMetricsInstance
}

// GetMetrics returns the singleton allocator metrics instance.
// Returns nil if metrics have not been initialized.
func GetMetrics() *Metrics {
	return allocMetricsInstance
}
