package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// BulkLookupsTotal counts settled bulk lookups by inferred courier and outcome.
	BulkLookupsTotal *prometheus.CounterVec
	// BulkLookupLatency records lookup latency in milliseconds by outcome.
	BulkLookupLatency *prometheus.HistogramVec
	// BulkLookupsInFlight tracks lookups currently awaiting the provider.
	BulkLookupsInFlight prometheus.Gauge
	// BulkRunsTotal counts finished bulk runs by outcome (completed, cancelled).
	BulkRunsTotal *prometheus.CounterVec
	// TrackingCacheTotal counts tracking cache lookups by result (hit, miss, error).
	TrackingCacheTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers the bulk tracking
// collectors. Only the first call has an effect.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		BulkLookupsTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_lookups_total",
			Help:      "Count of settled bulk tracking lookups by courier and outcome.",
		}, []string{"courier", "result"}))
		BulkLookupLatency = registerOrReuse(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bulk_lookup_duration_ms",
			Help:      "Latency for bulk tracking lookups in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
		}, []string{"result"}))
		BulkLookupsInFlight = registerOrReuse(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bulk_lookups_in_flight",
			Help:      "Number of bulk tracking lookups awaiting the provider.",
		}))
		BulkRunsTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_runs_total",
			Help:      "Count of finished bulk tracking runs by outcome.",
		}, []string{"outcome"}))
		TrackingCacheTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_cache_total",
			Help:      "Count of tracking cache lookups by result.",
		}, []string{"result"}))
	})
}
