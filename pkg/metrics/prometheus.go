package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"FinScreen/pkg/cache"
	"FinScreen/pkg/resilience"
)

// Breaker states as gauge values.
const (
	breakerClosed   = 0
	breakerHalfOpen = 1
	breakerOpen     = 2
)

// Recorder exports process-level gauges to Prometheus: cache occupancy,
// circuit breaker states and provider fetch latency. Run-scoped screening
// metrics are registered by the screening service, not here.
type Recorder struct {
	cacheEntries   *prometheus.GaugeVec
	cacheSizeBytes *prometheus.GaugeVec
	cacheHits      *prometheus.GaugeVec
	cacheMisses    *prometheus.GaugeVec
	cacheEvictions *prometheus.GaugeVec
	breakerState   *prometheus.GaugeVec
	fetchDuration  *prometheus.HistogramVec
}

// New creates a Recorder registered against the default registry.
func New() *Recorder {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates a Recorder registered against reg.
func NewWith(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		cacheEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finscreen_cache_entries",
				Help: "Entries currently held by a cache",
			},
			[]string{"cache"},
		),
		cacheSizeBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finscreen_cache_size_bytes",
				Help: "Bytes currently held by a cache",
			},
			[]string{"cache"},
		),
		cacheHits: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finscreen_cache_hits",
				Help: "Cumulative cache hits as reported by the cache",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finscreen_cache_misses",
				Help: "Cumulative cache misses as reported by the cache",
			},
			[]string{"cache"},
		),
		cacheEvictions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finscreen_cache_evictions",
				Help: "Cumulative cache evictions as reported by the cache",
			},
			[]string{"cache"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finscreen_breaker_state",
				Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
			},
			[]string{"name"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finscreen_provider_fetch_duration_seconds",
				Help:    "Latency of provider fetches that missed the cache",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// ObserveCache publishes one cache's counters under its name.
func (r *Recorder) ObserveCache(name string, stats cache.Stats) {
	r.cacheEntries.WithLabelValues(name).Set(float64(stats.Entries))
	r.cacheSizeBytes.WithLabelValues(name).Set(float64(stats.SizeBytes))
	r.cacheHits.WithLabelValues(name).Set(float64(stats.Hits))
	r.cacheMisses.WithLabelValues(name).Set(float64(stats.Misses))
	r.cacheEvictions.WithLabelValues(name).Set(float64(stats.Evictions))
}

// ObserveBreakers publishes the state of every circuit in the snapshot.
func (r *Recorder) ObserveBreakers(statuses []resilience.BreakerStatus) {
	for _, st := range statuses {
		r.breakerState.WithLabelValues(st.Name).Set(breakerStateValue(st.State))
	}
}

// ObserveFetch records one provider fetch that went to the backing store.
func (r *Recorder) ObserveFetch(operation string, seconds float64) {
	r.fetchDuration.WithLabelValues(operation).Observe(seconds)
}

func breakerStateValue(state string) float64 {
	switch state {
	case resilience.StateOpen.String():
		return breakerOpen
	case resilience.StateHalfOpen.String():
		return breakerHalfOpen
	default:
		return breakerClosed
	}
}
