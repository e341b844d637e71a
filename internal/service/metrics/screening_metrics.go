package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	ScreeningRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finscreen",
			Subsystem: "screening",
			Name:      "runs_total",
			Help:      "Screening runs by asset class and status",
		},
		[]string{"class", "status"},
	)

	ScreeningDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finscreen",
			Subsystem: "screening",
			Name:      "run_duration_seconds",
			Help:      "End-to-end screening run latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"class"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finscreen",
			Subsystem: "screening",
			Name:      "stage_duration_seconds",
			Help:      "Per-stage execution latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	UniverseSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "finscreen",
			Subsystem: "screening",
			Name:      "universe_size",
			Help:      "Input and output universe sizes of the last run",
		},
		[]string{"class", "side"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finscreen",
			Subsystem: "provider",
			Name:      "cache_lookups_total",
			Help:      "Provider cache lookups by operation and result",
		},
		[]string{"operation", "result"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(ScreeningRuns, ScreeningDuration, StageDuration, UniverseSize, CacheLookups)
	})
}
