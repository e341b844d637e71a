package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinScreen/pkg/cache"
	"FinScreen/pkg/resilience"
)

func TestRecorderObserveCache(t *testing.T) {
	r := NewWith(prometheus.NewRegistry())

	r.ObserveCache("provider", cache.Stats{
		Hits:      7,
		Misses:    3,
		Evictions: 1,
		Entries:   42,
		SizeBytes: 2048,
	})

	assert.Equal(t, 42.0, testutil.ToFloat64(r.cacheEntries.WithLabelValues("provider")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(r.cacheSizeBytes.WithLabelValues("provider")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.cacheHits.WithLabelValues("provider")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.cacheMisses.WithLabelValues("provider")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheEvictions.WithLabelValues("provider")))
}

func TestRecorderObserveCacheOverwrites(t *testing.T) {
	r := NewWith(prometheus.NewRegistry())

	r.ObserveCache("provider", cache.Stats{Entries: 10})
	r.ObserveCache("provider", cache.Stats{Entries: 4})

	assert.Equal(t, 4.0, testutil.ToFloat64(r.cacheEntries.WithLabelValues("provider")))
}

func TestRecorderObserveBreakers(t *testing.T) {
	r := NewWith(prometheus.NewRegistry())

	r.ObserveBreakers([]resilience.BreakerStatus{
		{Name: "market_data", State: "open"},
		{Name: "metadata", State: "closed"},
		{Name: "quality", State: "half_open"},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.breakerState.WithLabelValues("market_data")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.breakerState.WithLabelValues("metadata")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.breakerState.WithLabelValues("quality")))
}

func TestRecorderObserveFetch(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWith(reg)

	r.ObserveFetch("market_data", 0.25)
	r.ObserveFetch("market_data", 0.75)
	r.ObserveFetch("metadata", 0.1)

	require.Equal(t, 2, testutil.CollectAndCount(reg, "finscreen_provider_fetch_duration_seconds"))
}
