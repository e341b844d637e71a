package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"FinScreen/internal/domain/models"
	domrepo "FinScreen/internal/domain/repository"
)

// Recorder is the per-run MetricsCollector. It aggregates in memory and its
// snapshot lands in the ScreeningResult, so a run carries its own figures
// without touching the process-wide Prometheus state.
type Recorder struct {
	mutex   sync.Mutex
	entries map[string]models.MetricSummary
}

func NewRecorder() *Recorder {
	return &Recorder{entries: make(map[string]models.MetricSummary)}
}

// Timing records a duration in milliseconds under name + "_ms".
func (r *Recorder) Timing(name string, d time.Duration, labels map[string]string) {
	r.observe(metricKey(name+"_ms", labels), float64(d.Milliseconds()))
}

func (r *Recorder) Count(name string, n int64, labels map[string]string) {
	r.observe(metricKey(name, labels), float64(n))
}

func (r *Recorder) Gauge(name string, value float64, labels map[string]string) {
	r.observe(metricKey(name, labels), value)
}

// Snapshot copies the aggregates recorded so far.
func (r *Recorder) Snapshot() map[string]models.MetricSummary {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	out := make(map[string]models.MetricSummary, len(r.entries))
	for key, summary := range r.entries {
		out[key] = summary
	}
	return out
}

// Reset drops all recorded values.
func (r *Recorder) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.entries = make(map[string]models.MetricSummary)
}

func (r *Recorder) observe(key string, value float64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	summary := r.entries[key]
	summary.Count++
	summary.Total += value
	summary.Last = value
	r.entries[key] = summary
}

// metricKey renders name plus sorted labels, e.g. stage_duration_ms{stage=liquidity}.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%s", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// CacheObserver forwards the cached provider's hit/miss counts onto the
// process-wide cache_lookups_total vector. Other instruments are ignored.
type CacheObserver struct{}

func (CacheObserver) Timing(string, time.Duration, map[string]string) {}

func (CacheObserver) Count(name string, n int64, labels map[string]string) {
	var result string
	switch name {
	case "cache_hit":
		result = "hit"
	case "cache_miss":
		result = "miss"
	default:
		return
	}
	CacheLookups.WithLabelValues(labels["operation"], result).Add(float64(n))
}

func (CacheObserver) Gauge(string, float64, map[string]string) {}

func (CacheObserver) Snapshot() map[string]models.MetricSummary { return nil }

var (
	_ domrepo.MetricsCollector = (*Recorder)(nil)
	_ domrepo.MetricsCollector = CacheObserver{}
)
