package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinScreen/internal/domain/models"
)

func TestRecorderAggregates(t *testing.T) {
	r := NewRecorder()

	r.Count("assets_screened", 10, nil)
	r.Count("assets_screened", 5, nil)
	r.Gauge("context_size_mb", 42.5, nil)
	r.Timing("stage_duration", 1500*time.Millisecond, map[string]string{"stage": "structural"})

	snap := r.Snapshot()

	require.Contains(t, snap, "assets_screened")
	assert.Equal(t, int64(2), snap["assets_screened"].Count)
	assert.Equal(t, 15.0, snap["assets_screened"].Total)
	assert.Equal(t, 5.0, snap["assets_screened"].Last)

	require.Contains(t, snap, "context_size_mb")
	assert.Equal(t, 42.5, snap["context_size_mb"].Last)

	require.Contains(t, snap, "stage_duration_ms{stage=structural}")
	assert.Equal(t, 1500.0, snap["stage_duration_ms{stage=structural}"].Last)
}

func TestRecorderLabelOrderCanonical(t *testing.T) {
	r := NewRecorder()

	r.Count("x", 1, map[string]string{"a": "1", "b": "2"})
	r.Count("x", 1, map[string]string{"b": "2", "a": "1"})

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, int64(2), snap["x{a=1,b=2}"].Count)
}

func TestRecorderSnapshotIsCopy(t *testing.T) {
	r := NewRecorder()
	r.Count("x", 1, nil)

	snap := r.Snapshot()
	snap["x"] = models.MetricSummary{Count: 99}

	assert.Equal(t, int64(1), r.Snapshot()["x"].Count)
}

func TestRecorderReset(t *testing.T) {
	r := NewRecorder()
	r.Count("x", 1, nil)

	r.Reset()

	assert.Empty(t, r.Snapshot())
}
