package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntDefault(t *testing.T) {
	assert.Equal(t, 25, ParseIntDefault("25", 10))
	assert.Equal(t, 10, ParseIntDefault("", 10))
	assert.Equal(t, 10, ParseIntDefault("many", 10))
	assert.Equal(t, -3, ParseIntDefault("-3", 10))
}

func TestParseTimeRFC3339(t *testing.T) {
	got, ok := ParseTime("2024-10-10T10:10:10Z")
	require.True(t, ok)
	assert.Equal(t, "2024-10-10T10:10:10Z", got.UTC().Format(time.RFC3339))
}

func TestParseTimeUnixSeconds(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	require.True(t, ok)
	assert.Equal(t, ts, got.Unix())
}

func TestParseTimeRejectsJunk(t *testing.T) {
	for _, s := range []string{"", "yesterday", "-42"} {
		_, ok := ParseTime(s)
		assert.False(t, ok, "input %q", s)
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	assert.True(t, ParseTimeDefault("", def).Equal(def))

	got := ParseTimeDefault("2024-12-01T00:00:00Z", def)
	assert.Equal(t, 12, int(got.UTC().Month()))
}
