package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateWireLayout(t *testing.T) {
	got, err := ParseDate("2024-06-28")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC), got)
}

func TestParseDateRFC3339(t *testing.T) {
	got, err := ParseDate("2024-06-28T15:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, 15, got.UTC().Hour())
}

func TestParseDateRejectsJunk(t *testing.T) {
	_, err := ParseDate("28/06/2024")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2006-01-02")
}

func TestFormatDateNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	early := time.Date(2024, 6, 28, 3, 0, 0, 0, loc)
	assert.Equal(t, "2024-06-27", FormatDate(early))
}

func TestParseDateFormatRoundTrip(t *testing.T) {
	asOf, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", FormatDate(asOf))
}
