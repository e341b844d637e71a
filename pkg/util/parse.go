package util

import (
	"strconv"
	"time"
)

// Lenient parsers for query parameters and other untrusted inputs. Each
// falls back to a caller default instead of reporting an error.

// ParseIntDefault returns the parsed int, or def when s is empty or junk.
func ParseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// ParseTime accepts RFC3339, RFC3339Nano or positive unix seconds. ok
// reports whether any layout matched.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault returns the parsed time, or def when s is empty or junk.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}
