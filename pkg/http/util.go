package http

import (
	"time"

	xutil "FinScreen/pkg/util"
)

// Query-parameter parsing helpers, re-exported so handlers only import
// this package.

// ParseIntDefault returns the parsed int, or def when s is empty or junk.
func ParseIntDefault(s string, def int) int { return xutil.ParseIntDefault(s, def) }

// ParseTime accepts RFC3339, RFC3339Nano or unix seconds. ok reports
// whether any layout matched.
func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }

// ParseTimeDefault returns the parsed time, or def when s is empty or junk.
func ParseTimeDefault(s string, def time.Time) time.Time { return xutil.ParseTimeDefault(s, def) }
