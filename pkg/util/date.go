package util

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for point-in-time screening dates.
const DateLayout = "2006-01-02"

// ParseDate accepts the date-only wire layout or a full RFC3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q: want %s or RFC3339", s, DateLayout)
}

// FormatDate renders the date-only wire layout in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
