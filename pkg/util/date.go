package util

import (
	"strconv"
	"time"
)

// Bar timestamps are read as date-time first, then as date only.
var barLayouts = []string{time.DateTime, time.DateOnly}

// ParseBarTime parses a bar timestamp in UTC.
func ParseBarTime(s string) (time.Time, bool) {
	for _, layout := range barLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseTime tries the bar layouts, RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, ok := ParseBarTime(s); ok {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}
