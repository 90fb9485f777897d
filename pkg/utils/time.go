package utils

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Now returns the current time in UTC timezone
func Now() time.Time {
	return time.Now().UTC()
}

// UnixToTime converts a unix timestamp to a UTC time.Time
func UnixToTime(timestamp int64) time.Time {
	if timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(timestamp, 0).UTC()
}

// UnixToTimeWithMilliseconds converts a unix timestamp with milliseconds to a UTC time.Time
func UnixToTimeWithMilliseconds(timestamp int64) time.Time {
	if timestamp <= 0 {
		return time.Time{}
	}
	seconds := timestamp / 1000
	nanos := (timestamp % 1000) * 1000000
	return time.Unix(seconds, nanos).UTC()
}

// FormatISO8601 formats a time.Time to ISO8601 format in UTC
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// unix values above this are treated as milliseconds
const millisThreshold = 1e11

// ParseFlexibleTime accepts RFC3339 strings, numeric strings and JSON numbers
// holding unix seconds or milliseconds. It returns nil when nothing usable is found.
func ParseFlexibleTime(v interface{}) *time.Time {
	var n float64
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		if val.IsZero() {
			return nil
		}
		t := val.UTC()
		return &t
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z0700", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				t = t.UTC()
				return &t
			}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		n = f
	case float64:
		n = val
	case int64:
		n = float64(val)
	case int:
		n = float64(val)
	default:
		return nil
	}

	if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	var t time.Time
	if n >= millisThreshold {
		t = UnixToTimeWithMilliseconds(int64(n))
	} else {
		t = UnixToTime(int64(n))
	}
	return &t
}
