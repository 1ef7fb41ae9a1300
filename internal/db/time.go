package db

import "time"

// TimeLayout is the fixed-width UTC layout used for every timestamp column.
// Fixed width keeps lexical order equal to chronological order on both drivers.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout as well as the formats the drivers emit for
// CURRENT_TIMESTAMP. An empty string yields the zero time.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
