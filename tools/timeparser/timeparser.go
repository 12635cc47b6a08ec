package timeparser

import (
	"fmt"
	"strings"
	"time"
)

// StartParamLayout is the layout weather.gov expects for the observations
// "start" query parameter.
const StartParamLayout = "2006-01-02T15:04:05-07:00"

// ParseObservationTimestamp parses a weather.gov timestamp and normalises it to UTC
func ParseObservationTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,      // 2024-05-01T12:53:00+00:00, fractional seconds optional
		"2006-01-02T15:04:05", // zone-less, treated as UTC
		"2006-01-02T15:04Z07:00",
	}

	s = strings.TrimSpace(s)
	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", s, lastErr)
}

// FormatStartParam renders a cursor for the observations endpoint
func FormatStartParam(t time.Time) string {
	return t.UTC().Format(StartParamLayout)
}

// HalfOf returns half of d, capped at ceiling
func HalfOf(d, ceiling time.Duration) time.Duration {
	half := d / 2
	if half > ceiling {
		return ceiling
	}
	return half
}
