package timeparser

import (
	"testing"
	"time"
)

func TestParseObservationTimestamp_Offset(t *testing.T) {
	result, err := ParseObservationTimestamp("2024-05-01T07:53:00-05:00")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2024, 5, 1, 12, 53, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
	if result.Location() != time.UTC {
		t.Errorf("Expected UTC location, got %v", result.Location())
	}
}

func TestParseObservationTimestamp_Fractional(t *testing.T) {
	result, err := ParseObservationTimestamp("2024-05-01T12:53:00.5+00:00")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2024, 5, 1, 12, 53, 0, 500_000_000, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseObservationTimestamp_NoZone(t *testing.T) {
	result, err := ParseObservationTimestamp("2024-05-01T12:53:00")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2024, 5, 1, 12, 53, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseObservationTimestamp_Invalid(t *testing.T) {
	if _, err := ParseObservationTimestamp("yesterday"); err == nil {
		t.Error("Expected error for invalid timestamp")
	}
}

func TestFormatStartParam(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	ts := time.Date(2024, 5, 1, 7, 53, 12, 999, loc)

	got := FormatStartParam(ts)
	if got != "2024-05-01T12:53:12+00:00" {
		t.Errorf("Unexpected start param %q", got)
	}
}

func TestHalfOf(t *testing.T) {
	tests := []struct {
		d, ceiling, want time.Duration
	}{
		{10 * time.Minute, 20 * time.Minute, 5 * time.Minute},
		{2 * time.Hour, 20 * time.Minute, 20 * time.Minute},
		{40 * time.Minute, 20 * time.Minute, 20 * time.Minute},
		{0, 20 * time.Minute, 0},
	}

	for _, tt := range tests {
		if got := HalfOf(tt.d, tt.ceiling); got != tt.want {
			t.Errorf("HalfOf(%v, %v) = %v, want %v", tt.d, tt.ceiling, got, tt.want)
		}
	}
}
