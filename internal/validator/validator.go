package validator

import (
	"fmt"
	"strings"

	"github.com/septivank/station-observation-ingestor/internal/noaa"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

// Validator checks roster records before they become processors
type Validator struct{}

// NewValidator creates a new station validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateStation validates a single roster record
func (v *Validator) ValidateStation(station noaa.Station) ValidationResult {
	result := ValidationResult{IsValid: true}

	if station.ID == "" {
		result.IsValid = false
		result.Reason = "empty station id"
		return result
	}

	// The short id keys checkpoints and is placed in request paths
	if station.ShortID == "" {
		result.IsValid = false
		result.Reason = "empty station identifier"
		return result
	}
	if strings.ContainsAny(station.ShortID, "/?# ") {
		result.IsValid = false
		result.Reason = fmt.Sprintf("station identifier %q contains reserved characters", station.ShortID)
		return result
	}

	if station.Latitude != nil && (*station.Latitude < -90 || *station.Latitude > 90) {
		result.IsValid = false
		result.Reason = fmt.Sprintf("invalid latitude: %f", *station.Latitude)
		return result
	}

	if station.Longitude != nil && (*station.Longitude < -180 || *station.Longitude > 180) {
		result.IsValid = false
		result.Reason = fmt.Sprintf("invalid longitude: %f", *station.Longitude)
		return result
	}

	return result
}
