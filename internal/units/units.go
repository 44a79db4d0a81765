// Package units converts result concentrations and timestamps for display.
package units

import (
	"fmt"
	"strings"
	"time"
)

// Concentration units. Results are computed in ng/ul, which equals ug/ml.
const (
	NgPerUl = "ng/ul"
	UgPerMl = "ug/ml"
	UgPerUl = "ug/ul"
	NgPerMl = "ng/ml"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{NgPerUl, UgPerMl, UgPerUl, NgPerMl}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertConcentration converts a concentration in ng/ul to the target units.
// Unknown units leave the value in ng/ul.
func ConvertConcentration(ngPerUl float64, targetUnits string) float64 {
	switch targetUnits {
	case UgPerUl:
		return ngPerUl / 1000
	case NgPerMl:
		return ngPerUl * 1000
	default:
		return ngPerUl
	}
}

// IsTimezoneValid reports whether tz names a location in the tz database.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// ConvertTime converts a UTC record timestamp to the specified timezone.
func ConvertTime(utcTime time.Time, targetTimezone string) (time.Time, error) {
	if targetTimezone == "" || targetTimezone == "UTC" {
		return utcTime, nil
	}
	loc, err := time.LoadLocation(targetTimezone)
	if err != nil {
		return utcTime, fmt.Errorf("failed to load timezone %s: %w", targetTimezone, err)
	}
	return utcTime.In(loc), nil
}
