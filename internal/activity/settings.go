package activity

import (
	"encoding/json"
	"fmt"
	"math"
)

// Settings holds the process-wide tracker settings.
type Settings struct {
	StepsPerUnit int `json:"stepsPerUnit" yaml:"stepsPerUnit" toml:"stepsPerUnit"`
}

// DefaultSettings returns the settings used before anything was stored.
func DefaultSettings() Settings {
	return Settings{StepsPerUnit: DefaultStepsPerUnit}
}

// Validate rejects non-positive conversion factors.
func (s Settings) Validate() error {
	if s.StepsPerUnit <= 0 {
		return fmt.Errorf("%w: steps per unit must be a positive integer (got %d)", ErrInvalidInput, s.StepsPerUnit)
	}
	return nil
}

// StepsFor converts a distance into a rounded step count.
func (s Settings) StepsFor(miles float64) int {
	return int(math.Round(miles * float64(s.StepsPerUnit)))
}

// UnmarshalJSON accepts both the current key and the legacy stepsPerMile key
// written by older clients.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var raw struct {
		StepsPerUnit *int `json:"stepsPerUnit"`
		StepsPerMile *int `json:"stepsPerMile"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.StepsPerUnit != nil:
		s.StepsPerUnit = *raw.StepsPerUnit
	case raw.StepsPerMile != nil:
		s.StepsPerUnit = *raw.StepsPerMile
	default:
		s.StepsPerUnit = 0
	}
	return nil
}
