// Package activity provides the data structures shared by the ledger, the
// aggregator and both persistence boundaries (local cache and remote store).
package activity

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar-date format used as the natural key.
const DateLayout = "2006-01-02"

// DefaultStepsPerUnit is the distance to step conversion used until the user
// or a remote update says otherwise.
const DefaultStepsPerUnit = 2000

// ErrInvalidInput marks validation failures on user-supplied values.
var ErrInvalidInput = errors.New("invalid input")

// Record is one day of activity. Date is unique across a ledger.
//
// Weight is nil when no weight was recorded that day; it is never zero.
// The JSON shape matches the data already stored by existing clients, and
// Weight is always written (as null when absent) because the remote store
// has no notion of an omitted field.
type Record struct {
	ID       string   `json:"id" yaml:"id" toml:"id"`
	Date     string   `json:"date" yaml:"date" toml:"date"`
	Miles    float64  `json:"miles" yaml:"miles" toml:"miles"`
	Steps    int      `json:"steps" yaml:"steps" toml:"steps"`
	Calories float64  `json:"calories" yaml:"calories" toml:"calories"`
	Weight   *float64 `json:"weight" yaml:"weight" toml:"weight,omitempty"`
}

// Validate checks that the record can live in a ledger.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if _, err := ParseDate(r.Date); err != nil {
		return err
	}
	if r.Miles < 0 || math.IsNaN(r.Miles) || math.IsInf(r.Miles, 0) {
		return fmt.Errorf("%w: miles must be a non-negative number (got %v)", ErrInvalidInput, r.Miles)
	}
	if r.Steps < 0 {
		return fmt.Errorf("%w: steps must be non-negative (got %d)", ErrInvalidInput, r.Steps)
	}
	if r.Calories < 0 || math.IsNaN(r.Calories) || math.IsInf(r.Calories, 0) {
		return fmt.Errorf("%w: calories must be a non-negative number (got %v)", ErrInvalidInput, r.Calories)
	}
	if r.Weight != nil && !(*r.Weight > 0) {
		return fmt.Errorf("%w: weight must be positive when recorded (got %v)", ErrInvalidInput, *r.Weight)
	}
	return nil
}

// HasWeight reports whether a weight was recorded.
func (r Record) HasWeight() bool {
	return r.Weight != nil
}

// Clone returns a deep copy so callers can't alias the weight pointer.
func (r Record) Clone() Record {
	if r.Weight != nil {
		w := *r.Weight
		r.Weight = &w
	}
	return r
}

// Entry is the "add" flow input: values to accumulate onto a date.
type Entry struct {
	Date     string
	Miles    float64
	Steps    int
	Calories float64
	Weight   *float64
}

// Edit is the "edit" flow input: values that fully overwrite a record.
// Steps are derived by the ledger from Miles.
type Edit struct {
	Miles    float64
	Calories float64
	Weight   *float64
}

// NewEntry builds an Entry from raw user values, deriving steps from the
// current conversion factor. A zero weight means "not recorded"; a negative
// one is rejected.
func NewEntry(date string, miles, calories, weight float64, settings Settings) (Entry, error) {
	if _, err := ParseDate(date); err != nil {
		return Entry{}, err
	}
	if err := checkAmounts(miles, calories, weight); err != nil {
		return Entry{}, err
	}
	return Entry{
		Date:     date,
		Miles:    miles,
		Steps:    settings.StepsFor(miles),
		Calories: calories,
		Weight:   OptionalWeight(weight),
	}, nil
}

// NewEdit builds an Edit from raw user values.
func NewEdit(miles, calories, weight float64) (Edit, error) {
	if err := checkAmounts(miles, calories, weight); err != nil {
		return Edit{}, err
	}
	return Edit{Miles: miles, Calories: calories, Weight: OptionalWeight(weight)}, nil
}

func checkAmounts(miles, calories, weight float64) error {
	if math.IsNaN(miles) || math.IsInf(miles, 0) || miles < 0 {
		return fmt.Errorf("%w: miles must be a non-negative number", ErrInvalidInput)
	}
	if math.IsNaN(calories) || math.IsInf(calories, 0) || calories < 0 {
		return fmt.Errorf("%w: calories must be a non-negative number", ErrInvalidInput)
	}
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0 {
		return fmt.Errorf("%w: weight must be positive, or 0 when not recorded", ErrInvalidInput)
	}
	return nil
}

// OptionalWeight maps the "0 means blank" convention of form inputs onto a
// nil weight. Callers validate the value first; anything that is not a
// finite positive number maps to nil.
func OptionalWeight(w float64) *float64 {
	if !(w > 0) || math.IsInf(w, 0) {
		return nil
	}
	return &w
}

// ParseDate parses a YYYY-MM-DD date in the local time zone.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD (got %q)", ErrInvalidInput, s)
	}
	return t, nil
}

// FormatDate renders t's calendar date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Round2 rounds to two decimals, half away from zero.
func Round2(f float64) float64 {
	return RoundTo(f, 2)
}

// RoundTo rounds f to the given number of decimal places.
func RoundTo(f float64, places int32) float64 {
	return decimal.NewFromFloat(f).Round(places).InexactFloat64()
}
