package ui

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"

	"github.com/milestep/milestep/internal/activity"
)

// Day renders a YYYY-MM-DD date as "Mon, Oct 19". Unparseable input is
// returned unchanged.
func Day(date string) string {
	t, err := activity.ParseDate(date)
	if err != nil {
		return date
	}
	return t.Format("Mon, Jan 2")
}

// Miles renders a distance with two decimals.
func Miles(m float64) string {
	return fmt.Sprintf("%.2f", m)
}

// Steps renders a step count with thousands separators.
func Steps(n int) string {
	return humanize.Comma(int64(n))
}

// Calories renders calories rounded to a whole number with separators.
func Calories(c float64) string {
	return humanize.Comma(int64(math.Round(c)))
}

// Weight renders a weight rounded to a whole number, or "-" when absent.
func Weight(w *float64) string {
	if w == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f", math.Round(*w))
}
