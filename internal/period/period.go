// Package period computes the calendar ranges that summaries and charts are
// anchored on.
//
// Every range is inclusive on both ends and expressed as calendar dates in
// the location of the reference instant. Weeks start on Monday.
package period

import (
	"fmt"
	"strings"
	"time"

	"github.com/milestep/milestep/internal/activity"
)

// Granularity selects the span of a Range.
type Granularity int

const (
	// Weekly is the Monday..Sunday week containing the reference instant.
	Weekly Granularity = iota
	// Monthly is the calendar month containing the reference instant.
	Monthly
	// Yearly is the calendar year containing the reference instant.
	Yearly
)

// All lists the granularities in display order.
var All = []Granularity{Weekly, Monthly, Yearly}

// String returns the lower-case name used on the command line.
func (g Granularity) String() string {
	switch g {
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Yearly:
		return "yearly"
	default:
		return "unknown"
	}
}

// Parse accepts weekly/monthly/yearly and the short forms week/month/year.
func Parse(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weekly", "week", "w":
		return Weekly, nil
	case "monthly", "month", "m":
		return Monthly, nil
	case "yearly", "year", "y":
		return Yearly, nil
	default:
		return 0, fmt.Errorf("%w: unknown period %q (want weekly, monthly or yearly)", activity.ErrInvalidInput, s)
	}
}

// Range is an inclusive span of calendar days.
type Range struct {
	Granularity Granularity
	// Start and End are midnight of the first and last day.
	Start time.Time
	End   time.Time
}

// For returns the range of granularity g that contains now.
func For(now time.Time, g Granularity) Range {
	y, m, d := now.Date()
	loc := now.Location()

	var start, end time.Time
	switch g {
	case Weekly:
		// time.Weekday counts from Sunday; shift so Monday is day 0.
		offset := (int(now.Weekday()) + 6) % 7
		start = time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
		end = time.Date(y, m, d-offset+6, 0, 0, 0, 0, loc)
	case Monthly:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		end = time.Date(y, m+1, 0, 0, 0, 0, 0, loc)
	default:
		start = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		end = time.Date(y, time.December, 31, 0, 0, 0, 0, loc)
	}
	return Range{Granularity: g, Start: start, End: end}
}

// StartDate is Start as YYYY-MM-DD.
func (r Range) StartDate() string { return activity.FormatDate(r.Start) }

// EndDate is End as YYYY-MM-DD.
func (r Range) EndDate() string { return activity.FormatDate(r.End) }

// Contains reports whether the YYYY-MM-DD date falls inside the range.
// Malformed dates are never contained.
func (r Range) Contains(date string) bool {
	if _, err := time.Parse(activity.DateLayout, date); err != nil {
		return false
	}
	// ISO dates order lexicographically.
	return date >= r.StartDate() && date <= r.EndDate()
}

// Days enumerates every calendar date in the range, in order.
func (r Range) Days() []string {
	var days []string
	for d := r.Start; !d.After(r.End); d = time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, d.Location()) {
		days = append(days, activity.FormatDate(d))
	}
	return days
}

// Months enumerates the first day of every month touched by the range. For
// a yearly range that is the twelve months of the year.
func (r Range) Months() []time.Time {
	var months []time.Time
	for m := time.Date(r.Start.Year(), r.Start.Month(), 1, 0, 0, 0, 0, r.Start.Location()); !m.After(r.End); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}
	return months
}

// Label renders the heading shown above a summary.
func (r Range) Label(now time.Time) string {
	month := now.Format("January 2006")
	switch r.Granularity {
	case Weekly:
		return fmt.Sprintf("%s • Week of %s - %s", month, r.Start.Format("1/2/06"), r.End.Format("1/2/06"))
	case Monthly:
		return month
	default:
		return now.Format("2006")
	}
}
