// Package aggregate folds ledger records into period summaries, averages and
// chart buckets.
//
// Nothing here is cached: every function recomputes from the records it is
// given, so results always match the ledger they were read from.
package aggregate

import (
	"time"

	"github.com/milestep/milestep/internal/activity"
	"github.com/milestep/milestep/internal/period"
)

// Summary is the totals view of one period.
type Summary struct {
	Granularity   period.Granularity `json:"-"`
	Period        string             `json:"period"`
	TotalMiles    float64            `json:"totalMiles"`
	TotalSteps    int                `json:"totalSteps"`
	TotalCalories float64            `json:"totalCalories"`
	// LatestWeight comes from the most recent weighed record overall, not
	// only from the period.
	LatestWeight *float64 `json:"latestWeight"`
	Start        string   `json:"start"`
	End          string   `json:"end"`
}

// Active reports whether anything was logged in the period.
func (s Summary) Active() bool {
	return s.TotalMiles > 0 || s.TotalSteps > 0
}

// Averages holds the daily distance average for each granularity.
type Averages struct {
	Weekly  float64 `json:"weekly"`
	Monthly float64 `json:"monthly"`
	Yearly  float64 `json:"yearly"`
}

// For picks the average matching g.
func (a Averages) For(g period.Granularity) float64 {
	switch g {
	case period.Weekly:
		return a.Weekly
	case period.Monthly:
		return a.Monthly
	default:
		return a.Yearly
	}
}

// Bucket is one chart slot: a day for weekly/monthly views, a month for the
// yearly view.
type Bucket struct {
	// Key is YYYY-MM-DD for day buckets and YYYY-MM for month buckets.
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Miles    float64  `json:"miles"`
	Steps    int      `json:"steps"`
	Calories float64  `json:"calories"`
	Weight   *float64 `json:"weight"`
}

// Summarize totals the records that fall inside g's range around now.
// Miles are rounded to two decimals and calories to whole numbers on output
// only.
func Summarize(records []activity.Record, now time.Time, g period.Granularity) Summary {
	r := period.For(now, g)

	var miles, calories float64
	var steps int
	for _, rec := range records {
		if !r.Contains(rec.Date) {
			continue
		}
		miles += rec.Miles
		steps += rec.Steps
		calories += rec.Calories
	}

	return Summary{
		Granularity:   g,
		Period:        g.String(),
		TotalMiles:    activity.Round2(miles),
		TotalSteps:    steps,
		TotalCalories: activity.RoundTo(calories, 0),
		LatestWeight:  LatestWeight(records),
		Start:         r.StartDate(),
		End:           r.EndDate(),
	}
}

// LatestWeight returns the weight of the most recently dated record that has
// one, or nil if no record has a weight.
func LatestWeight(records []activity.Record) *float64 {
	var latestDate string
	var latest *float64
	for _, rec := range records {
		if !rec.HasWeight() {
			continue
		}
		if _, err := time.Parse(activity.DateLayout, rec.Date); err != nil {
			continue
		}
		if latest == nil || rec.Date > latestDate {
			w := *rec.Weight
			latest = &w
			latestDate = rec.Date
		}
	}
	return latest
}

// AverageFor divides the distance logged in g's range by the number of
// distinct active dates in it. A period with no activity averages to 0.
func AverageFor(records []activity.Record, now time.Time, g period.Granularity) float64 {
	r := period.For(now, g)

	var total float64
	active := make(map[string]struct{})
	for _, rec := range records {
		if !r.Contains(rec.Date) {
			continue
		}
		total += rec.Miles
		active[rec.Date] = struct{}{}
	}

	days := len(active)
	if days == 0 {
		days = 1
	}
	return activity.Round2(total / float64(days))
}

// ComputeAverages returns AverageFor for every granularity.
func ComputeAverages(records []activity.Record, now time.Time) Averages {
	return Averages{
		Weekly:  AverageFor(records, now, period.Weekly),
		Monthly: AverageFor(records, now, period.Monthly),
		Yearly:  AverageFor(records, now, period.Yearly),
	}
}

// DailyBuckets lays the records of g's range out as chart slots.
//
// Weekly and monthly ranges get one bucket per calendar day, empty days
// included. The yearly range gets one bucket per month: miles are summed
// into the owning month, and the month's weight is the last recorded weight
// when walking its days in date order.
func DailyBuckets(records []activity.Record, now time.Time, g period.Granularity) []Bucket {
	r := period.For(now, g)

	days := r.Days()
	byDay := make(map[string]*Bucket, len(days))
	dayBuckets := make([]Bucket, len(days))
	for i, d := range days {
		dayBuckets[i] = Bucket{Key: d, Label: dayLabel(d, g)}
		byDay[d] = &dayBuckets[i]
	}

	for _, rec := range records {
		b, ok := byDay[rec.Date]
		if !ok {
			continue
		}
		b.Miles += rec.Miles
		b.Steps += rec.Steps
		b.Calories += rec.Calories
		if rec.HasWeight() {
			w := *rec.Weight
			b.Weight = &w
		}
	}

	if g != period.Yearly {
		return dayBuckets
	}

	months := r.Months()
	monthBuckets := make([]Bucket, len(months))
	index := make(map[string]int, len(months))
	for i, m := range months {
		key := m.Format("2006-01")
		monthBuckets[i] = Bucket{Key: key, Label: m.Format("Jan")}
		index[key] = i
	}
	// dayBuckets is in date order, so later days overwrite the weight.
	for _, d := range dayBuckets {
		i, ok := index[d.Key[:7]]
		if !ok {
			continue
		}
		mb := &monthBuckets[i]
		mb.Miles += d.Miles
		mb.Steps += d.Steps
		mb.Calories += d.Calories
		if d.Weight != nil {
			w := *d.Weight
			mb.Weight = &w
		}
	}
	return monthBuckets
}

func dayLabel(date string, g period.Granularity) string {
	t, err := time.Parse(activity.DateLayout, date)
	if err != nil {
		return date
	}
	if g == period.Weekly {
		return t.Format("Mon")
	}
	return t.Format("2")
}
