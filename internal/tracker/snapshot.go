package tracker

import (
	"time"

	"github.com/milestep/milestep/internal/activity"
	"github.com/milestep/milestep/internal/aggregate"
	"github.com/milestep/milestep/internal/period"
	"github.com/milestep/milestep/internal/reconcile"
)

// Snapshot is a point-in-time copy of a session, safe to read from any
// goroutine. Derived views are recomputed on every call.
type Snapshot struct {
	// Records is sorted most recent date first.
	Records  []activity.Record
	Settings activity.Settings
	// Code is the install's sync code, attached or not.
	Code   string
	State  reconcile.State
	Remote bool
}

// Summary totals the period of granularity g around now.
func (s Snapshot) Summary(now time.Time, g period.Granularity) aggregate.Summary {
	return aggregate.Summarize(s.Records, now, g)
}

// Averages returns the per-active-day distance averages around now.
func (s Snapshot) Averages(now time.Time) aggregate.Averages {
	return aggregate.ComputeAverages(s.Records, now)
}

// Buckets returns the chart slots for the period of granularity g.
func (s Snapshot) Buckets(now time.Time, g period.Granularity) []aggregate.Bucket {
	return aggregate.DailyBuckets(s.Records, now, g)
}
