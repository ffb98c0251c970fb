// Package ledger maintains the set of activity records with at most one
// record per calendar date.
//
// A Ledger is not safe for concurrent use. The tracker session owns one and
// only touches it from its dispatcher goroutine.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/milestep/milestep/internal/activity"
)

// ErrAmbiguousID is returned when an id prefix matches more than one record.
var ErrAmbiguousID = errors.New("ambiguous record id")

// Ledger is the in-memory record set for one session.
type Ledger struct {
	records  []activity.Record
	settings activity.Settings
	newID    func() string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithIDGenerator replaces the id minting function (uuid by default).
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) { l.newID = fn }
}

// New creates a ledger seeded with records. Seed records sharing a date are
// merged so the one-record-per-date invariant holds from the start.
func New(records []activity.Record, settings activity.Settings, opts ...Option) *Ledger {
	if settings.Validate() != nil {
		settings = activity.DefaultSettings()
	}
	l := &Ledger{
		settings: settings,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.ReplaceAll(records)
	return l
}

// Settings returns the conversion settings used for derived steps.
func (l *Ledger) Settings() activity.Settings {
	return l.settings
}

// SetSettings changes the conversion factor for subsequent writes. Existing
// records keep the steps they were written with.
func (l *Ledger) SetSettings(s activity.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	l.settings = s
	return nil
}

// Upsert adds an entry to the ledger.
//
// If a record already exists for the entry's date, miles, steps and calories
// are summed into it and the weight is taken from the entry when present.
// Otherwise the entry is inserted as a new record with a fresh id. The
// resulting record is returned.
func (l *Ledger) Upsert(e activity.Entry) activity.Record {
	if i := l.indexByDate(e.Date); i >= 0 {
		merged := merge(l.records[i], e)
		l.records[i] = merged
		return merged.Clone()
	}

	r := activity.Record{
		ID:       l.newID(),
		Date:     e.Date,
		Miles:    activity.Round2(e.Miles),
		Steps:    e.Steps,
		Calories: e.Calories,
		Weight:   e.Weight,
	}.Clone()
	l.records = append(l.records, r)
	return r.Clone()
}

// Replace overwrites the record with the given id. Steps are recomputed from
// the new distance. An unknown id is a no-op and reports false.
func (l *Ledger) Replace(id string, e activity.Edit) (activity.Record, bool) {
	i := l.indexByID(id)
	if i < 0 {
		return activity.Record{}, false
	}

	r := l.records[i]
	r.Miles = activity.Round2(e.Miles)
	r.Steps = l.settings.StepsFor(e.Miles)
	r.Calories = e.Calories
	r.Weight = e.Weight
	r = r.Clone()
	l.records[i] = r
	return r.Clone(), true
}

// Remove deletes the record with the given id. An unknown id is a no-op and
// reports false.
func (l *Ledger) Remove(id string) bool {
	i := l.indexByID(id)
	if i < 0 {
		return false
	}
	l.records = append(l.records[:i], l.records[i+1:]...)
	return true
}

// ReplaceAll swaps the whole record set, as done when a remote snapshot wins.
// Incoming records that share a date are merged into the first one seen.
func (l *Ledger) ReplaceAll(records []activity.Record) {
	l.records = make([]activity.Record, 0, len(records))
	for _, r := range records {
		if i := l.indexByDate(r.Date); i >= 0 {
			l.records[i] = merge(l.records[i], activity.Entry{
				Date:     r.Date,
				Miles:    r.Miles,
				Steps:    r.Steps,
				Calories: r.Calories,
				Weight:   r.Weight,
			})
			continue
		}
		if r.ID == "" {
			r.ID = l.newID()
		}
		l.records = append(l.records, r.Clone())
	}
}

// All returns a copy of every record in no particular order.
func (l *Ledger) All() []activity.Record {
	out := make([]activity.Record, len(l.records))
	for i, r := range l.records {
		out[i] = r.Clone()
	}
	return out
}

// Sorted returns a copy of every record, most recent date first.
func (l *Ledger) Sorted() []activity.Record {
	out := l.All()
	SortByDateDesc(out)
	return out
}

// Find looks a record up by id.
func (l *Ledger) Find(id string) (activity.Record, bool) {
	if i := l.indexByID(id); i >= 0 {
		return l.records[i].Clone(), true
	}
	return activity.Record{}, false
}

// Resolve maps a full id, or a prefix matching exactly one id, to that
// record's id. It returns "" when nothing matches.
func (l *Ledger) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if r, ok := l.Find(ref); ok {
		return r.ID, nil
	}

	var match string
	for i := range l.records {
		id := l.records[i].ID
		if !strings.HasPrefix(id, ref) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("%w: %q matches %s and %s", ErrAmbiguousID, ref, match, id)
		}
		match = id
	}
	return match, nil
}

// FindByDate looks a record up by its date.
func (l *Ledger) FindByDate(date string) (activity.Record, bool) {
	if i := l.indexByDate(date); i >= 0 {
		return l.records[i].Clone(), true
	}
	return activity.Record{}, false
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	return len(l.records)
}

// SortByDateDesc orders records most recent first, ties broken by id.
func SortByDateDesc(records []activity.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date > records[j].Date
		}
		return records[i].ID < records[j].ID
	})
}

func merge(existing activity.Record, e activity.Entry) activity.Record {
	out := existing.Clone()
	out.Miles = activity.Round2(existing.Miles + e.Miles)
	out.Steps = existing.Steps + e.Steps
	out.Calories = existing.Calories + e.Calories
	if e.Weight != nil {
		w := *e.Weight
		out.Weight = &w
	}
	return out
}

func (l *Ledger) indexByDate(date string) int {
	for i := range l.records {
		if l.records[i].Date == date {
			return i
		}
	}
	return -1
}

func (l *Ledger) indexByID(id string) int {
	for i := range l.records {
		if l.records[i].ID == id {
			return i
		}
	}
	return -1
}
