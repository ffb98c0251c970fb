package tracker

import (
	"context"
	"fmt"

	"github.com/milestep/milestep/internal/activity"
	"github.com/milestep/milestep/internal/eventbus"
	"github.com/milestep/milestep/internal/reconcile"
	"github.com/milestep/milestep/internal/synccode"
)

// AddInput is the raw "log activity" form. An empty Date means today; a
// zero Weight means no weight was recorded.
type AddInput struct {
	Date     string
	Miles    float64
	Calories float64
	Weight   float64
}

// EditInput is the raw "edit record" form. It fully overwrites the record's
// values; steps are recomputed from Miles.
type EditInput struct {
	Miles    float64
	Calories float64
	Weight   float64
}

// AddResult is the record an Add produced.
type AddResult struct {
	activity.Record
	// Merged is true when the entry was summed into an existing day.
	Merged bool
}

// Add merges an entry into the ledger and returns the resulting record.
func (s *Session) Add(ctx context.Context, in AddInput) (AddResult, error) {
	var res AddResult
	err := s.do(ctx, func() error {
		date := in.Date
		if date == "" {
			date = s.today()
		}
		entry, err := activity.NewEntry(date, in.Miles, in.Calories, in.Weight, s.ledger.Settings())
		if err != nil {
			return err
		}
		_, res.Merged = s.ledger.FindByDate(entry.Date)
		res.Record = s.ledger.Upsert(entry)
		s.recordsChanged(ctx)
		return nil
	})
	return res, err
}

// Edit overwrites the record with the given id, which may be shortened to
// any unique prefix. found is false, and nothing changes, when no record
// matches.
func (s *Session) Edit(ctx context.Context, id string, in EditInput) (rec activity.Record, found bool, err error) {
	err = s.do(ctx, func() error {
		edit, err := activity.NewEdit(in.Miles, in.Calories, in.Weight)
		if err != nil {
			return err
		}
		id, err := s.ledger.Resolve(id)
		if err != nil {
			return err
		}
		rec, found = s.ledger.Replace(id, edit)
		if found {
			s.recordsChanged(ctx)
		}
		return nil
	})
	return rec, found, err
}

// Delete removes the record with the given id or unique id prefix. found is
// false, and nothing changes, when no record matches.
func (s *Session) Delete(ctx context.Context, id string) (found bool, err error) {
	err = s.do(ctx, func() error {
		id, err := s.ledger.Resolve(id)
		if err != nil {
			return err
		}
		found = s.ledger.Remove(id)
		if found {
			s.recordsChanged(ctx)
		}
		return nil
	})
	return found, err
}

// Import merges records into the ledger as if each had been added by hand.
// Invalid records are skipped. It returns how many were merged.
func (s *Session) Import(ctx context.Context, records []activity.Record) (int, error) {
	var merged int
	err := s.do(ctx, func() error {
		for _, r := range records {
			if r.ID == "" {
				r.ID = r.Date
			}
			if err := r.Validate(); err != nil {
				s.logger.Printf("Skipping imported record %s: %v", r.Date, err)
				continue
			}
			s.ledger.Upsert(activity.Entry{
				Date:     r.Date,
				Miles:    r.Miles,
				Steps:    r.Steps,
				Calories: r.Calories,
				Weight:   r.Weight,
			})
			merged++
		}
		if merged > 0 {
			s.recordsChanged(ctx)
		}
		return nil
	})
	return merged, err
}

// SetStepsPerUnit changes the distance to step conversion used for later
// entries. n must be a positive integer.
func (s *Session) SetStepsPerUnit(ctx context.Context, n int) error {
	return s.do(ctx, func() error {
		if err := s.ledger.SetSettings(activity.Settings{StepsPerUnit: n}); err != nil {
			return err
		}
		if err := s.cache.SaveSettings(ctx, s.ledger.Settings()); err != nil {
			s.logger.Printf("Failed to persist settings: %v", err)
		}
		s.reconciler.PushSettings()
		s.publishSettings()
		return nil
	})
}

// Attach shares the data set under code, which becomes this install's sync
// code. See reconcile.Reconciler.Attach for how local and remote data are
// combined.
func (s *Session) Attach(ctx context.Context, code string) (reconcile.AttachResult, error) {
	var res reconcile.AttachResult
	err := s.do(ctx, func() error {
		var err error
		res, err = s.reconciler.Attach(ctx, code)
		if err != nil {
			return err
		}
		s.code = res.Code
		s.hub.Publish(eventbus.Attached(res.Code))
		if res.RecordsReplaced {
			s.publishActivities(eventbus.OriginRemote)
		}
		if res.SettingsReplaced {
			s.publishSettings()
		}
		return nil
	})
	return res, err
}

// AttachSaved attaches to the install's own sync code. It is a no-op
// returning reconcile.ErrNoRemote when no remote store is configured.
func (s *Session) AttachSaved(ctx context.Context) (reconcile.AttachResult, error) {
	if !s.reconciler.HasRemote() {
		return reconcile.AttachResult{}, reconcile.ErrNoRemote
	}
	var code string
	if err := s.do(ctx, func() error { code = s.code; return nil }); err != nil {
		return reconcile.AttachResult{}, err
	}
	return s.Attach(ctx, code)
}

// SetCode replaces the install's sync code without attaching, for use when
// no remote store is reachable.
func (s *Session) SetCode(ctx context.Context, code string) (string, error) {
	code, err := synccode.Parse(code)
	if err != nil {
		return "", err
	}
	err = s.do(ctx, func() error {
		if err := s.cache.SaveSyncCode(ctx, code); err != nil {
			return fmt.Errorf("failed to save sync code: %w", err)
		}
		s.code = code
		return nil
	})
	return code, err
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() error {
		snap = Snapshot{
			Records:  s.ledger.Sorted(),
			Settings: s.ledger.Settings(),
			Code:     s.code,
			State:    s.reconciler.State(),
			Remote:   s.reconciler.HasRemote(),
		}
		return nil
	})
	return snap, err
}
