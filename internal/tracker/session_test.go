package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/milestep/milestep/internal/activity"
	"github.com/milestep/milestep/internal/eventbus"
	"github.com/milestep/milestep/internal/period"
	"github.com/milestep/milestep/internal/reconcile"
	"github.com/milestep/milestep/internal/remote"
	"github.com/milestep/milestep/internal/store"
	"github.com/milestep/milestep/internal/synccode"
)

var fixedNow = time.Date(2025, time.March, 19, 12, 0, 0, 0, time.Local)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func openCache(t *testing.T, path string) *store.Cache {
	t.Helper()
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return store.NewCache(db, quiet())
}

// startSession opens and runs a session; the returned stop func waits for
// Run to return.
func startSession(t *testing.T, opts Options) (*Session, func()) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quiet()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}

	s, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	var stopped bool
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return s, stop
}

func TestAdd_MergesSameDay(t *testing.T) {
	s, _ := startSession(t, Options{Cache: openCache(t, filepath.Join(t.TempDir(), "t.db"))})
	ctx := context.Background()

	first, err := s.Add(ctx, AddInput{Miles: 3, Calories: 50, Weight: 180})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if first.Date != "2025-03-19" || first.Steps != 6000 || first.Merged {
		t.Errorf("first = %+v", first)
	}

	second, err := s.Add(ctx, AddInput{Date: "2025-03-19", Miles: 2, Calories: 100})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !second.Merged || second.ID != first.ID || second.Miles != 5 || second.Steps != 10000 || second.Calories != 150 {
		t.Errorf("merged = %+v", second)
	}
	if second.Weight == nil || *second.Weight != 180 {
		t.Errorf("weight not carried forward: %v", second.Weight)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Records) != 1 {
		t.Errorf("expected one record, got %d", len(snap.Records))
	}
}

func TestAdd_RejectsInvalidInput(t *testing.T) {
	s, _ := startSession(t, Options{Cache: openCache(t, filepath.Join(t.TempDir(), "t.db"))})

	tests := []AddInput{
		{Date: "03/19/2025", Miles: 1},
		{Miles: -1},
		{Miles: 1, Calories: -5},
		{Miles: 1, Weight: -180},
	}
	for _, in := range tests {
		if _, err := s.Add(context.Background(), in); !errors.Is(err, activity.ErrInvalidInput) {
			t.Errorf("Add(%+v) error = %v, want ErrInvalidInput", in, err)
		}
	}
	snap, _ := s.Snapshot(context.Background())
	if len(snap.Records) != 0 {
		t.Errorf("invalid input reached the ledger")
	}
}

func TestEditDelete(t *testing.T) {
	s, _ := startSession(t, Options{Cache: openCache(t, filepath.Join(t.TempDir(), "t.db"))})
	ctx := context.Background()

	rec, err := s.Add(ctx, AddInput{Miles: 3, Weight: 180})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	edited, found, err := s.Edit(ctx, rec.ID, EditInput{Miles: 1.5, Calories: 20})
	if err != nil || !found {
		t.Fatalf("Edit = %v, %v", found, err)
	}
	if edited.Steps != 3000 || edited.Weight != nil {
		t.Errorf("edited = %+v", edited)
	}

	if _, found, _ := s.Edit(ctx, "missing", EditInput{Miles: 1}); found {
		t.Errorf("Edit of unknown id reported found")
	}
	if found, _ := s.Delete(ctx, "missing"); found {
		t.Errorf("Delete of unknown id reported found")
	}

	found, err = s.Delete(ctx, rec.ID)
	if err != nil || !found {
		t.Fatalf("Delete = %v, %v", found, err)
	}
	snap, _ := s.Snapshot(ctx)
	if len(snap.Records) != 0 {
		t.Errorf("record still present after delete")
	}
}

func TestEditDelete_ByIDPrefix(t *testing.T) {
	s, _ := startSession(t, Options{Cache: openCache(t, filepath.Join(t.TempDir(), "t.db"))})
	ctx := context.Background()

	rec, err := s.Add(ctx, AddInput{Miles: 3})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if len(rec.ID) != 36 {
		t.Fatalf("expected a uuid id, got %q", rec.ID)
	}

	edited, found, err := s.Edit(ctx, rec.ID[:8], EditInput{Miles: 2})
	if err != nil || !found || edited.ID != rec.ID || edited.Miles != 2 {
		t.Fatalf("Edit by prefix = %+v, %v, %v", edited, found, err)
	}

	found, err = s.Delete(ctx, rec.ID[:12])
	if err != nil || !found {
		t.Fatalf("Delete by prefix = %v, %v", found, err)
	}
	snap, _ := s.Snapshot(ctx)
	if len(snap.Records) != 0 {
		t.Errorf("record still present after delete: %+v", snap.Records)
	}
}

func TestPersistedAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.db")
	ctx := context.Background()

	s, stop := startSession(t, Options{Cache: openCache(t, path)})
	if _, err := s.Add(ctx, AddInput{Date: "2025-03-17", Miles: 2.5, Weight: 181}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.SetStepsPerUnit(ctx, 2400); err != nil {
		t.Fatalf("SetStepsPerUnit failed: %v", err)
	}
	before, _ := s.Snapshot(ctx)
	stop()

	s2, _ := startSession(t, Options{Cache: openCache(t, path)})
	after, err := s2.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(after.Records) != 1 || after.Records[0].ID != before.Records[0].ID {
		t.Errorf("records after reopen = %+v", after.Records)
	}
	if after.Settings.StepsPerUnit != 2400 {
		t.Errorf("settings after reopen = %+v", after.Settings)
	}
	if after.Code != before.Code || synccode.Validate(after.Code) != nil {
		t.Errorf("sync code not stable: %q then %q", before.Code, after.Code)
	}
}

func TestSetStepsPerUnit_Validation(t *testing.T) {
	s, _ := startSession(t, Options{Cache: openCache(t, filepath.Join(t.TempDir(), "t.db"))})
	if err := s.SetStepsPerUnit(context.Background(), 0); !errors.Is(err, activity.ErrInvalidInput) {
		t.Errorf("SetStepsPerUnit(0) error = %v", err)
	}
}

func TestImport(t *testing.T) {
	s, _ := startSession(t, Options{Cache: openCache(t, filepath.Join(t.TempDir(), "t.db"))})
	ctx := context.Background()

	n, err := s.Import(ctx, []activity.Record{
		{Date: "2025-03-17", Miles: 1, Steps: 2000},
		{Date: "2025-03-17", Miles: 2, Steps: 4000},
		{Date: "not-a-date", Miles: 1},
		{Date: "2025-03-18", Miles: 1, Steps: 2000},
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if n != 3 {
		t.Errorf("merged = %d, want 3", n)
	}

	snap, _ := s.Snapshot(ctx)
	sum := snap.Summary(fixedNow, period.Weekly)
	if len(snap.Records) != 2 || sum.TotalMiles != 4 || sum.TotalSteps != 8000 {
		t.Errorf("after import: %d records, summary %+v", len(snap.Records), sum)
	}
}

func TestAttach_NoRemote(t *testing.T) {
	s, _ := startSession(t, Options{Cache: openCache(t, filepath.Join(t.TempDir(), "t.db"))})
	if _, err := s.AttachSaved(context.Background()); !errors.Is(err, reconcile.ErrNoRemote) {
		t.Errorf("AttachSaved error = %v, want ErrNoRemote", err)
	}
	code, err := s.SetCode(context.Background(), "zzz999")
	if err != nil || code != "ZZZ999" {
		t.Errorf("SetCode = %q, %v", code, err)
	}
}

func TestRemoteRoundTrip(t *testing.T) {
	shared := remote.NewMemory()
	hub := eventbus.NewHub()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	events := hub.Subscribe(ctx, 64)

	// Device B already has data under the code.
	mustSet := func(path, value string) {
		t.Helper()
		if err := shared.Set(ctx, path, json.RawMessage(value)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	mustSet(synccode.ActivitiesPath("ABC123"),
		`[{"id":"b1","date":"2025-03-18","miles":2,"steps":4000,"calories":0,"weight":null}]`)

	a, _ := startSession(t, Options{
		Cache:  openCache(t, filepath.Join(t.TempDir(), "a.db")),
		Remote: shared.Peer(),
		Hub:    hub,
	})
	if _, err := a.Add(ctx, AddInput{Date: "2025-03-17", Miles: 9}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	res, err := a.Attach(ctx, "ABC123")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if !res.RecordsReplaced {
		t.Errorf("expected remote records to win on attach: %+v", res)
	}
	snap, _ := a.Snapshot(ctx)
	if len(snap.Records) != 1 || snap.Records[0].ID != "b1" || snap.State != reconcile.Attached {
		t.Errorf("after attach: %+v", snap)
	}

	// A local add is pushed to the shared store.
	if _, err := a.Add(ctx, AddInput{Date: "2025-03-19", Miles: 1}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	waitFor(t, func() bool {
		data, _ := shared.Get(ctx, synccode.ActivitiesPath("ABC123"))
		records, _, _ := activity.DecodeRecords(data)
		return len(records) == 2
	})

	// Another device overwrites; the session replaces its ledger and
	// announces it.
	mustSet(synccode.ActivitiesPath("ABC123"), `[]`)
	waitForEvent(t, events, func(e eventbus.Event) bool {
		return e.Type == eventbus.ActivitiesChanged && e.Origin == eventbus.OriginRemote && e.Count == 0
	})

	mustSet(synccode.SettingsPath("ABC123"), `{"stepsPerUnit":2222}`)
	waitForEvent(t, events, func(e eventbus.Event) bool {
		return e.Type == eventbus.SettingsChanged && e.StepsPerUnit == 2222
	})

	snap, _ = a.Snapshot(ctx)
	if len(snap.Records) != 0 || snap.Settings.StepsPerUnit != 2222 {
		t.Errorf("after remote pushes: %+v", snap)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitForEvent(t *testing.T, events <-chan eventbus.Event, match func(eventbus.Event) bool) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatal("event stream closed")
			}
			if match(e) {
				return
			}
		case <-timeout:
			t.Fatal("expected event not seen")
		}
	}
}

func TestOperationsAfterStop(t *testing.T) {
	s, stop := startSession(t, Options{Cache: openCache(t, filepath.Join(t.TempDir(), "t.db"))})
	stop()
	if _, err := s.Add(context.Background(), AddInput{Miles: 1}); !errors.Is(err, ErrStopped) {
		t.Errorf("Add after stop error = %v, want ErrStopped", err)
	}
}
