package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/milestep/milestep/internal/activity"
	"github.com/milestep/milestep/internal/ledger"
	"github.com/milestep/milestep/internal/remote"
	"github.com/milestep/milestep/internal/synccode"
)

// memLocal records what the Reconciler persisted.
type memLocal struct {
	records  []activity.Record
	settings activity.Settings
	code     string
	saves    int
}

func (m *memLocal) SaveRecords(_ context.Context, records []activity.Record) error {
	m.records = records
	m.saves++
	return nil
}

func (m *memLocal) SaveSettings(_ context.Context, s activity.Settings) error {
	m.settings = s
	return nil
}

func (m *memLocal) SaveSyncCode(_ context.Context, code string) error {
	m.code = code
	return nil
}

type fixture struct {
	ledger  *ledger.Ledger
	local   *memLocal
	remote  *remote.Memory
	updates chan remote.Update
	r       *Reconciler
}

func newFixture(t *testing.T, store *remote.Memory, seed ...activity.Record) *fixture {
	t.Helper()
	f := &fixture{
		ledger:  ledger.New(seed, activity.DefaultSettings()),
		local:   &memLocal{},
		remote:  store,
		updates: make(chan remote.Update, 16),
	}
	f.r = New(Config{
		Ledger:  f.ledger,
		Local:   f.local,
		Remote:  store,
		Deliver: func(u remote.Update) { f.updates <- u },
		Logger:  log.New(io.Discard, "", 0),
	})
	ctx, cancel := context.WithCancel(context.Background())
	f.r.Start(ctx)
	t.Cleanup(func() {
		f.r.Close()
		cancel()
	})
	return f
}

func (f *fixture) next(t *testing.T) remote.Update {
	t.Helper()
	select {
	case u := <-f.updates:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a remote update")
		return remote.Update{}
	}
}

func mustSet(t *testing.T, s remote.Store, path, value string) {
	t.Helper()
	if err := s.Set(context.Background(), path, json.RawMessage(value)); err != nil {
		t.Fatalf("Set(%s) failed: %v", path, err)
	}
}

const code = "ABC123"

func TestAttach_RemoteReplacesLocal(t *testing.T) {
	store := remote.NewMemory()
	mustSet(t, store, synccode.ActivitiesPath(code),
		`[{"id":"r1","date":"2025-03-20","miles":2,"steps":4000,"calories":10,"weight":null}]`)
	mustSet(t, store, synccode.SettingsPath(code), `{"stepsPerUnit":2200}`)

	f := newFixture(t, store.Peer(),
		activity.Record{ID: "l1", Date: "2025-03-18", Miles: 1, Steps: 2000},
		activity.Record{ID: "l2", Date: "2025-03-19", Miles: 1, Steps: 2000},
	)

	res, err := f.r.Attach(context.Background(), " abc123 ")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if !res.RecordsReplaced || !res.SettingsReplaced || res.Seeded {
		t.Errorf("unexpected result %+v", res)
	}

	all := f.ledger.All()
	if len(all) != 1 || all[0].ID != "r1" {
		t.Errorf("ledger = %+v, want only the remote record", all)
	}
	if f.ledger.Settings().StepsPerUnit != 2200 {
		t.Errorf("settings = %+v", f.ledger.Settings())
	}
	if len(f.local.records) != 1 || f.local.settings.StepsPerUnit != 2200 {
		t.Errorf("replaced data was not persisted: %+v", f.local)
	}
	if f.local.code != code || f.r.Code() != code || f.r.State() != Attached {
		t.Errorf("code=%q persisted=%q state=%s", f.r.Code(), f.local.code, f.r.State())
	}
}

func TestAttach_EmptyRemoteIsSeeded(t *testing.T) {
	store := remote.NewMemory()
	f := newFixture(t, store.Peer(),
		activity.Record{ID: "l1", Date: "2025-03-18", Miles: 1, Steps: 2000},
	)

	res, err := f.r.Attach(context.Background(), code)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if res.RecordsReplaced || !res.Seeded {
		t.Errorf("unexpected result %+v", res)
	}
	if f.ledger.Len() != 1 {
		t.Errorf("local records must survive an empty remote")
	}

	// Close drains the publisher.
	f.r.Close()

	data, _ := store.Get(context.Background(), synccode.ActivitiesPath(code))
	records, _, err := activity.DecodeRecords(data)
	if err != nil || len(records) != 1 || records[0].ID != "l1" {
		t.Errorf("remote after seeding = %s (%v)", data, err)
	}
	settings, _ := store.Get(context.Background(), synccode.SettingsPath(code))
	if string(settings) != `{"stepsPerUnit":2000}` {
		t.Errorf("remote settings after seeding = %s", settings)
	}
}

func TestAttach_Errors(t *testing.T) {
	f := newFixture(t, remote.NewMemory())
	if _, err := f.r.Attach(context.Background(), "bad"); !errors.Is(err, synccode.ErrInvalidCode) {
		t.Errorf("Attach(bad) error = %v, want ErrInvalidCode", err)
	}
	if f.r.State() != Detached {
		t.Errorf("state changed after rejected attach")
	}

	detached := New(Config{
		Ledger: ledger.New(nil, activity.DefaultSettings()),
		Local:  &memLocal{},
		Logger: log.New(io.Discard, "", 0),
	})
	defer detached.Close()
	if _, err := detached.Attach(context.Background(), code); !errors.Is(err, ErrNoRemote) {
		t.Errorf("Attach without remote error = %v, want ErrNoRemote", err)
	}
	detached.PushRecords()
}

func TestHandleUpdate_ReplacesFromOtherDevice(t *testing.T) {
	store := remote.NewMemory()
	f := newFixture(t, store.Peer(), activity.Record{ID: "l1", Date: "2025-03-18", Miles: 1})
	if _, err := f.r.Attach(context.Background(), code); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	other := store.Peer()
	mustSet(t, other, synccode.ActivitiesPath(code),
		`[{"id":"o1","date":"2025-03-21","miles":4,"steps":8000,"calories":0,"weight":181}]`)

	// The seeding push from Attach may arrive first; it carries our origin.
	for {
		u := f.next(t)
		change := f.r.HandleUpdate(context.Background(), u)
		if u.Origin == f.remote.Origin() {
			if change != NoChange {
				t.Fatalf("own write was applied: %+v", u)
			}
			continue
		}
		if change != ActivitiesReplaced {
			t.Fatalf("change = %v, want ActivitiesReplaced", change)
		}
		break
	}

	r, ok := f.ledger.FindByDate("2025-03-21")
	if !ok || f.ledger.Len() != 1 || r.Weight == nil || *r.Weight != 181 {
		t.Errorf("ledger after remote push = %+v", f.ledger.All())
	}
}

func TestHandleUpdate_IgnoresOwnOrigin(t *testing.T) {
	store := remote.NewMemory()
	f := newFixture(t, store)
	if _, err := f.r.Attach(context.Background(), code); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	u := remote.Update{
		Path:   synccode.ActivitiesPath(code),
		Value:  json.RawMessage(`[]`),
		Origin: store.Origin(),
	}
	if got := f.r.HandleUpdate(context.Background(), u); got != NoChange {
		t.Errorf("own update produced %v", got)
	}
}

func TestHandleUpdate_MalformedClearsLedger(t *testing.T) {
	f := newFixture(t, remote.NewMemory(), activity.Record{ID: "l1", Date: "2025-03-18", Miles: 1})
	if _, err := f.r.Attach(context.Background(), code); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	u := remote.Update{Path: synccode.ActivitiesPath(code), Value: json.RawMessage(`{"oops":true}`), Origin: "elsewhere"}
	if got := f.r.HandleUpdate(context.Background(), u); got != ActivitiesReplaced {
		t.Fatalf("change = %v", got)
	}
	if f.ledger.Len() != 0 {
		t.Errorf("expected empty ledger after malformed push, got %d records", f.ledger.Len())
	}
}

func TestHandleUpdate_MistypedElementKeepsValidRecords(t *testing.T) {
	f := newFixture(t, remote.NewMemory(), activity.Record{ID: "l1", Date: "2025-03-18", Miles: 1})
	if _, err := f.r.Attach(context.Background(), code); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	payload := `[{"id":"a","date":"2025-03-21","miles":2,"steps":4000,"calories":0,"weight":null},` +
		`{"id":"b","date":"2025-03-22","miles":"2","steps":4000,"calories":0,"weight":null}]`
	u := remote.Update{Path: synccode.ActivitiesPath(code), Value: json.RawMessage(payload), Origin: "elsewhere"}
	if got := f.r.HandleUpdate(context.Background(), u); got != ActivitiesReplaced {
		t.Fatalf("change = %v", got)
	}
	if _, ok := f.ledger.Find("a"); !ok || f.ledger.Len() != 1 {
		t.Errorf("expected only record a to survive, got %+v", f.ledger.All())
	}
	if len(f.local.records) != 1 {
		t.Errorf("expected the surviving record to be persisted, got %+v", f.local.records)
	}
}

func TestHandleUpdate_Settings(t *testing.T) {
	f := newFixture(t, remote.NewMemory())
	if _, err := f.r.Attach(context.Background(), code); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	tests := []struct {
		value string
		want  Change
		steps int
	}{
		{`{"stepsPerUnit":2300}`, SettingsReplaced, 2300},
		{`{"stepsPerMile":2400}`, SettingsReplaced, 2400},
		{`{"stepsPerUnit":0}`, NoChange, 2400},
		{`null`, NoChange, 2400},
	}
	for _, tt := range tests {
		u := remote.Update{Path: synccode.SettingsPath(code), Value: json.RawMessage(tt.value), Origin: "elsewhere"}
		if got := f.r.HandleUpdate(context.Background(), u); got != tt.want {
			t.Errorf("HandleUpdate(%s) = %v, want %v", tt.value, got, tt.want)
		}
		if f.ledger.Settings().StepsPerUnit != tt.steps {
			t.Errorf("after %s steps per unit = %d, want %d", tt.value, f.ledger.Settings().StepsPerUnit, tt.steps)
		}
	}
}

func TestHandleUpdate_DetachedIgnoresEverything(t *testing.T) {
	f := newFixture(t, remote.NewMemory(), activity.Record{ID: "l1", Date: "2025-03-18"})
	u := remote.Update{Path: synccode.ActivitiesPath(code), Value: json.RawMessage(`[]`), Origin: "elsewhere"}
	if got := f.r.HandleUpdate(context.Background(), u); got != NoChange {
		t.Errorf("detached reconciler applied %v", got)
	}
	if f.ledger.Len() != 1 {
		t.Errorf("ledger changed while detached")
	}
}

func TestAttach_SwitchingCodesCancelsOldSubscriptions(t *testing.T) {
	store := remote.NewMemory()
	f := newFixture(t, store.Peer())
	ctx := context.Background()

	if _, err := f.r.Attach(ctx, "AAA111"); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if _, err := f.r.Attach(ctx, "BBB222"); err != nil {
		t.Fatalf("re-Attach failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.Subscribers(synccode.ActivitiesPath("AAA111")) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := store.Subscribers(synccode.ActivitiesPath("AAA111")); n != 0 {
		t.Errorf("old subscription still live (%d)", n)
	}
	if n := store.Subscribers(synccode.ActivitiesPath("BBB222")); n != 1 {
		t.Errorf("expected 1 subscription on the new code, got %d", n)
	}

	// A late update for the old code is discarded.
	u := remote.Update{Path: synccode.ActivitiesPath("AAA111"), Value: json.RawMessage(`[]`), Origin: "elsewhere"}
	if got := f.r.HandleUpdate(ctx, u); got != NoChange {
		t.Errorf("stale update applied: %v", got)
	}
	if f.r.Code() != "BBB222" {
		t.Errorf("code = %s", f.r.Code())
	}
}

func TestAttach_FetchFailureKeepsPreviousAttachment(t *testing.T) {
	store := remote.NewMemory()
	f := newFixture(t, store.Peer())

	if _, err := f.r.Attach(context.Background(), "AAA111"); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.r.Attach(ctx, "BBB222"); err == nil {
		t.Fatal("expected Attach with a cancelled context to fail")
	}
	if f.r.Code() != "AAA111" || f.r.State() != Attached {
		t.Errorf("previous attachment lost: code=%s state=%s", f.r.Code(), f.r.State())
	}
}
