package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/milestep/milestep/internal/activity"
	"github.com/milestep/milestep/internal/ledger"
	"github.com/milestep/milestep/internal/remote"
	"github.com/milestep/milestep/internal/synccode"
)

// ErrNoRemote is returned by Attach when no remote store is configured.
var ErrNoRemote = errors.New("no remote store configured")

// State is the attachment state of a Reconciler.
type State int

const (
	// Detached means no sync code is in use; the data set is local only.
	Detached State = iota
	// Attached means the data set is shared under a sync code.
	Attached
)

func (s State) String() string {
	if s == Attached {
		return "attached"
	}
	return "detached"
}

// Change describes what HandleUpdate did with an update.
type Change int

const (
	// NoChange means the update was ignored.
	NoChange Change = iota
	// ActivitiesReplaced means the record set was replaced.
	ActivitiesReplaced
	// SettingsReplaced means the settings were replaced.
	SettingsReplaced
)

// LocalStore persists what the Reconciler changes. *store.Cache satisfies
// it.
type LocalStore interface {
	SaveRecords(ctx context.Context, records []activity.Record) error
	SaveSettings(ctx context.Context, s activity.Settings) error
	SaveSyncCode(ctx context.Context, code string) error
}

// Config configures a Reconciler.
type Config struct {
	// Ledger is the record set being kept in step. Required.
	Ledger *ledger.Ledger

	// Local persists replaced data and the attached code. Required.
	Local LocalStore

	// Remote is the shared store. Nil keeps the Reconciler detached.
	Remote remote.Store

	// Deliver receives remote updates from subscription goroutines. It
	// should hand them to the goroutine that owns the ledger, which then
	// calls HandleUpdate. Required when Remote is set.
	Deliver func(remote.Update)

	// PushTimeout bounds each remote write (default: 10s).
	PushTimeout time.Duration

	// Logger for reconciliation activity (default: stderr logger).
	Logger *log.Logger
}

// AttachResult reports what Attach did.
type AttachResult struct {
	Code string
	// RecordsReplaced is true when a non-empty remote snapshot replaced the
	// local records.
	RecordsReplaced bool
	// SettingsReplaced is true when remote settings replaced local ones.
	SettingsReplaced bool
	// Seeded is true when the remote had no records and the local set was
	// pushed to it.
	Seeded bool
	// Skipped counts remote records dropped for failing validation.
	Skipped int
}

// Reconciler applies remote snapshots to the ledger and pushes local
// changes out. See the package documentation for threading rules.
type Reconciler struct {
	ledger  *ledger.Ledger
	local   LocalStore
	remote  remote.Store
	session *SyncSession
	pub     *publisher
	logger  *log.Logger

	state State
	code  string
}

// New creates a detached Reconciler.
func New(cfg Config) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 10 * time.Second
	}
	if cfg.Deliver == nil {
		cfg.Deliver = func(remote.Update) {}
	}

	r := &Reconciler{
		ledger: cfg.Ledger,
		local:  cfg.Local,
		remote: cfg.Remote,
		logger: cfg.Logger,
	}
	if cfg.Remote != nil {
		r.session = NewSyncSession(cfg.Remote, cfg.Deliver, cfg.Logger)
		r.pub = newPublisher(cfg.Remote, cfg.Logger, cfg.PushTimeout)
	}
	return r
}

// Start launches the publisher. Pushes queued before Start are sent once it
// runs.
func (r *Reconciler) Start(ctx context.Context) {
	if r.pub != nil {
		r.pub.start(ctx)
	}
}

// Close cancels subscriptions and waits for queued pushes to be sent.
func (r *Reconciler) Close() {
	if r.session != nil {
		r.session.Stop()
	}
	if r.pub != nil {
		r.pub.close()
	}
}

// State returns the current attachment state.
func (r *Reconciler) State() State {
	return r.state
}

// Code returns the attached code, or "" when detached.
func (r *Reconciler) Code() string {
	return r.code
}

// HasRemote reports whether a remote store is configured.
func (r *Reconciler) HasRemote() bool {
	return r.remote != nil
}

// Attach shares the data set under code.
//
// The remote snapshot is fetched first. A non-empty remote record set
// replaces the ledger wholesale and present remote settings replace the
// local ones; an empty remote is seeded with the local data instead. Then
// the code is persisted and live subscriptions replace any previous ones.
//
// If the code is invalid or the remote cannot be read, nothing changes and
// any previous attachment stays active.
func (r *Reconciler) Attach(ctx context.Context, code string) (AttachResult, error) {
	code, err := synccode.Parse(code)
	if err != nil {
		return AttachResult{}, err
	}
	if r.remote == nil {
		return AttachResult{}, ErrNoRemote
	}

	// Subscribe before fetching so nothing written in between is missed.
	sub, err := r.session.open(ctx, code)
	if err != nil {
		return AttachResult{}, err
	}

	recordsData, err := r.remote.Get(ctx, synccode.ActivitiesPath(code))
	if err != nil {
		sub.stop()
		return AttachResult{}, fmt.Errorf("failed to fetch activities for %s: %w", code, err)
	}
	settingsData, err := r.remote.Get(ctx, synccode.SettingsPath(code))
	if err != nil {
		sub.stop()
		return AttachResult{}, fmt.Errorf("failed to fetch settings for %s: %w", code, err)
	}

	res := AttachResult{Code: code}

	records, skipped, err := activity.DecodeRecords(recordsData)
	if err != nil {
		r.logger.Printf("Treating remote activities for %s as empty: %v", code, err)
	}
	res.Skipped = skipped
	if len(records) > 0 {
		r.ledger.ReplaceAll(records)
		r.saveRecords(ctx)
		res.RecordsReplaced = true
	}

	if s, ok := activity.DecodeSettings(settingsData); ok {
		if err := r.ledger.SetSettings(s); err == nil {
			r.saveSettings(ctx)
			res.SettingsReplaced = true
		}
	}

	r.session.activate(sub)
	r.state = Attached
	r.code = code
	if err := r.local.SaveSyncCode(ctx, code); err != nil {
		r.logger.Printf("Failed to persist sync code: %v", err)
	}

	if !res.RecordsReplaced && r.ledger.Len() > 0 {
		r.PushRecords()
		res.Seeded = true
	}
	if !res.SettingsReplaced {
		r.PushSettings()
	}

	r.logger.Printf("Attached to %s (records replaced=%t, settings replaced=%t, seeded=%t)",
		code, res.RecordsReplaced, res.SettingsReplaced, res.Seeded)
	return res, nil
}

// HandleUpdate applies a pushed remote value.
//
// Updates written by this instance, updates for a code that is no longer
// attached, and settings payloads that do not carry a positive conversion
// factor are ignored. A record payload always replaces the ledger, even when
// it is empty or malformed.
func (r *Reconciler) HandleUpdate(ctx context.Context, u remote.Update) Change {
	if r.state != Attached || r.remote == nil {
		return NoChange
	}
	if u.Origin == r.remote.Origin() {
		return NoChange
	}

	switch u.Path {
	case synccode.ActivitiesPath(r.code):
		records, skipped, err := activity.DecodeRecords(u.Value)
		if err != nil {
			r.logger.Printf("Remote activities unreadable, clearing local set: %v", err)
		}
		if skipped > 0 {
			r.logger.Printf("Skipped %d invalid remote record(s)", skipped)
		}
		r.ledger.ReplaceAll(records)
		r.saveRecords(ctx)
		return ActivitiesReplaced

	case synccode.SettingsPath(r.code):
		s, ok := activity.DecodeSettings(u.Value)
		if !ok {
			r.logger.Printf("Ignoring remote settings %s", u.Value)
			return NoChange
		}
		if err := r.ledger.SetSettings(s); err != nil {
			return NoChange
		}
		r.saveSettings(ctx)
		return SettingsReplaced

	default:
		return NoChange
	}
}

// PushRecords queues the current record set for the remote. It is a no-op
// while detached.
func (r *Reconciler) PushRecords() {
	if r.state != Attached {
		return
	}
	data, err := activity.EncodeRecords(r.ledger.All())
	if err != nil {
		r.logger.Printf("Failed to encode records: %v", err)
		return
	}
	r.pub.enqueue(synccode.ActivitiesPath(r.code), data)
}

// PushSettings queues the current settings for the remote. It is a no-op
// while detached.
func (r *Reconciler) PushSettings() {
	if r.state != Attached {
		return
	}
	data, err := activity.EncodeSettings(r.ledger.Settings())
	if err != nil {
		r.logger.Printf("Failed to encode settings: %v", err)
		return
	}
	r.pub.enqueue(synccode.SettingsPath(r.code), data)
}

func (r *Reconciler) saveRecords(ctx context.Context) {
	if err := r.local.SaveRecords(ctx, r.ledger.All()); err != nil {
		r.logger.Printf("Failed to persist records: %v", err)
	}
}

func (r *Reconciler) saveSettings(ctx context.Context) {
	if err := r.local.SaveSettings(ctx, r.ledger.Settings()); err != nil {
		r.logger.Printf("Failed to persist settings: %v", err)
	}
}
