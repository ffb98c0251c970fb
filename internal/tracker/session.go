// Package tracker ties the ledger, local cache and remote reconciliation
// together into one session object.
//
// Every operation that reads or mutates the ledger is executed by the
// session's dispatcher goroutine (Run) in the order it was submitted. User
// actions and remote pushes share that queue, so the ledger never sees two
// writers at once and needs no lock.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/milestep/milestep/internal/activity"
	"github.com/milestep/milestep/internal/eventbus"
	"github.com/milestep/milestep/internal/ledger"
	"github.com/milestep/milestep/internal/reconcile"
	"github.com/milestep/milestep/internal/remote"
	"github.com/milestep/milestep/internal/store"
	"github.com/milestep/milestep/internal/synccode"
)

// ErrStopped is returned for operations submitted after Run has returned.
var ErrStopped = errors.New("tracker session stopped")

// Options configures a Session.
type Options struct {
	// Cache is the local persistent store. Required.
	Cache *store.Cache

	// Remote is the shared store. Nil keeps the session local-only.
	Remote remote.Store

	// Hub receives change notifications (optional).
	Hub *eventbus.Hub

	// Logger for session activity (default: stderr logger).
	Logger *log.Logger

	// PushTimeout bounds each remote write (default: 10s).
	PushTimeout time.Duration

	// Now is the clock used for "today" (default: time.Now).
	Now func() time.Time

	// LedgerOptions are passed to ledger.New.
	LedgerOptions []ledger.Option
}

// Session is one running tracker.
type Session struct {
	cache      *store.Cache
	ledger     *ledger.Ledger
	reconciler *reconcile.Reconciler
	hub        *eventbus.Hub
	logger     *log.Logger
	now        func() time.Time

	// code is the install's sync code, attached or not.
	code string

	commands chan func()
	stopped  chan struct{}
}

// Open loads the persisted state and prepares a session. Nothing runs until
// Run is called.
//
// Example:
//
//	s, err := tracker.Open(ctx, tracker.Options{Cache: cache})
//	if err != nil {
//	    return err
//	}
//	go s.Run(ctx)
//	res, err := s.Add(ctx, tracker.AddInput{Date: "2025-03-21", Miles: 3.1})
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Cache == nil {
		return nil, errors.New("tracker: a cache is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[tracker] ", log.LstdFlags)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	records, err := opts.Cache.LoadRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load activities: %w", err)
	}
	settings, err := opts.Cache.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	code, err := opts.Cache.LoadSyncCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync code: %w", err)
	}
	if _, err := synccode.Parse(code); err != nil {
		if code, err = synccode.Generate(); err != nil {
			return nil, err
		}
		if err := opts.Cache.SaveSyncCode(ctx, code); err != nil {
			opts.Logger.Printf("Failed to persist generated sync code: %v", err)
		}
	}

	s := &Session{
		cache:    opts.Cache,
		ledger:   ledger.New(records, settings, opts.LedgerOptions...),
		hub:      opts.Hub,
		logger:   opts.Logger,
		now:      opts.Now,
		code:     code,
		commands: make(chan func(), 32),
		stopped:  make(chan struct{}),
	}
	s.reconciler = reconcile.New(reconcile.Config{
		Ledger:      s.ledger,
		Local:       opts.Cache,
		Remote:      opts.Remote,
		Deliver:     s.deliver,
		PushTimeout: opts.PushTimeout,
		Logger:      opts.Logger,
	})
	return s, nil
}

// Run executes submitted operations until ctx is done. On return the
// subscriptions are cancelled and queued remote pushes have been sent or
// abandoned.
func (s *Session) Run(ctx context.Context) error {
	// Pushes queued by the last operations must still go out after ctx ends.
	s.reconciler.Start(context.WithoutCancel(ctx))

	defer func() {
		close(s.stopped)
		s.reconciler.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.commands:
			cmd()
		}
	}
}

// Hub returns the notification hub (may be nil).
func (s *Session) Hub() *eventbus.Hub {
	return s.hub
}

// do runs fn on the dispatcher and waits for its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	cmd := func() { errc <- fn() }

	select {
	case <-s.stopped:
		return ErrStopped
	default:
	}

	select {
	case s.commands <- cmd:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-s.stopped:
		// The command may have run just before the dispatcher exited.
		select {
		case err := <-errc:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver is called from subscription goroutines with remote updates.
func (s *Session) deliver(u remote.Update) {
	cmd := func() { s.applyRemote(context.Background(), u) }
	select {
	case s.commands <- cmd:
	case <-s.stopped:
	}
}

func (s *Session) applyRemote(ctx context.Context, u remote.Update) {
	switch s.reconciler.HandleUpdate(ctx, u) {
	case reconcile.ActivitiesReplaced:
		s.logger.Printf("Applied remote activities (%d records)", s.ledger.Len())
		s.publishActivities(eventbus.OriginRemote)
	case reconcile.SettingsReplaced:
		s.logger.Printf("Applied remote settings (%d steps per unit)", s.ledger.Settings().StepsPerUnit)
		s.publishSettings()
	}
}

// recordsChanged persists and pushes after a local mutation. Failures are
// logged; the in-memory ledger stays authoritative.
func (s *Session) recordsChanged(ctx context.Context) {
	if err := s.cache.SaveRecords(ctx, s.ledger.All()); err != nil {
		s.logger.Printf("Failed to persist activities: %v", err)
	}
	s.reconciler.PushRecords()
	s.publishActivities(eventbus.OriginLocal)
}

func (s *Session) publishActivities(origin eventbus.Origin) {
	s.hub.Publish(eventbus.Activities(origin, s.ledger.Len()))
}

func (s *Session) publishSettings() {
	s.hub.Publish(eventbus.Settings(s.ledger.Settings().StepsPerUnit))
}

// today returns the session clock's calendar date.
func (s *Session) today() string {
	return activity.FormatDate(s.now())
}
