package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/milestep/milestep/internal/activity"
	"github.com/milestep/milestep/internal/eventbus"
	"github.com/milestep/milestep/internal/reconcile"
	"github.com/milestep/milestep/internal/remote"
	"github.com/milestep/milestep/internal/store"
	"github.com/milestep/milestep/internal/tracker"
)

// app is one running tracker session plus everything it owns.
type app struct {
	db      *store.DB
	client  *remote.Client
	session *tracker.Session
	hub     *eventbus.Hub

	cancel context.CancelFunc
	done   chan struct{}
}

// openApp opens the local cache, connects to the relay when one is
// configured, and starts a session. With attach set the session attaches to
// its saved sync code so local data is current before the command runs.
//
// A relay that cannot be reached is logged and the session runs local-only.
func openApp(ctx context.Context, attach bool) (*app, error) {
	logger := logging.Logger("mst")

	db, err := store.OpenContext(ctx, cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	cache := store.NewCache(db, logging.Logger("store"))
	cache.SetDefaultSettings(activity.Settings{StepsPerUnit: cfg.Tracker.DefaultStepsPerUnit})

	a := &app{db: db, hub: eventbus.NewHub(), done: make(chan struct{})}

	opts := tracker.Options{
		Cache:       cache,
		Hub:         a.hub,
		Logger:      logging.Logger("tracker"),
		PushTimeout: cfg.Remote.Timeout(),
	}
	if cfg.Remote.URL != "" {
		client, err := remote.Dial(ctx, remote.ClientConfig{
			URL:     cfg.Remote.URL,
			Timeout: cfg.Remote.Timeout(),
			Logger:  logging.Logger("remote"),
		})
		if err != nil {
			logger.Printf("Working offline: %v", err)
		} else {
			a.client = client
			opts.Remote = client
		}
	}

	a.session, err = tracker.Open(ctx, opts)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go func() {
		defer close(a.done)
		_ = a.session.Run(runCtx)
	}()

	if attach && a.client != nil {
		if _, err := a.session.AttachSaved(ctx); err != nil && !errors.Is(err, reconcile.ErrNoRemote) {
			logger.Printf("Sync unavailable: %v", err)
		}
	}
	return a, nil
}

// Close stops the session (sending any queued pushes) and releases the relay
// connection and the local cache.
func (a *app) Close() {
	a.cancel()
	<-a.done
	a.closeResources()
}

func (a *app) closeResources() {
	if a.client != nil {
		_ = a.client.Close()
	}
	if err := a.db.Close(); err != nil {
		logging.Logger("store").Printf("Failed to close cache: %v", err)
	}
}

// withApp runs fn against a started app and always closes it.
func withApp(ctx context.Context, attach bool, fn func(*app) error) error {
	a, err := openApp(ctx, attach)
	if err != nil {
		return fmt.Errorf("failed to open tracker: %w", err)
	}
	defer a.Close()
	return fn(a)
}
