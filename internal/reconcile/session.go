package reconcile

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/milestep/milestep/internal/remote"
	"github.com/milestep/milestep/internal/synccode"
)

// SyncSession owns the live subscriptions for the attached sync code.
//
// At most one code is active. Activating a new subscription set cancels the
// previous one, and updates still in flight from a cancelled set are the
// Reconciler's to discard.
type SyncSession struct {
	remote  remote.Store
	deliver func(remote.Update)
	logger  *log.Logger

	mu     sync.Mutex
	active *subscription
}

// subscription is the pair of live subscriptions for one code.
type subscription struct {
	code   string
	cancel context.CancelFunc
}

// stop cancels the subscriptions. It does not wait for the forwarders: one
// may be blocked delivering to the very goroutine that is stopping it.
func (s *subscription) stop() {
	s.cancel()
}

// NewSyncSession creates a session that forwards every update it receives
// to deliver. deliver is called from subscription goroutines.
func NewSyncSession(store remote.Store, deliver func(remote.Update), logger *log.Logger) *SyncSession {
	return &SyncSession{remote: store, deliver: deliver, logger: logger}
}

// Code returns the active code, or "" when nothing is subscribed.
func (s *SyncSession) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.code
}

// open subscribes to both paths of code without touching the active set.
// The subscriptions outlive ctx; they end when the set is stopped.
func (s *SyncSession) open(ctx context.Context, code string) (*subscription, error) {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{code: code, cancel: cancel}

	for _, path := range []string{synccode.ActivitiesPath(code), synccode.SettingsPath(code)} {
		updates, err := s.remote.Subscribe(subCtx, path)
		if err != nil {
			sub.stop()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", path, err)
		}
		go func() {
			for u := range updates {
				s.deliver(u)
			}
		}()
	}
	return sub, nil
}

// activate makes sub the active set and stops the previous one.
func (s *SyncSession) activate(sub *subscription) {
	s.mu.Lock()
	old := s.active
	s.active = sub
	s.mu.Unlock()

	if old != nil {
		s.logger.Printf("Cancelled subscriptions for %s", old.code)
		old.stop()
	}
}

// Stop cancels the active subscriptions.
func (s *SyncSession) Stop() {
	s.mu.Lock()
	old := s.active
	s.active = nil
	s.mu.Unlock()

	if old != nil {
		old.stop()
	}
}
