// Package eventbus fans tracker change notifications out to whoever renders
// them: the watch command and tests.
//
// Publishing never blocks. A subscriber whose buffer is full misses the
// event, and the hub counts it so the consumer can say so.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Type names a kind of change.
type Type string

const (
	// ActivitiesChanged fires after the record set changed. Origin says who
	// changed it and Count is the new number of records.
	ActivitiesChanged Type = "activities.changed"
	// SettingsChanged fires after the conversion factor changed.
	SettingsChanged Type = "settings.changed"
	// SyncAttached fires once a sync code is attached.
	SyncAttached Type = "sync.attached"
	// InboxImported fires after an inbox file was merged. Count is the
	// number of records merged from File.
	InboxImported Type = "inbox.imported"
)

// Origin says whether a change was made here or arrived from another device.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Event is one notification. Only the fields relevant to Type are set.
type Event struct {
	Type         Type      `json:"type"`
	At           time.Time `json:"at"`
	Origin       Origin    `json:"origin,omitempty"`
	Count        int       `json:"count,omitempty"`
	StepsPerUnit int       `json:"stepsPerUnit,omitempty"`
	Code         string    `json:"code,omitempty"`
	File         string    `json:"file,omitempty"`
}

// Activities builds an ActivitiesChanged event.
func Activities(origin Origin, count int) Event {
	return Event{Type: ActivitiesChanged, Origin: origin, Count: count}
}

// Settings builds a SettingsChanged event.
func Settings(stepsPerUnit int) Event {
	return Event{Type: SettingsChanged, StepsPerUnit: stepsPerUnit}
}

// Attached builds a SyncAttached event.
func Attached(code string) Event {
	return Event{Type: SyncAttached, Code: code}
}

// Imported builds an InboxImported event.
func Imported(file string, count int) Event {
	return Event{Type: InboxImported, File: file, Count: count}
}

type subscriber struct {
	ch chan Event
	// types is nil when the subscriber wants everything.
	types map[Type]struct{}
}

func (s *subscriber) wants(t Type) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Hub is a non-blocking broadcast point. A nil *Hub silently drops
// everything.
type Hub struct {
	mu      sync.RWMutex
	subs    map[chan Event]*subscriber
	dropped atomic.Uint64
	now     func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]*subscriber), now: time.Now}
}

// Publish stamps evt and delivers it to every interested subscriber that has
// room for it.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = h.now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.wants(evt.Type) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of events that is closed when ctx is done.
// With no types given every event is delivered; otherwise only those types.
func (h *Hub) Subscribe(ctx context.Context, buffer int, types ...Type) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	h.mu.Lock()
	h.subs[sub.ch] = sub
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, sub.ch)
		h.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (h *Hub) Dropped() uint64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}
