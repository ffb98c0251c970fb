package eventbus

import (
	"context"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_PublishSubscribe(t *testing.T) {
	h := NewHub()
	at := time.Date(2026, time.October, 19, 8, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return at }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := h.Subscribe(ctx, 4)
	h.Publish(Settings(2200))

	evt := receive(t, ch)
	if evt.Type != SettingsChanged || evt.StepsPerUnit != 2200 {
		t.Errorf("got %+v", evt)
	}
	if !evt.At.Equal(at) {
		t.Errorf("expected event to be stamped %s, got %s", at, evt.At)
	}
}

func TestHub_FiltersByType(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remoteOnly := h.Subscribe(ctx, 4, ActivitiesChanged, SyncAttached)
	all := h.Subscribe(ctx, 4)

	h.Publish(Settings(2100))
	h.Publish(Activities(OriginRemote, 3))
	h.Publish(Imported("a.json", 2))
	h.Publish(Attached("ABC123"))

	if evt := receive(t, remoteOnly); evt.Type != ActivitiesChanged || evt.Origin != OriginRemote || evt.Count != 3 {
		t.Errorf("first filtered event = %+v", evt)
	}
	if evt := receive(t, remoteOnly); evt.Type != SyncAttached || evt.Code != "ABC123" {
		t.Errorf("second filtered event = %+v", evt)
	}
	select {
	case evt := <-remoteOnly:
		t.Errorf("unexpected filtered event %+v", evt)
	default:
	}

	for _, want := range []Type{SettingsChanged, ActivitiesChanged, InboxImported, SyncAttached} {
		if evt := receive(t, all); evt.Type != want {
			t.Errorf("got %s, want %s", evt.Type, want)
		}
	}
	if h.Dropped() != 0 {
		t.Errorf("filtered events counted as dropped: %d", h.Dropped())
	}
}

func TestHub_DropsForSlowConsumer(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := h.Subscribe(ctx, 1)
	h.Publish(Activities(OriginLocal, 1))
	h.Publish(Settings(2000))

	if evt := <-ch; evt.Type != ActivitiesChanged {
		t.Errorf("first event = %s", evt.Type)
	}
	select {
	case evt := <-ch:
		t.Errorf("expected second event to be dropped, got %s", evt.Type)
	default:
	}
	if h.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", h.Dropped())
	}
}

func TestHub_UnsubscribeOnCancel(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx, 1)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Errorf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if n := h.Subscribers(); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}
}

func TestHub_NilIsSafe(t *testing.T) {
	var h *Hub
	h.Publish(Activities(OriginLocal, 0))
	if h.Subscribers() != 0 || h.Dropped() != 0 {
		t.Errorf("nil hub should report nothing")
	}
}
