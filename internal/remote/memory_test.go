package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestMemory_GetSet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	got, err := m.Get(ctx, "activities/ABC123")
	if err != nil || got != nil {
		t.Fatalf("Get on empty store = %s, %v", got, err)
	}

	if err := m.Set(ctx, "activities/ABC123", json.RawMessage(`[]`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, _ = m.Get(ctx, "activities/ABC123")
	if string(got) != "[]" {
		t.Errorf("Get = %s, want []", got)
	}

	if err := m.Set(ctx, "activities/ABC123", json.RawMessage(`null`)); err != nil {
		t.Fatalf("Set null failed: %v", err)
	}
	if got, _ := m.Get(ctx, "activities/ABC123"); got != nil {
		t.Errorf("expected null to clear the path, got %s", got)
	}
}

func TestMemory_PeersShareDataWithDistinctOrigins(t *testing.T) {
	a := NewMemory()
	b := a.Peer()
	if a.Origin() == b.Origin() {
		t.Fatal("peers must not share an origin")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates, err := b.Subscribe(ctx, "settings/ABC123")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := a.Set(ctx, "settings/ABC123", json.RawMessage(`{"stepsPerUnit":2100}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	select {
	case u := <-updates:
		if u.Origin != a.Origin() || string(u.Value) != `{"stepsPerUnit":2100}` {
			t.Errorf("update = %+v", u)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for update")
	}

	got, _ := b.Get(ctx, "settings/ABC123")
	if string(got) != `{"stepsPerUnit":2100}` {
		t.Errorf("peer Get = %s", got)
	}
}

func TestMemory_UpdatesArriveInOrder(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates, err := m.Subscribe(ctx, "p")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// The subscriber is not reading yet; writes must not block.
	const n = 200
	for i := 0; i < n; i++ {
		if err := m.Set(ctx, "p", json.RawMessage(fmt.Sprint(i))); err != nil {
			t.Fatalf("Set %d failed: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case u := <-updates:
			if string(u.Value) != fmt.Sprint(i) {
				t.Fatalf("update %d = %s", i, u.Value)
			}
		case <-ctx.Done():
			t.Fatalf("timed out at update %d", i)
		}
	}
}

func TestMemory_SubscriptionEndsWithContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	updates, err := m.Subscribe(ctx, "p")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if m.Subscribers("p") != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	cancel()

	select {
	case _, ok := <-updates:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	deadline := time.Now().Add(time.Second)
	for m.Subscribers("p") != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := m.Subscribers("p"); n != 0 {
		t.Errorf("expected subscription to be removed, %d left", n)
	}
}

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"null", true},
		{" null\n", true},
		{"[]", false},
		{"{}", false},
	}
	for _, tt := range tests {
		if got := IsEmpty(json.RawMessage(tt.in)); got != tt.want {
			t.Errorf("IsEmpty(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
