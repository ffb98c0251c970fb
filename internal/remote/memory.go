package remote

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// memoryBackend is the data shared by every Memory peer.
type memoryBackend struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
	subs   map[string]map[*mailbox]struct{}
}

// Memory is an in-process Store. Peers created with Peer share the same data
// but write with distinct origins, which is enough to stand in for several
// devices in one process.
type Memory struct {
	backend *memoryBackend
	origin  string
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store with a fresh origin.
func NewMemory() *Memory {
	return &Memory{
		backend: &memoryBackend{
			values: make(map[string]json.RawMessage),
			subs:   make(map[string]map[*mailbox]struct{}),
		},
		origin: uuid.NewString(),
	}
}

// Peer returns another view of the same data with its own origin.
func (m *Memory) Peer() *Memory {
	return &Memory{backend: m.backend, origin: uuid.NewString()}
}

// Origin implements Store.
func (m *Memory) Origin() string {
	return m.origin
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := m.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[path]
	if !ok {
		return nil, nil
	}
	return append(json.RawMessage(nil), v...), nil
}

// Set implements Store. Setting null clears the path.
func (m *Memory) Set(ctx context.Context, path string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := append(json.RawMessage(nil), value...)

	b := m.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if IsEmpty(v) {
		delete(b.values, path)
	} else {
		b.values[path] = v
	}
	for mb := range b.subs[path] {
		mb.put(Update{Path: path, Value: v, Origin: m.origin})
	}
	return nil
}

// Subscribe implements Store.
func (m *Memory) Subscribe(ctx context.Context, path string) (<-chan Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mb := newMailbox()

	b := m.backend
	b.mu.Lock()
	if b.subs[path] == nil {
		b.subs[path] = make(map[*mailbox]struct{})
	}
	b.subs[path][mb] = struct{}{}
	b.mu.Unlock()

	go mb.run(ctx)
	go func() {
		select {
		case <-ctx.Done():
		case <-mb.done:
		}
		b.mu.Lock()
		delete(b.subs[path], mb)
		if len(b.subs[path]) == 0 {
			delete(b.subs, path)
		}
		b.mu.Unlock()
		mb.close()
	}()

	return mb.out, nil
}

// Subscribers returns the number of live subscriptions on path.
func (m *Memory) Subscribers(path string) int {
	b := m.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[path])
}
