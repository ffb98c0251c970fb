// Package remote provides the path-addressed real-time key/value store that
// devices sharing a sync code read from and write to.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned by operations on a store that has been closed or has
// lost its connection.
var ErrClosed = errors.New("remote store closed")

// Update is one pushed value for a subscribed path.
type Update struct {
	Path string
	// Value is the whole new value at Path. A nil or "null" value means the
	// path was cleared.
	Value json.RawMessage
	// Origin identifies the writer. Stores report their own origin through
	// Origin() so callers can recognise echoes of their own writes.
	Origin string
}

// Store is a remote real-time key/value store.
//
// Values are opaque JSON documents addressed by slash-separated paths such as
// "activities/ABC123". Writes are whole-value overwrites; there is no merge.
type Store interface {
	// Get fetches the current value at path. A path that was never written
	// returns a nil value and no error.
	//
	// Example:
	//   data, err := store.Get(ctx, "activities/ABC123")
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Set overwrites the value at path and notifies every subscriber of
	// path, including other subscriptions held by this store.
	//
	// Example:
	//   err := store.Set(ctx, "settings/ABC123", json.RawMessage(`{"stepsPerUnit":2000}`))
	Set(ctx context.Context, path string, value json.RawMessage) error

	// Subscribe streams updates written to path after the call returns.
	// The channel is closed when ctx is done or the store is closed.
	// Updates for one path arrive in write order.
	Subscribe(ctx context.Context, path string) (<-chan Update, error)

	// Origin returns the identifier this store stamps on its writes.
	Origin() string
}

// IsEmpty reports whether a value read from a store carries no data.
func IsEmpty(value json.RawMessage) bool {
	v := string(bytes.TrimSpace(value))
	return v == "" || v == "null"
}
