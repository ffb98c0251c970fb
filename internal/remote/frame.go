package remote

import "encoding/json"

// Op names a frame on the relay wire protocol.
type Op string

const (
	// OpGet reads the value at Path.
	OpGet Op = "get"
	// OpSet overwrites the value at Path with Value.
	OpSet Op = "set"
	// OpSubscribe starts streaming events for Path to the connection.
	OpSubscribe Op = "subscribe"
	// OpUnsubscribe stops streaming events for Path.
	OpUnsubscribe Op = "unsubscribe"
	// OpResult answers a request with the same ID.
	OpResult Op = "result"
	// OpEvent pushes a new value for a subscribed path.
	OpEvent Op = "event"
)

// Frame is one JSON message exchanged with the relay over WebSocket.
//
// Requests carry a client-chosen ID that the matching result echoes back.
// Events have no ID.
type Frame struct {
	Op     Op              `json:"op"`
	ID     uint64          `json:"id,omitempty"`
	Path   string          `json:"path,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Origin string          `json:"origin,omitempty"`
	Error  string          `json:"error,omitempty"`
}
