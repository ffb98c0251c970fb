package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// ClientConfig holds client configuration.
type ClientConfig struct {
	// URL of the relay WebSocket endpoint, e.g. ws://localhost:8787/ws.
	URL string

	// Timeout bounds the initial dial (default: 10s). Individual requests
	// are bounded by their context.
	Timeout time.Duration

	// Origin stamped on writes (default: random uuid).
	Origin string

	// Logger for connection activity (default: stderr logger).
	Logger *log.Logger
}

// Client is a Store backed by a relay server over one WebSocket connection.
type Client struct {
	conn   *websocket.Conn
	origin string
	logger *log.Logger

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Frame
	subs    map[string]map[*mailbox]struct{}
	err     error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Store = (*Client)(nil)

// Dial connects to the relay at cfg.URL.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	client, err := remote.Dial(ctx, remote.ClientConfig{URL: "ws://localhost:8787/ws"})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Origin == "" {
		cfg.Origin = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, cfg.Timeout)
	defer cancelDial()

	conn, _, err := websocket.Dial(dialCtx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}
	// Snapshots of a full year of records are larger than the 32KiB default.
	conn.SetReadLimit(8 << 20)

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		origin:  cfg.Origin,
		logger:  cfg.Logger,
		pending: make(map[uint64]chan Frame),
		subs:    make(map[string]map[*mailbox]struct{}),
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Origin implements Store.
func (c *Client) Origin() string {
	return c.origin
}

// Get implements Store.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	res, err := c.request(ctx, Frame{Op: OpGet, Path: path})
	if err != nil {
		return nil, err
	}
	if IsEmpty(res.Value) {
		return nil, nil
	}
	return res.Value, nil
}

// Set implements Store.
func (c *Client) Set(ctx context.Context, path string, value json.RawMessage) error {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	_, err := c.request(ctx, Frame{Op: OpSet, Path: path, Value: value, Origin: c.origin})
	return err
}

// Subscribe implements Store. The relay is only asked to stream a path once
// however many local subscriptions share it.
func (c *Client) Subscribe(ctx context.Context, path string) (<-chan Update, error) {
	mb := newMailbox()

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	first := len(c.subs[path]) == 0
	if first {
		c.subs[path] = make(map[*mailbox]struct{})
	}
	c.subs[path][mb] = struct{}{}
	c.mu.Unlock()

	if first {
		if _, err := c.request(ctx, Frame{Op: OpSubscribe, Path: path}); err != nil {
			c.removeSub(path, mb)
			return nil, err
		}
	}

	go mb.run(ctx)
	go func() {
		select {
		case <-ctx.Done():
		case <-mb.done:
		}
		if c.removeSub(path, mb) {
			reqCtx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
			if _, err := c.request(reqCtx, Frame{Op: OpUnsubscribe, Path: path}); err != nil && !errors.Is(err, ErrClosed) {
				c.logger.Printf("Failed to unsubscribe from %s: %v", path, err)
			}
			cancel()
		}
	}()

	return mb.out, nil
}

// removeSub drops mb and reports whether it was the last subscriber of path.
func (c *Client) removeSub(path string, mb *mailbox) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.subs[path]
	if !ok {
		return false
	}
	if _, ok := set[mb]; !ok {
		return false
	}
	delete(set, mb)
	mb.close()
	if len(set) == 0 {
		delete(c.subs, path)
		return true
	}
	return false
}

// Close shuts the connection down. Pending requests fail with ErrClosed and
// subscription channels are closed.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	// The read loop may already have torn the connection down.
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	<-c.done
	return nil
}

func (c *Client) request(ctx context.Context, f Frame) (Frame, error) {
	f.ID = c.nextID.Add(1)
	reply := make(chan Frame, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return Frame{}, c.err
	}
	c.pending[f.ID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}()

	if err := wsjson.Write(ctx, c.conn, f); err != nil {
		return Frame{}, fmt.Errorf("failed to send %s %s: %w", f.Op, f.Path, err)
	}

	select {
	case res, ok := <-reply:
		if !ok {
			return Frame{}, c.closedErr()
		}
		if res.Error != "" {
			return Frame{}, fmt.Errorf("relay rejected %s %s: %s", f.Op, f.Path, res.Error)
		}
		return res, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		var f Frame
		if err := wsjson.Read(c.ctx, c.conn, &f); err != nil {
			if c.ctx.Err() == nil {
				c.logger.Printf("Connection lost: %v", err)
			}
			c.fail(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		switch f.Op {
		case OpResult:
			// Sent under the lock so fail cannot close reply in between.
			c.mu.Lock()
			if reply, ok := c.pending[f.ID]; ok {
				reply <- f
			}
			c.mu.Unlock()
		case OpEvent:
			u := Update{Path: f.Path, Value: f.Value, Origin: f.Origin}
			c.mu.Lock()
			for mb := range c.subs[f.Path] {
				mb.put(u)
			}
			c.mu.Unlock()
		default:
			c.logger.Printf("Ignoring unexpected frame %q", f.Op)
		}
	}
}

// fail records the terminal error once and releases everyone waiting.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	c.cancel()
	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}
	for path, set := range c.subs {
		for mb := range set {
			mb.close()
		}
		delete(c.subs, path)
	}
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClosed
}
