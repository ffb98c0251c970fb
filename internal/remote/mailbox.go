package remote

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO in front of a subscriber channel. Writers
// never block on a slow subscriber, and the subscriber still sees every
// update in order.
type mailbox struct {
	mu      sync.Mutex
	pending []Update
	closed  bool
	signal  chan struct{}
	out     chan Update
	done    chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		signal: make(chan struct{}, 1),
		out:    make(chan Update),
		done:   make(chan struct{}),
	}
}

// put queues u for delivery. It is a no-op after close.
func (m *mailbox) put(u Update) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.pending = append(m.pending, u)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// close stops delivery. Pending updates are discarded.
func (m *mailbox) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.done)
}

// run pumps queued updates into out until ctx is done or close is called,
// then closes out.
func (m *mailbox) run(ctx context.Context) {
	defer close(m.out)
	for {
		m.mu.Lock()
		var next *Update
		if len(m.pending) > 0 {
			u := m.pending[0]
			m.pending = m.pending[1:]
			next = &u
		}
		m.mu.Unlock()

		if next == nil {
			select {
			case <-m.signal:
				continue
			case <-m.done:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case m.out <- *next:
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
