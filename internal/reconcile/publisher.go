package reconcile

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/milestep/milestep/internal/remote"
)

// push is one pending whole-value write.
type push struct {
	path  string
	value json.RawMessage
}

// publisher performs remote writes on a single goroutine, in the order they
// were queued. Failures are logged and dropped; there is no retry.
type publisher struct {
	remote  remote.Store
	logger  *log.Logger
	timeout time.Duration

	queue chan push

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func newPublisher(store remote.Store, logger *log.Logger, timeout time.Duration) *publisher {
	return &publisher{
		remote:  store,
		logger:  logger,
		timeout: timeout,
		queue:   make(chan push, 64),
	}
}

// start launches the worker. Writes use ctx as their parent, so cancelling
// it aborts in-flight and pending writes.
func (p *publisher) start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	p.wg.Add(1)
	go p.run(ctx)
}

// enqueue hands a write to the worker. It blocks only while the queue is
// full.
func (p *publisher) enqueue(path string, value json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Printf("Dropping push to %s: publisher closed", path)
		return
	}
	p.queue <- push{path: path, value: value}
}

// close stops accepting writes and waits for queued ones to finish.
func (p *publisher) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
	}
}

func (p *publisher) run(ctx context.Context) {
	defer p.wg.Done()

	for item := range p.queue {
		if ctx.Err() != nil {
			p.logger.Printf("Dropping push to %s: %v", item.path, ctx.Err())
			continue
		}
		writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.remote.Set(writeCtx, item.path, item.value)
		cancel()
		if err != nil {
			p.logger.Printf("Failed to push %s: %v", item.path, err)
			continue
		}
		p.logger.Printf("Pushed %s (%d bytes)", item.path, len(item.value))
	}
}
