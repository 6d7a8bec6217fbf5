package publish

import (
	"context"
	"sync"
)

// MemoryPublisher collects events in memory. It backs unit tests and
// single-node deployments where the fan-out collaborator polls instead of
// subscribing. With an async buffer it mirrors the broker adapter's
// decoupling: Publish never blocks on the consumer, Close drains.
type MemoryPublisher struct {
	mu     sync.RWMutex
	events []Event

	ch   chan Event
	done chan struct{}
}

// MemoryOption configures a MemoryPublisher.
type MemoryOption func(*MemoryPublisher)

// WithAsyncBuffer makes Publish enqueue into a buffered channel consumed by
// a single background goroutine.
func WithAsyncBuffer(size int) MemoryOption {
	return func(p *MemoryPublisher) {
		p.ch = make(chan Event, size)
	}
}

// NewMemoryPublisher creates an in-memory publisher.
func NewMemoryPublisher(opts ...MemoryOption) *MemoryPublisher {
	p := &MemoryPublisher{}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.ch != nil {
		p.done = make(chan struct{})
		go p.drain()
	}
	return p
}

func (p *MemoryPublisher) drain() {
	for ev := range p.ch {
		p.append(ev)
	}
	close(p.done)
}

func (p *MemoryPublisher) append(ev Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

// Publish records the event.
func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	if p.ch != nil {
		p.ch <- event
		return nil
	}
	p.append(event)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Event{}, p.events...)
}

// ByKind returns published events of one kind.
func (p *MemoryPublisher) ByKind(kind Kind) []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Event
	for _, ev := range p.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Close drains any pending async events.
func (p *MemoryPublisher) Close() error {
	if p.ch != nil {
		close(p.ch)
		<-p.done
	}
	return nil
}
