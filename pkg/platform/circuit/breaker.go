// Package circuit implements a consecutive-failure circuit breaker. The
// publish adapter uses it to stop hammering a dead broker: after the failure
// threshold trips, events are dropped locally until enough probes succeed.
package circuit

import "sync"

// State is the breaker position.
type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// Change reports a state transition caused by a recorded outcome, so callers
// can log open/close edges exactly once.
type Change struct {
	Opened bool
	Closed bool
}

// Breaker counts consecutive failures and successes. Safe for concurrent
// use.
type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int

	mu        sync.Mutex
	state     State
	failures  int
	successes int
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) { b.failureThreshold = n }
}

// WithSuccessThreshold sets how many consecutive successes close it again.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) { b.successThreshold = n }
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 1,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether callers should take the fallback path.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// RecordFailure counts one failed attempt. It returns whether the fallback
// path should be used now, and whether this failure opened the breaker.
func (b *Breaker) RecordFailure() (useFallback bool, change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes = 0
	if b.state == StateOpen {
		return true, Change{}
	}
	b.failures++
	if b.failures >= b.failureThreshold {
		b.state = StateOpen
		return true, Change{Opened: true}
	}
	return false, Change{}
}

// RecordSuccess counts one successful attempt. It returns whether the
// primary path is usable now, and whether this success closed the breaker.
func (b *Breaker) RecordSuccess() (usePrimary bool, change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateClosed {
		return true, Change{}
	}
	b.successes++
	if b.successes >= b.successThreshold {
		b.state = StateClosed
		b.successes = 0
		return true, Change{Closed: true}
	}
	return false, Change{}
}

// Reset forces the breaker closed and clears all counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
}
