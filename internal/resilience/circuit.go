// Package resilience classifies provider failures and provides retry and
// circuit-breaker helpers for provider calls.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the state of a Breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout passes.
	CircuitOpen
	// CircuitHalfOpen lets one probe through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected by an open breaker.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker opens after a run of consecutive transient failures so a dead
// provider is not hammered for the rest of a pass. Throttling and
// permanent errors do not count; the quota cooldown handles throttling.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	reset     time.Duration
	state     CircuitState
	failures  int
	openedAt  time.Time
	now       func() time.Time
}

// NewBreaker creates a closed Breaker.
func NewBreaker(threshold int, reset time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if reset <= 0 {
		reset = 30 * time.Second
	}
	return &Breaker{threshold: threshold, reset: reset, now: time.Now}
}

// Allow reports whether a call may proceed, moving an expired open
// breaker to half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.reset {
		b.state = CircuitHalfOpen
	}
	return b.state != CircuitOpen
}

// Record feeds a call result into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !IsTransient(err) {
		b.failures = 0
		if b.state == CircuitHalfOpen && err == nil {
			b.state = CircuitClosed
		}
		return
	}

	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= b.threshold {
		b.state = CircuitOpen
		b.openedAt = b.now()
	}
}

// State returns the current state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call runs fn through b.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !b.Allow() {
		return zero, ErrCircuitOpen
	}
	v, err := fn(ctx)
	b.Record(err)
	return v, err
}

// Breakers holds one Breaker per provider.
type Breakers struct {
	mu        sync.Mutex
	threshold int
	reset     time.Duration
	m         map[string]*Breaker
}

// NewBreakers creates an empty registry.
func NewBreakers(threshold int, reset time.Duration) *Breakers {
	return &Breakers{threshold: threshold, reset: reset, m: make(map[string]*Breaker)}
}

// Get returns the breaker for provider, creating it on first use.
func (bs *Breakers) Get(provider string) *Breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.m[provider]
	if !ok {
		b = NewBreaker(bs.threshold, bs.reset)
		bs.m[provider] = b
	}
	return b
}

// States returns a snapshot of every breaker's state.
func (bs *Breakers) States() map[string]CircuitState {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	out := make(map[string]CircuitState, len(bs.m))
	for name, b := range bs.m {
		out[name] = b.State()
	}
	return out
}
