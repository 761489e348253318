package classifier

import (
	"sync"
	"time"

	"github.com/room4-2/ordercall/metrics"
)

// BreakerState is the circuit breaker state
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Breaker stops calling a failing oracle for a while so turns fall back
// immediately instead of waiting on timeouts.
type Breaker struct {
	mu           sync.Mutex
	name         string
	state        BreakerState
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	probing      bool
	clock        clock
}

// NewBreaker creates a breaker that opens after threshold consecutive failures
func NewBreaker(name string, threshold int, resetTimeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	b := &Breaker{
		name:         name,
		state:        BreakerClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		clock:        realClock{},
	}
	metrics.SetCircuitBreakerState(b.name, string(b.state))
	return b
}

// Allow reports whether a call may go to the oracle. While half-open only
// one call at a time is let through; it must be followed by RecordSuccess or
// RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.clock.Now().Sub(b.openedAt) <= b.resetTimeout {
			return false
		}
		b.transitionTo(BreakerHalfOpen)
		b.probing = true
		return true
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	case BreakerClosed:
		return true
	}
	return true
}

// RecordFailure counts a failed oracle call
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	b.failures++
	if b.state == BreakerHalfOpen || (b.state == BreakerClosed && b.failures >= b.threshold) {
		b.transitionTo(BreakerOpen)
	}
}

// RecordSuccess resets the failure count and closes the breaker
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	b.failures = 0
	b.transitionTo(BreakerClosed)
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transitionTo updates state and metrics. Caller must hold lock.
func (b *Breaker) transitionTo(next BreakerState) {
	if b.state == next {
		return
	}
	b.state = next
	if next == BreakerOpen {
		b.openedAt = b.clock.Now()
	}
	metrics.SetCircuitBreakerState(b.name, string(next))
}
