package backoff

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// circuitBreaker counts retryable failures in a trailing time window and
// fails fast once a threshold is crossed. State is process-local and never
// persisted.
type circuitBreaker struct {
	mu sync.Mutex

	threshold int
	window    time.Duration
	cooldown  time.Duration

	state    breakerState
	failures []time.Time
	openedAt time.Time
}

func newCircuitBreaker(threshold int, window, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		state:     breakerClosed,
	}
}

// Allow reports whether an attempt may proceed. An open breaker transitions
// to half-open once the cool-down has elapsed, admitting a trial attempt.
func (b *circuitBreaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if now.Sub(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordFailure notes one retryable failure. Failures outside the trailing
// window no longer count. A failure during half-open re-opens immediately.
func (b *circuitBreaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = now
		return
	}

	b.prune(now)
	b.failures = append(b.failures, now)

	if b.state == breakerClosed && len(b.failures) >= b.threshold {
		b.state = breakerOpen
		b.openedAt = now
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = breakerClosed
	b.failures = b.failures[:0]
}

// prune drops failures that fell out of the trailing window.
// Caller holds b.mu.
func (b *circuitBreaker) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}
