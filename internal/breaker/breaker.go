// Package breaker implements a fixed-threshold circuit breaker for
// best-effort enrichment dependencies. There is no half-open state: after
// the cool-down elapses the breaker closes again with a zero failure count
// and the next call proceeds unconditionally.
package breaker

import (
	"sync"
	"time"
)

type Breaker struct {
	threshold int
	cooldown  time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	open        bool
	now         func() time.Time
}

func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. While open and within the
// cool-down it returns false; once the cool-down has elapsed the breaker
// resets to closed and the call is let through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.now().Sub(b.lastFailure) < b.cooldown {
		return false
	}
	b.open = false
	b.failures = 0
	return true
}

// Failure records a failed call. Reaching the threshold opens the breaker.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	if b.failures >= b.threshold {
		b.open = true
	}
}

// Success records a successful call and clears the failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
}

// Open reports whether the breaker is currently open.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
