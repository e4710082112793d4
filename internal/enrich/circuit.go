package enrich

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

// CircuitBreaker isolates the Overpass upstream after consecutive failures.
// Closed admits every call. Once the failure threshold is met the breaker
// opens and rejects calls until the cooldown elapses, then admits exactly
// one half-open probe: probe success closes the breaker again, probe failure
// reopens it with a fresh cooldown. One instance is shared by every job
// targeting the same upstream.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	state         breakerState
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// NewCircuitBreaker builds a closed breaker. Thresholds below one are raised
// to one so a misconfigured breaker still trips.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed at time now. An open breaker
// starts admitting again once now reaches openedAt+cooldown, and then only a
// single probe until that probe's outcome is recorded.
func (b *CircuitBreaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = breakerHalfOpen
		b.probeInFlight = true
		return true
	case breakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker and clears the consecutive-failure count.
func (b *CircuitBreaker) RecordSuccess(time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = breakerClosed
	b.failures = 0
	b.probeInFlight = false
}

// RecordFailure counts one failed call. Reaching the threshold while closed
// opens the breaker; a failed half-open probe reopens it with a fresh
// cooldown window.
func (b *CircuitBreaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.open(now)
		}
	case breakerHalfOpen:
		b.open(now)
	case breakerOpen:
		// late report from a call admitted earlier; the cooldown window
		// keeps its original start
	}
}

// AbandonProbe returns an admitted half-open probe slot without recording an
// outcome, for callers that aborted before reaching the upstream.
func (b *CircuitBreaker) AbandonProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.probeInFlight = false
	}
}

func (b *CircuitBreaker) open(now time.Time) {
	b.state = breakerOpen
	b.openedAt = now
	b.failures = 0
	b.probeInFlight = false
}
