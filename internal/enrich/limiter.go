package enrich

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimiter bounds simultaneous in-flight Overpass calls. A permit
// covers one job's whole retry sequence, never a single attempt.
type ConcurrencyLimiter struct {
	sem *semaphore.Weighted
}

// NewConcurrencyLimiter builds a limiter with the given permit count,
// raising counts below one to one.
func NewConcurrencyLimiter(permits int) *ConcurrencyLimiter {
	if permits < 1 {
		permits = 1
	}
	return &ConcurrencyLimiter{sem: semaphore.NewWeighted(int64(permits))}
}

// Acquire blocks until a permit frees or ctx ends.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release returns a permit.
func (l *ConcurrencyLimiter) Release() {
	l.sem.Release(1)
}
