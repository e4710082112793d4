package enrich

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/tourforge/poi-catalogue/internal/overpass"
)

// SleepFunc suspends between retry attempts, returning ctx's error when the
// context ends first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// JitterFunc draws the random share added to a backoff delay, in [0, limit).
type JitterFunc func(limit time.Duration) time.Duration

// RetryPolicy retries an operation with capped exponential backoff. Failures
// the classifier calls terminal stop the sequence immediately; retryable
// failures are swallowed until the attempt budget runs out, and only the
// last one surfaces.
type RetryPolicy struct {
	// MaxAttempts counts the first call too; values below one mean one.
	MaxAttempts int
	// InitialBackoff seeds the delay sequence and bounds the jitter draw.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential growth; zero means uncapped.
	MaxBackoff time.Duration
	// Retryable classifies errors; nil means SourceRetryable.
	Retryable func(error) bool
	// Sleep and Jitter are seams for tests; nil uses real time and uniform
	// randomness.
	Sleep  SleepFunc
	Jitter JitterFunc
}

// Execute runs op until success, a terminal failure, or exhaustion. It
// returns the number of attempts consumed alongside the final error.
func (p RetryPolicy) Execute(ctx context.Context, op func(context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = SourceRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return attempt, nil
		}
		if attempt >= maxAttempts || !retryable(err) {
			return attempt, err
		}
		if sleepErr := sleep(ctx, p.delay(attempt)); sleepErr != nil {
			return attempt, sleepErr
		}
	}
}

// delay computes the backoff after the given failed attempt: the initial
// delay doubled per attempt, capped, plus a jitter draw bounded by the
// initial delay.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			d = p.MaxBackoff
			break
		}
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = uniformJitter
	}
	return d + jitter(p.InitialBackoff)
}

// SourceRetryable treats Overpass transport, timeout, and rate-limit
// failures as retryable and everything else as terminal.
func SourceRetryable(err error) bool {
	var srcErr *overpass.Error
	if errors.As(err, &srcErr) {
		return srcErr.Retryable()
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func uniformJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}
