package engine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// RetryPolicy bounds retries of transient platform failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// Jitter is the randomization factor applied to each delay, in [0,1).
	Jitter float64
}

// DefaultRetryPolicy returns 5 attempts starting at 1s and doubling up to 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		Jitter:      backoff.DefaultRandomizationFactor,
	}
}

// RetryState tracks one in-flight mutation's attempts. It is discarded on the
// terminal outcome.
type RetryState struct {
	Attempt      int
	NextEligible time.Time

	backoff *backoff.ExponentialBackOff
}

func newRetryState(p RetryPolicy, clock clockwork.Clock) *RetryState {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               clock,
	}
	b.Reset()
	return &RetryState{backoff: b}
}

// next records a failed attempt and returns how long to wait before the next one.
// The platform's own retry-after hint wins when it is longer. ok is false once
// the attempt ceiling is reached.
func (r *RetryState) next(p RetryPolicy, now time.Time, retryAfter time.Duration) (time.Duration, bool) {
	if r.Attempt >= p.MaxAttempts {
		return 0, false
	}

	delay := r.backoff.NextBackOff()
	if delay == backoff.Stop {
		return 0, false
	}
	delay = max(delay, retryAfter)

	r.NextEligible = now.Add(delay)
	return delay, true
}
