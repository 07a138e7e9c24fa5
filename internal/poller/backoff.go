// internal/poller/backoff.go
package poller

import (
	"time"

	"github.com/tamzrod/noah-poller/internal/failure"
)

// Backoff is the explicit retry state: a failure counter and the delay it
// implies. Every failure kind feeds the same counter.
//
//	delay = Base × m^min(failures, Cap), capped at Max
//
// m is 2, or RateLimitMultiplier while the latest failure is rate limiting.
// The delay never decreases until Success resets it to Base.
type Backoff struct {
	Base                time.Duration
	Max                 time.Duration
	Cap                 int
	RateLimitMultiplier int

	failures int
	current  time.Duration
}

// Failure records one failure and returns the next delay.
func (b *Backoff) Failure(kind failure.Kind) time.Duration {
	b.failures++

	m := time.Duration(2)
	if kind == failure.KindRateLimited && b.RateLimitMultiplier > 1 {
		m = time.Duration(b.RateLimitMultiplier)
	}

	exp := b.failures
	if exp > b.Cap {
		exp = b.Cap
	}

	d := b.Base
	for i := 0; i < exp && d < b.Max; i++ {
		d *= m
	}
	if d > b.Max {
		d = b.Max
	}
	if d < b.current {
		d = b.current
	}

	b.current = d
	return d
}

// Success clears the counter and returns the base delay.
func (b *Backoff) Success() time.Duration {
	b.failures = 0
	b.current = 0
	return b.Base
}

// Failures is the consecutive failure count.
func (b *Backoff) Failures() int { return b.failures }

// Delay is the current wait: Base when healthy.
func (b *Backoff) Delay() time.Duration {
	if b.failures == 0 {
		return b.Base
	}
	return b.current
}
