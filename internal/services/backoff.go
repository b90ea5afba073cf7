package services

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff produces the bounded, increasing, jittered delay
// base + attempt*increment + [0,jitter) between generation-service
// attempts. Linear growth keeps the total added latency for the default
// attempt count under a few seconds while the jitter spreads out
// concurrent retries.
type linearBackOff struct {
	base      time.Duration
	increment time.Duration
	jitter    time.Duration

	attempt int
	hint    time.Duration // pending Retry-After from the upstream
}

var _ backoff.BackOff = (*linearBackOff)(nil)

const maxRetryAfterHint = 5 * time.Second

func newLinearBackOff(base, increment, jitter time.Duration) *linearBackOff {
	return &linearBackOff{base: base, increment: increment, jitter: jitter}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	delay := b.base + time.Duration(b.attempt)*b.increment
	if b.jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(b.jitter)))
	}
	b.attempt++

	// A Retry-After from the upstream overrides the computed delay, capped
	// so a hostile header cannot stall the request past its deadline.
	if b.hint > 0 {
		delay = b.hint
		if delay > maxRetryAfterHint {
			delay = maxRetryAfterHint
		}
		b.hint = 0
	}
	return delay
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
	b.hint = 0
}

// setHint records an upstream Retry-After to apply to the next delay only.
func (b *linearBackOff) setHint(d time.Duration) {
	if d > 0 {
		b.hint = d
	}
}
