// Package retrypolicy is a small exponential-backoff-with-cap helper
// for collaborator clients that need "per-host HTTP timers and retry
// counters"; pkg/invclient is its one user. It is
// an explicit struct with a Next() method rather than an implicit
// goroutine-based retrier, so call sites keep control of their own
// sleeping and cancellation.
package retrypolicy

import "time"

// Policy computes successive retry delays, doubling from Initial up to
// Max, with an attempt cap. A Policy is not safe for concurrent use;
// each collaborator call site owns its own instance.
type Policy struct {
	Initial  time.Duration
	Max      time.Duration
	MaxTries int // 0 means unlimited

	attempt int
	current time.Duration
}

// New creates a Policy with the given initial delay, cap, and maximum
// number of tries (0 for unlimited).
func New(initial, max time.Duration, maxTries int) *Policy {
	return &Policy{Initial: initial, Max: max, MaxTries: maxTries}
}

// Next returns the delay to wait before the next attempt and whether
// another attempt is permitted. The first call returns Initial.
func (p *Policy) Next() (time.Duration, bool) {
	if p.MaxTries > 0 && p.attempt >= p.MaxTries {
		return 0, false
	}
	p.attempt++

	if p.current == 0 {
		p.current = p.Initial
	} else {
		p.current *= 2
		if p.Max > 0 && p.current > p.Max {
			p.current = p.Max
		}
	}
	return p.current, true
}

// Reset clears attempt count and backoff state, e.g. after a
// successful call.
func (p *Policy) Reset() {
	p.attempt = 0
	p.current = 0
}

// Attempts returns the number of Next() calls since construction or
// the last Reset.
func (p *Policy) Attempts() int {
	return p.attempt
}
