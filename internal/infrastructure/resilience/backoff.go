package resilience

import "time"

// Backoff is a capped exponential retry schedule.
//
// Attempt n (1-based) waits Base * 2^(n-1). Max, when set, caps a single
// delay. MaxAttempts bounds how many attempts are allowed at all.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the wait before attempt n. n below 1 is treated as 1.
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	d := b.Base
	for i := 1; i < n; i++ {
		d *= 2
		// overflow or cap
		if d <= 0 || (b.Max > 0 && d >= b.Max) {
			if b.Max > 0 {
				return b.Max
			}
			return time.Duration(1<<63 - 1)
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Allowed reports whether attempt n is within MaxAttempts.
// A zero MaxAttempts allows unlimited attempts.
func (b Backoff) Allowed(n int) bool {
	return b.MaxAttempts <= 0 || n <= b.MaxAttempts
}

// Schedule lists the delays for every allowed attempt.
// It returns nil for an unlimited schedule.
func (b Backoff) Schedule() []time.Duration {
	if b.MaxAttempts <= 0 {
		return nil
	}
	out := make([]time.Duration, b.MaxAttempts)
	for i := range out {
		out[i] = b.Delay(i + 1)
	}
	return out
}
