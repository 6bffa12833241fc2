package racews

import "time"

// Backoff is the bounded reconnection schedule used after an unexpected
// drop. Delays grow exponentially from Base, are capped at Max, and after
// MaxAttempts delays the schedule is exhausted and stays in the given-up
// state until Reset.
//
// Backoff is not safe for concurrent use; the client guards it with its
// session mutex.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int

	attempt int
	gaveUp  bool
}

// NewBackoff creates a schedule.
func NewBackoff(base, maxDelay time.Duration, maxAttempts int) *Backoff {
	return &Backoff{Base: base, Max: maxDelay, MaxAttempts: maxAttempts}
}

// Next returns the delay before the next attempt. ok is false once
// MaxAttempts delays have been handed out.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.gaveUp || b.attempt >= b.MaxAttempts {
		b.gaveUp = true
		return 0, false
	}

	delay = b.Base
	for i := 0; i < b.attempt; i++ {
		delay *= 2
		if delay >= b.Max {
			break
		}
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}

	b.attempt++
	return delay, true
}

// Attempt returns how many delays have been handed out since the last Reset.
func (b *Backoff) Attempt() int { return b.attempt }

// GaveUp reports whether the schedule is exhausted.
func (b *Backoff) GaveUp() bool { return b.gaveUp }

// Reset returns the schedule to its initial state.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.gaveUp = false
}
