package service

import (
	"errors"
	"time"
)

// ErrRetriesExhausted means the operation stayed blocked by a foreign lock
// for every attempt the policy allowed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy bounds how long a save waits for a transient foreign lock to
// clear. The delay is a fixed pause between attempts.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// DefaultRetryPolicy waits up to five times half a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, Delay: 500 * time.Millisecond}
}

// Do runs fn up to Attempts times, pausing Delay between attempts while
// retryable reports the error as transient. Non-retryable errors are
// returned immediately; running out of attempts returns ErrRetriesExhausted
// wrapping the last error.
func (p RetryPolicy) Do(fn func() error, retryable func(error) bool) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	pause := p.sleep
	if pause == nil {
		pause = time.Sleep
	}

	var last error
	for i := 0; i < attempts; i++ {
		last = fn()
		if last == nil {
			return nil
		}
		if !retryable(last) {
			return last
		}
		if i < attempts-1 {
			pause(p.Delay)
		}
	}
	return errors.Join(ErrRetriesExhausted, last)
}
