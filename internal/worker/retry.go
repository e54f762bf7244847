package worker

import (
	"errors"
	"math"
	"time"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/notify"
)

// RetryPolicy defines exponential backoff for notification delivery.
// A zero field takes its value from DefaultRetryPolicy.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy retries five times, from 2s up to one minute.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:    5,
	InitialDelay:  2 * time.Second,
	MaxDelay:      time.Minute,
	BackoffFactor: 2,
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxRetries == 0 {
		r.MaxRetries = DefaultRetryPolicy.MaxRetries
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = DefaultRetryPolicy.InitialDelay
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = DefaultRetryPolicy.BackoffFactor
	}
	return r
}

// NextDelay returns the wait before retry number attempt (1-based), capped at MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
	if r.MaxDelay > 0 && (d > r.MaxDelay || d <= 0) {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// RetryAt returns when a task that failed its attempt-th delivery should run
// again, or nil when it must go to the dead letter. Failures that cannot
// succeed on a retry, like a malformed recipient or an unknown channel, are
// never retried.
func (r RetryPolicy) RetryAt(attempt int, cause error, now time.Time) *time.Time {
	if permanent(cause) || attempt >= r.MaxRetries {
		return nil
	}
	next := now.Add(r.NextDelay(attempt))
	return &next
}

func permanent(err error) bool {
	return errors.Is(err, domain.ErrValidation) || errors.Is(err, notify.ErrUnsupportedKind)
}
