// Package workflow holds the contract between workflow definitions and the
// orchestration engine. A definition is deterministic transition logic: it is
// re-run from the start on every engine pass, with previously recorded
// activity results fed back in order, so it must not read wall-clock time,
// generate random values or perform I/O outside of Call.
package workflow

import "time"

// Definition is a workflow definition. It advances by requesting activities
// through Call and finishes by returning a terminal output, or an error for
// a failed outcome.
type Definition func(ctx *Context) (any, error)

type RetryOptions struct {
	// MaxAttempts is the maximum number of times an activity is attempted
	MaxAttempts int

	FirstRetryInterval time.Duration

	MaxRetryInterval time.Duration

	BackoffCoefficient float64
}

var DefaultRetryOptions = RetryOptions{
	MaxAttempts:        3,
	FirstRetryInterval: time.Second,
	MaxRetryInterval:   time.Minute,
	BackoffCoefficient: 2,
}

// NextRetryDelay returns the backoff delay before the given attempt. The
// first retry (attempt 2) waits FirstRetryInterval.
func (ro RetryOptions) NextRetryDelay(attempt int) time.Duration {
	delay := ro.FirstRetryInterval

	for i := 2; i < attempt; i++ {
		delay = time.Duration(float64(delay) * ro.BackoffCoefficient)
		if ro.MaxRetryInterval > 0 && delay >= ro.MaxRetryInterval {
			return ro.MaxRetryInterval
		}
	}

	if ro.MaxRetryInterval > 0 && delay > ro.MaxRetryInterval {
		return ro.MaxRetryInterval
	}

	return delay
}
