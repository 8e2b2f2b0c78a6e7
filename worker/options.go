package worker

import (
	"time"

	"github.com/learn-automated-testing/invoiceflow/workflow"
)

type Options struct {
	// Pollers is the number of concurrent polling loops per task type
	Pollers int

	// MaxParallelTasks limits concurrently processed tasks per task type.
	// Zero means no limit.
	MaxParallelTasks int

	// PollingInterval is how long a poller sleeps after an empty poll
	PollingInterval time.Duration

	// HeartbeatInterval is how often the lock of an in-flight task is
	// extended. Zero disables heartbeating.
	HeartbeatInterval time.Duration

	// ActivityTimeout bounds the execution of a single activity attempt.
	// Zero means no timeout.
	ActivityTimeout time.Duration

	// RetryOptions controls how failed activity attempts are retried
	RetryOptions workflow.RetryOptions
}

var DefaultOptions = Options{
	Pollers:           2,
	MaxParallelTasks:  20,
	PollingInterval:   200 * time.Millisecond,
	HeartbeatInterval: 25 * time.Second,
	ActivityTimeout:   time.Minute,
	RetryOptions:      workflow.DefaultRetryOptions,
}

type Option func(*Options)

func WithPollers(n int) Option {
	return func(o *Options) {
		o.Pollers = n
	}
}

func WithMaxParallelTasks(n int) Option {
	return func(o *Options) {
		o.MaxParallelTasks = n
	}
}

func WithPollingInterval(interval time.Duration) Option {
	return func(o *Options) {
		o.PollingInterval = interval
	}
}

func WithHeartbeatInterval(interval time.Duration) Option {
	return func(o *Options) {
		o.HeartbeatInterval = interval
	}
}

func WithActivityTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.ActivityTimeout = timeout
	}
}

func WithRetryOptions(ro workflow.RetryOptions) Option {
	return func(o *Options) {
		o.RetryOptions = ro
	}
}
