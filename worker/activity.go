package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/learn-automated-testing/invoiceflow/backend"
	"github.com/learn-automated-testing/invoiceflow/backend/history"
	"github.com/learn-automated-testing/invoiceflow/backend/metrics"
	"github.com/learn-automated-testing/invoiceflow/backend/payload"
	"github.com/learn-automated-testing/invoiceflow/internal/log"
	"github.com/learn-automated-testing/invoiceflow/internal/metrickeys"
	"github.com/learn-automated-testing/invoiceflow/internal/workflowerrors"
	"github.com/learn-automated-testing/invoiceflow/registry"
)

// activityWorker executes activity tasks with at-least-once semantics:
// failed retryable attempts are re-enqueued with backoff under the same
// correlation id, and only the final outcome is recorded as a history event.
type activityWorker struct {
	backend backend.Backend

	registry *registry.Registry

	options *Options

	clock clock.Clock
}

func newActivityWorker(b backend.Backend, r *registry.Registry, clock clock.Clock, options *Options) *activityWorker {
	return &activityWorker{
		backend:  b,
		registry: r,
		options:  options,
		clock:    clock,
	}
}

func (aw *activityWorker) Get(ctx context.Context) (*backend.ActivityTask, error) {
	return aw.backend.GetActivityTask(ctx)
}

func (aw *activityWorker) Extend(ctx context.Context, task *backend.ActivityTask) error {
	return aw.backend.ExtendActivityTask(ctx, task)
}

func (aw *activityWorker) Execute(ctx context.Context, task *backend.ActivityTask) (*history.Event, error) {
	a, ok := task.Event.Attributes.(*history.ActivityScheduledAttributes)
	if !ok {
		return nil, fmt.Errorf("activity task %s has invalid attributes", task.Event.ID)
	}

	ametrics := aw.backend.Metrics().WithTags(metrics.Tags{metrickeys.ActivityName: a.Name})

	// Record how long this task was in the queue
	timeInQueue := aw.clock.Since(task.Event.Timestamp)
	ametrics.Distribution(metrickeys.ActivityTaskDelay, metrics.Tags{}, float64(timeInQueue/time.Millisecond))

	ctx, span := aw.backend.Tracer().Start(ctx, "ActivityTaskExecution", trace.WithAttributes(
		attribute.String(log.ActivityNameKey, a.Name),
		attribute.String(log.InstanceIDKey, task.Instance.InstanceID),
		attribute.Int(log.AttemptKey, task.Attempt),
	))
	defer span.End()

	logger := aw.backend.Logger().With(
		log.ActivityNameKey, a.Name,
		log.InstanceIDKey, task.Instance.InstanceID,
		log.ScheduleEventIDKey, task.Event.ScheduleEventID,
		log.AttemptKey, task.Attempt,
	)

	start := aw.clock.Now()
	result, execErr := aw.run(ctx, a.Name, a.Input)
	ametrics.Timing(metrickeys.ActivityTaskProcessed, metrics.Tags{}, aw.clock.Since(start))

	if execErr == nil {
		logger.Debug("Activity completed")

		return history.NewEvent(
			aw.clock.Now(),
			history.EventType_ActivityCompleted,
			&history.ActivityCompletedAttributes{Result: result},
			history.ScheduleEventID(task.Event.ScheduleEventID),
		), nil
	}

	span.RecordError(execErr)

	if workflowerrors.CanRetry(execErr) && task.Attempt < aw.options.RetryOptions.MaxAttempts {
		attempt := task.Attempt + 1
		visibleAt := aw.clock.Now().Add(aw.options.RetryOptions.NextRetryDelay(attempt))

		logger.Warn("Activity failed, retrying", "error", execErr, "visible_at", visibleAt)
		ametrics.Counter(metrickeys.ActivityTaskRetried, metrics.Tags{}, 1)

		if err := aw.backend.RetryActivityTask(ctx, task, attempt, visibleAt); err != nil {
			if errors.Is(err, backend.ErrTaskAlreadyCompleted) {
				// Lost the lock; another worker owns this attempt now.
				return nil, nil
			}

			return nil, fmt.Errorf("retrying activity task: %w", err)
		}

		// Nothing to checkpoint; the retried task surfaces again on its own.
		return nil, nil
	}

	logger.Error("Activity failed permanently", "error", execErr)

	return history.NewEvent(
		aw.clock.Now(),
		history.EventType_ActivityFailed,
		&history.ActivityFailedAttributes{Error: workflowerrors.FromError(execErr)},
		history.ScheduleEventID(task.Event.ScheduleEventID),
	), nil
}

func (aw *activityWorker) Complete(ctx context.Context, task *backend.ActivityTask, result *history.Event) error {
	if err := aw.backend.CompleteActivityTask(ctx, task, result); err != nil {
		if errors.Is(err, backend.ErrTaskAlreadyCompleted) {
			// A slow duplicate attempt finished after its lock expired and a
			// result was already recorded. Drop this one.
			aw.backend.Logger().WarnContext(ctx, "discarding duplicate activity result",
				log.InstanceIDKey, task.Instance.InstanceID,
				log.ScheduleEventIDKey, task.Event.ScheduleEventID,
			)
			return nil
		}

		return fmt.Errorf("completing activity task: %w", err)
	}

	return nil
}

// run invokes the registered handler, converting a missing registration into
// a permanent failure and containing handler panics.
func (aw *activityWorker) run(ctx context.Context, name string, input payload.Payload) (result payload.Payload, err error) {
	handler, err := aw.registry.GetActivity(name)
	if err != nil {
		// No amount of retrying fixes an unknown activity name.
		return nil, workflowerrors.NewPermanentError(err)
	}

	if aw.options.ActivityTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, aw.options.ActivityTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = workflowerrors.NewPanicError(fmt.Sprintf("activity %q panicked: %v", name, r))
		}
	}()

	return handler(ctx, input)
}
