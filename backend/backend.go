package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/learn-automated-testing/invoiceflow/backend/converter"
	"github.com/learn-automated-testing/invoiceflow/backend/history"
	"github.com/learn-automated-testing/invoiceflow/backend/metrics"
	"github.com/learn-automated-testing/invoiceflow/backend/payload"
	"github.com/learn-automated-testing/invoiceflow/core"
)

var (
	ErrInstanceNotFound      = errors.New("orchestration instance not found")
	ErrInstanceAlreadyExists = errors.New("orchestration instance already exists")

	// ErrConcurrentAppend indicates that the caller's expected last sequence
	// id did not match the instance's history when checkpointing, i.e. two
	// workers tried to drive the same instance.
	ErrConcurrentAppend = errors.New("concurrent append to instance history")

	// ErrTaskAlreadyCompleted indicates that a completion for the task's
	// correlation id was already recorded by another worker.
	ErrTaskAlreadyCompleted = errors.New("task already completed")
)

const TracerName = "invoiceflow"

// InstanceStatus is the materialized, queryable view of an instance. It is
// written by the engine only; reads are safe for concurrent pollers.
type InstanceStatus struct {
	InstanceID string `json:"instanceId"`

	RuntimeStatus core.InstanceState `json:"runtimeStatus"`

	Output payload.Payload `json:"output"`
}

type Backend interface {
	// CreateInstance creates a new orchestration instance with an empty
	// history. The instance input and workflow name are stored with the
	// instance record.
	CreateInstance(ctx context.Context, instance *core.Instance, workflowName string, input payload.Payload) error

	// GetInstanceStatus returns the current status of the given instance or
	// ErrInstanceNotFound.
	GetInstanceStatus(ctx context.Context, instanceID string) (*InstanceStatus, error)

	// GetInstanceHistory returns the ordered history for the given instance.
	// When lastSequenceID is given, only events after that sequence id are
	// returned, otherwise the full history. Events are never reordered or
	// skipped.
	GetInstanceHistory(ctx context.Context, instance *core.Instance, lastSequenceID *int64) ([]*history.Event, error)

	// GetOrchestrationTask returns a pending orchestration task, locking the
	// instance so that no other worker drives it concurrently. Returns nil
	// if no instance has pending work.
	GetOrchestrationTask(ctx context.Context) (*OrchestrationTask, error)

	// ExtendOrchestrationTask extends the lock of an orchestration task
	ExtendOrchestrationTask(ctx context.Context, task *OrchestrationTask) error

	// CompleteOrchestrationTask checkpoints one engine pass. The executed
	// events are appended to the instance history, activityEvents are made
	// available as activity tasks and, for a terminal state, output is
	// written to the instance status. Fails with ErrConcurrentAppend if the
	// instance's history advanced past task.LastSequenceID in the meantime.
	CompleteOrchestrationTask(
		ctx context.Context, task *OrchestrationTask, state core.InstanceState,
		executedEvents, activityEvents []*history.Event, output payload.Payload) error

	// GetActivityTask returns a pending activity task or nil if there are no
	// due activities. The task is locked for the configured activity lock
	// timeout.
	GetActivityTask(ctx context.Context) (*ActivityTask, error)

	// ExtendActivityTask extends the lock of an activity task
	ExtendActivityTask(ctx context.Context, task *ActivityTask) error

	// CompleteActivityTask records the result event for an activity task and
	// removes the task. At most one result is ever recorded per correlation
	// id; a second completion fails with ErrTaskAlreadyCompleted.
	CompleteActivityTask(ctx context.Context, task *ActivityTask, result *history.Event) error

	// RetryActivityTask re-enqueues the task with the given attempt count,
	// keeping its correlation id. The task becomes visible again at
	// visibleAt.
	RetryActivityTask(ctx context.Context, task *ActivityTask, attempt int, visibleAt time.Time) error

	// Logger returns the configured logger for the backend
	Logger() *slog.Logger

	// Tracer returns the configured tracer for the backend
	Tracer() trace.Tracer

	// Metrics returns the configured metrics client for the backend
	Metrics() metrics.Client

	// Converter returns the configured converter for the backend
	Converter() converter.Converter

	// Options returns the configured options for the backend
	Options() *Options

	// Close closes any underlying resources
	Close() error
}
