// Package memory provides a non-durable backend implementation with the
// same semantics as the durable backends. It is used in tests and local
// experiments.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/learn-automated-testing/invoiceflow/backend"
	"github.com/learn-automated-testing/invoiceflow/backend/converter"
	"github.com/learn-automated-testing/invoiceflow/backend/history"
	"github.com/learn-automated-testing/invoiceflow/backend/metrics"
	"github.com/learn-automated-testing/invoiceflow/backend/payload"
	"github.com/learn-automated-testing/invoiceflow/core"
)

type instanceData struct {
	instance     *core.Instance
	workflowName string
	input        payload.Payload

	state  core.InstanceState
	output payload.Payload

	history []*history.Event
	pending []*history.Event

	lockedBy    string
	lockedUntil time.Time
}

func (i *instanceData) lastSequenceID() int64 {
	if len(i.history) == 0 {
		return 0
	}

	return i.history[len(i.history)-1].SequenceID
}

type activityData struct {
	instance *core.Instance
	event    *history.Event

	attempt   int
	visibleAt time.Time

	lockedBy    string
	lockedUntil time.Time
}

type memoryBackend struct {
	mu sync.Mutex

	instances  map[string]*instanceData
	activities []*activityData

	options backend.Options
	clock   clock.Clock
}

var _ backend.Backend = (*memoryBackend)(nil)

func NewBackend(opts ...backend.BackendOption) backend.Backend {
	return &memoryBackend{
		instances: make(map[string]*instanceData),
		options:   backend.ApplyOptions(opts...),
		clock:     clock.New(),
	}
}

// NewBackendWithClock is used by tests which need to control lock and retry
// timing.
func NewBackendWithClock(clock clock.Clock, opts ...backend.BackendOption) backend.Backend {
	return &memoryBackend{
		instances: make(map[string]*instanceData),
		options:   backend.ApplyOptions(opts...),
		clock:     clock,
	}
}

func (mb *memoryBackend) CreateInstance(ctx context.Context, instance *core.Instance, workflowName string, input payload.Payload) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, ok := mb.instances[instance.InstanceID]; ok {
		return backend.ErrInstanceAlreadyExists
	}

	mb.instances[instance.InstanceID] = &instanceData{
		instance:     instance,
		workflowName: workflowName,
		input:        input,
		state:        core.InstanceStateRunning,
	}

	return nil
}

func (mb *memoryBackend) GetInstanceStatus(ctx context.Context, instanceID string) (*backend.InstanceStatus, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	i, ok := mb.instances[instanceID]
	if !ok {
		return nil, backend.ErrInstanceNotFound
	}

	return &backend.InstanceStatus{
		InstanceID:    instanceID,
		RuntimeStatus: i.state,
		Output:        i.output,
	}, nil
}

func (mb *memoryBackend) GetInstanceHistory(ctx context.Context, instance *core.Instance, lastSequenceID *int64) ([]*history.Event, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	i, ok := mb.instances[instance.InstanceID]
	if !ok {
		return nil, backend.ErrInstanceNotFound
	}

	events := make([]*history.Event, 0, len(i.history))
	for _, event := range i.history {
		if lastSequenceID != nil && event.SequenceID <= *lastSequenceID {
			continue
		}

		events = append(events, event)
	}

	return events, nil
}

func (mb *memoryBackend) GetOrchestrationTask(ctx context.Context) (*backend.OrchestrationTask, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := mb.clock.Now()

	for _, i := range mb.instances {
		if i.state.Finished() {
			continue
		}

		if i.lockedBy != "" && i.lockedUntil.After(now) {
			continue
		}

		pending := visiblePending(i.pending, now)
		if len(i.history) > 0 && len(pending) == 0 {
			continue
		}

		i.lockedBy = uuid.NewString()
		i.lockedUntil = now.Add(mb.options.OrchestrationLockTimeout)

		return &backend.OrchestrationTask{
			ID:             i.lockedBy,
			Instance:       i.instance,
			WorkflowName:   i.workflowName,
			Input:          i.input,
			State:          i.state,
			LastSequenceID: i.lastSequenceID(),
			NewEvents:      pending,
		}, nil
	}

	return nil, nil
}

func (mb *memoryBackend) ExtendOrchestrationTask(ctx context.Context, task *backend.OrchestrationTask) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	i, ok := mb.instances[task.Instance.InstanceID]
	if !ok || i.lockedBy != task.ID {
		return backend.ErrConcurrentAppend
	}

	i.lockedUntil = mb.clock.Now().Add(mb.options.OrchestrationLockTimeout)
	return nil
}

func (mb *memoryBackend) CompleteOrchestrationTask(
	ctx context.Context, task *backend.OrchestrationTask, state core.InstanceState,
	executedEvents, activityEvents []*history.Event, output payload.Payload,
) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	i, ok := mb.instances[task.Instance.InstanceID]
	if !ok {
		return backend.ErrInstanceNotFound
	}

	// Single-writer discipline: the lock holder with a matching expected
	// sequence id is the only caller allowed to append.
	if i.lockedBy != task.ID || i.lastSequenceID() != task.LastSequenceID {
		return backend.ErrConcurrentAppend
	}

	executed := map[string]bool{}
	for _, event := range executedEvents {
		executed[event.ID] = true
		i.history = append(i.history, event)
	}

	remaining := i.pending[:0]
	for _, event := range i.pending {
		if !executed[event.ID] {
			remaining = append(remaining, event)
		}
	}
	i.pending = remaining

	now := mb.clock.Now()
	for _, event := range activityEvents {
		attempt := 1
		if a, ok := event.Attributes.(*history.ActivityScheduledAttributes); ok && a.Attempt > 0 {
			attempt = a.Attempt
		}

		mb.activities = append(mb.activities, &activityData{
			instance:  i.instance,
			event:     event,
			attempt:   attempt,
			visibleAt: now,
		})
	}

	i.state = state
	if state.Finished() {
		i.output = output
	}

	i.lockedBy = ""
	i.lockedUntil = time.Time{}

	return nil
}

func (mb *memoryBackend) GetActivityTask(ctx context.Context) (*backend.ActivityTask, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := mb.clock.Now()

	for _, a := range mb.activities {
		if a.visibleAt.After(now) {
			continue
		}

		if a.lockedBy != "" && a.lockedUntil.After(now) {
			continue
		}

		a.lockedBy = uuid.NewString()
		a.lockedUntil = now.Add(mb.options.ActivityLockTimeout)

		return &backend.ActivityTask{
			ID:       a.lockedBy,
			Instance: a.instance,
			Event:    a.event,
			Attempt:  a.attempt,
		}, nil
	}

	return nil, nil
}

func (mb *memoryBackend) ExtendActivityTask(ctx context.Context, task *backend.ActivityTask) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	a := mb.findActivity(task.ID)
	if a == nil {
		return backend.ErrTaskAlreadyCompleted
	}

	a.lockedUntil = mb.clock.Now().Add(mb.options.ActivityLockTimeout)
	return nil
}

func (mb *memoryBackend) CompleteActivityTask(ctx context.Context, task *backend.ActivityTask, result *history.Event) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	// A task completed (or reclaimed) by another worker no longer carries
	// this lock id; rejecting it keeps at most one recorded result per
	// correlation id.
	idx := -1
	for n, a := range mb.activities {
		if a.lockedBy == task.ID {
			idx = n
			break
		}
	}
	if idx < 0 {
		return backend.ErrTaskAlreadyCompleted
	}

	mb.activities = append(mb.activities[:idx], mb.activities[idx+1:]...)

	i, ok := mb.instances[task.Instance.InstanceID]
	if !ok {
		return backend.ErrInstanceNotFound
	}

	i.pending = append(i.pending, result)

	return nil
}

func (mb *memoryBackend) RetryActivityTask(ctx context.Context, task *backend.ActivityTask, attempt int, visibleAt time.Time) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	a := mb.findActivity(task.ID)
	if a == nil {
		return backend.ErrTaskAlreadyCompleted
	}

	a.attempt = attempt
	a.visibleAt = visibleAt
	a.lockedBy = ""
	a.lockedUntil = time.Time{}

	return nil
}

func (mb *memoryBackend) Logger() *slog.Logger {
	return mb.options.Logger
}

func (mb *memoryBackend) Tracer() trace.Tracer {
	return mb.options.TracerProvider.Tracer(backend.TracerName)
}

func (mb *memoryBackend) Metrics() metrics.Client {
	return mb.options.Metrics
}

func (mb *memoryBackend) Converter() converter.Converter {
	return mb.options.Converter
}

func (mb *memoryBackend) Options() *backend.Options {
	return &mb.options
}

func (mb *memoryBackend) Close() error {
	return nil
}

func (mb *memoryBackend) findActivity(lockID string) *activityData {
	for _, a := range mb.activities {
		if a.lockedBy == lockID {
			return a
		}
	}

	return nil
}

func visiblePending(pending []*history.Event, now time.Time) []*history.Event {
	visible := make([]*history.Event, 0, len(pending))
	for _, event := range pending {
		if event.VisibleAt != nil && event.VisibleAt.After(now) {
			continue
		}

		visible = append(visible, event)
	}

	return visible
}
