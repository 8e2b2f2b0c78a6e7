// Package test contains a conformance suite which all backend
// implementations must pass.
package test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/learn-automated-testing/invoiceflow/backend"
	"github.com/learn-automated-testing/invoiceflow/backend/history"
	"github.com/learn-automated-testing/invoiceflow/backend/payload"
	"github.com/learn-automated-testing/invoiceflow/core"
)

// BackendTest runs the conformance suite against the backend produced by
// setup. teardown may be nil.
func BackendTest(t *testing.T, setup func() backend.Backend, teardown func(b backend.Backend)) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, b backend.Backend)
	}{
		{"CreateInstance", testCreateInstance},
		{"CreateInstance_Duplicate", testCreateInstanceDuplicate},
		{"GetInstanceStatus_NotFound", testStatusNotFound},
		{"GetOrchestrationTask_FreshInstance", testFreshInstanceTask},
		{"GetOrchestrationTask_LocksInstance", testTaskLocksInstance},
		{"CompleteOrchestrationTask_AppendsHistory", testCompleteAppendsHistory},
		{"CompleteOrchestrationTask_ConcurrentAppend", testConcurrentAppend},
		{"ActivityTask_Lifecycle", testActivityLifecycle},
		{"ActivityTask_CompleteTwice", testActivityCompleteTwice},
		{"ActivityTask_Retry", testActivityRetry},
		{"TerminalState_IsFinal", testTerminalState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := setup()
			t.Cleanup(func() {
				if teardown != nil {
					teardown(b)
				} else {
					require.NoError(t, b.Close())
				}
			})

			tt.f(t, context.Background(), b)
		})
	}
}

func createInstance(t *testing.T, ctx context.Context, b backend.Backend) *core.Instance {
	t.Helper()

	instance := core.NewInstance(uuid.NewString())
	err := b.CreateInstance(ctx, instance, "ProcessInvoice", json.RawMessage(`{"customerId":0}`))
	require.NoError(t, err)

	return instance
}

func scheduleEvent(seq int64, name string) *history.Event {
	e := history.NewEvent(time.Now(), history.EventType_ActivityScheduled, &history.ActivityScheduledAttributes{
		Name:    name,
		Attempt: 1,
		Input:   json.RawMessage(`{}`),
	})
	e.SequenceID = seq
	e.ScheduleEventID = seq

	return e
}

func completionEvent(scheduleEventID int64, result payload.Payload) *history.Event {
	return history.NewEvent(time.Now(), history.EventType_ActivityCompleted, &history.ActivityCompletedAttributes{
		Result: result,
	}, history.ScheduleEventID(scheduleEventID))
}

func testCreateInstance(t *testing.T, ctx context.Context, b backend.Backend) {
	instance := createInstance(t, ctx, b)

	status, err := b.GetInstanceStatus(ctx, instance.InstanceID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStateRunning, status.RuntimeStatus)
	require.Nil(t, status.Output)
}

func testCreateInstanceDuplicate(t *testing.T, ctx context.Context, b backend.Backend) {
	instance := createInstance(t, ctx, b)

	err := b.CreateInstance(ctx, instance, "ProcessInvoice", nil)
	require.ErrorIs(t, err, backend.ErrInstanceAlreadyExists)
}

func testStatusNotFound(t *testing.T, ctx context.Context, b backend.Backend) {
	_, err := b.GetInstanceStatus(ctx, "unknown")
	require.ErrorIs(t, err, backend.ErrInstanceNotFound)
}

func testFreshInstanceTask(t *testing.T, ctx context.Context, b backend.Backend) {
	instance := createInstance(t, ctx, b)

	task, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, instance.InstanceID, task.Instance.InstanceID)
	require.Equal(t, "ProcessInvoice", task.WorkflowName)
	require.JSONEq(t, `{"customerId":0}`, string(task.Input))
	require.Equal(t, int64(0), task.LastSequenceID)
	require.Empty(t, task.NewEvents)
}

func testTaskLocksInstance(t *testing.T, ctx context.Context, b backend.Backend) {
	createInstance(t, ctx, b)

	task, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)

	// Locked instance must not be handed out again
	second, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)
	require.Nil(t, second)

	require.NoError(t, b.ExtendOrchestrationTask(ctx, task))
}

func testCompleteAppendsHistory(t *testing.T, ctx context.Context, b backend.Backend) {
	instance := createInstance(t, ctx, b)

	task, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)

	scheduled := scheduleEvent(1, "FetchInvoice")
	err = b.CompleteOrchestrationTask(ctx, task, core.InstanceStateRunning,
		[]*history.Event{scheduled}, []*history.Event{scheduled}, nil)
	require.NoError(t, err)

	events, err := b.GetInstanceHistory(ctx, instance, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, history.EventType_ActivityScheduled, events[0].Type)
	require.Equal(t, int64(1), events[0].SequenceID)

	attr, ok := events[0].Attributes.(*history.ActivityScheduledAttributes)
	require.True(t, ok)
	require.Equal(t, "FetchInvoice", attr.Name)

	// No pending events: no new orchestration work for this instance
	next, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)
	require.Nil(t, next)
}

func testConcurrentAppend(t *testing.T, ctx context.Context, b backend.Backend) {
	createInstance(t, ctx, b)

	task, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)

	stale := *task
	stale.LastSequenceID = 7

	scheduled := scheduleEvent(8, "FetchInvoice")
	err = b.CompleteOrchestrationTask(ctx, &stale, core.InstanceStateRunning,
		[]*history.Event{scheduled}, nil, nil)
	require.ErrorIs(t, err, backend.ErrConcurrentAppend)
}

func testActivityLifecycle(t *testing.T, ctx context.Context, b backend.Backend) {
	instance := createInstance(t, ctx, b)

	task, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)

	scheduled := scheduleEvent(1, "FetchInvoice")
	require.NoError(t, b.CompleteOrchestrationTask(ctx, task, core.InstanceStateRunning,
		[]*history.Event{scheduled}, []*history.Event{scheduled}, nil))

	at, err := b.GetActivityTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, at)
	require.Equal(t, instance.InstanceID, at.Instance.InstanceID)
	require.Equal(t, int64(1), at.Event.ScheduleEventID)
	require.Equal(t, 1, at.Attempt)

	// Locked task is not handed out again
	second, err := b.GetActivityTask(ctx)
	require.NoError(t, err)
	require.Nil(t, second)

	require.NoError(t, b.ExtendActivityTask(ctx, at))

	result := completionEvent(at.Event.ScheduleEventID, json.RawMessage(`{"success":true}`))
	require.NoError(t, b.CompleteActivityTask(ctx, at, result))

	// The completion is delivered as a new orchestration task
	next, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, int64(1), next.LastSequenceID)
	require.Len(t, next.NewEvents, 1)
	require.Equal(t, history.EventType_ActivityCompleted, next.NewEvents[0].Type)
	require.Equal(t, int64(1), next.NewEvents[0].ScheduleEventID)
}

func testActivityCompleteTwice(t *testing.T, ctx context.Context, b backend.Backend) {
	createInstance(t, ctx, b)

	task, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)

	scheduled := scheduleEvent(1, "FetchInvoice")
	require.NoError(t, b.CompleteOrchestrationTask(ctx, task, core.InstanceStateRunning,
		[]*history.Event{scheduled}, []*history.Event{scheduled}, nil))

	at, err := b.GetActivityTask(ctx)
	require.NoError(t, err)

	result := completionEvent(at.Event.ScheduleEventID, json.RawMessage(`{}`))
	require.NoError(t, b.CompleteActivityTask(ctx, at, result))

	// At most one result is recorded per correlation id
	err = b.CompleteActivityTask(ctx, at, result)
	require.ErrorIs(t, err, backend.ErrTaskAlreadyCompleted)
}

func testActivityRetry(t *testing.T, ctx context.Context, b backend.Backend) {
	createInstance(t, ctx, b)

	task, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)

	scheduled := scheduleEvent(1, "GenerateAndStorePDF")
	require.NoError(t, b.CompleteOrchestrationTask(ctx, task, core.InstanceStateRunning,
		[]*history.Event{scheduled}, []*history.Event{scheduled}, nil))

	at, err := b.GetActivityTask(ctx)
	require.NoError(t, err)

	// Immediate retry: same correlation id, bumped attempt
	require.NoError(t, b.RetryActivityTask(ctx, at, 2, time.Now().Add(-time.Second)))

	at2, err := b.GetActivityTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, at2)
	require.Equal(t, at.Event.ScheduleEventID, at2.Event.ScheduleEventID)
	require.Equal(t, 2, at2.Attempt)

	// Backed-off retry is not visible before its delay expires
	require.NoError(t, b.RetryActivityTask(ctx, at2, 3, time.Now().Add(time.Hour)))

	delayed, err := b.GetActivityTask(ctx)
	require.NoError(t, err)
	require.Nil(t, delayed)
}

func testTerminalState(t *testing.T, ctx context.Context, b backend.Backend) {
	instance := createInstance(t, ctx, b)

	task, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)

	output := json.RawMessage(`{"success":true}`)
	completed := history.NewEvent(time.Now(), history.EventType_OrchestratorCompleted, &history.OrchestratorCompletedAttributes{
		Result: output,
	})
	completed.SequenceID = 1

	require.NoError(t, b.CompleteOrchestrationTask(ctx, task, core.InstanceStateCompleted,
		[]*history.Event{completed}, nil, output))

	status, err := b.GetInstanceStatus(ctx, instance.InstanceID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStateCompleted, status.RuntimeStatus)
	require.JSONEq(t, `{"success":true}`, string(status.Output))

	// Finished instances produce no more work
	next, err := b.GetOrchestrationTask(ctx)
	require.NoError(t, err)
	require.Nil(t, next)
}
