// Package engine implements the deterministic replay interpreter that drives
// workflow instances forward. Every pass re-runs the workflow definition
// against the recorded history to reconstruct the exact suspension point
// without re-invoking any activity handler, then continues until the
// definition either requests a new activity or reaches a terminal result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/learn-automated-testing/invoiceflow/backend"
	"github.com/learn-automated-testing/invoiceflow/backend/history"
	"github.com/learn-automated-testing/invoiceflow/backend/payload"
	"github.com/learn-automated-testing/invoiceflow/core"
	"github.com/learn-automated-testing/invoiceflow/internal/log"
	"github.com/learn-automated-testing/invoiceflow/internal/workflowerrors"
	"github.com/learn-automated-testing/invoiceflow/registry"
	"github.com/learn-automated-testing/invoiceflow/workflow"
)

// Fault is a fatal engine-level failure: a replay determinism violation or
// corrupted history. It is reported to operators instead of being converted
// into a workflow outcome; the instance is left untouched for diagnosis.
type Fault struct {
	InstanceID string
	Err        error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("engine fault for instance %s: %v", f.InstanceID, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Result is the outcome of one engine pass over an instance.
type Result struct {
	// State of the instance after this pass
	State core.InstanceState

	// Executed contains the events to append to history, with sequence ids
	// assigned: the task's delivered events plus any newly produced events.
	Executed []*history.Event

	// ActivityEvents are ActivityScheduled events to hand to the dispatcher
	ActivityEvents []*history.Event

	// Output is the terminal output, set when State is terminal
	Output payload.Payload
}

type Engine struct {
	backend  backend.Backend
	registry *registry.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock
}

func New(b backend.Backend, r *registry.Registry) *Engine {
	return &Engine{
		backend:  b,
		registry: r,
		logger:   b.Logger(),
		tracer:   b.Tracer(),
		clock:    clock.New(),
	}
}

// ExecuteTask runs one replay/continue pass for the given task. The caller
// checkpoints the result with backend.CompleteOrchestrationTask. A returned
// *Fault means the task must not be checkpointed.
func (e *Engine) ExecuteTask(ctx context.Context, task *backend.OrchestrationTask) (*Result, error) {
	logger := e.logger.With(
		log.InstanceIDKey, task.Instance.InstanceID,
		log.WorkflowNameKey, task.WorkflowName,
	)

	ctx, span := e.tracer.Start(ctx, "OrchestrationTaskExecution", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, task.Instance.InstanceID),
		attribute.String(log.WorkflowNameKey, task.WorkflowName),
	))
	defer span.End()

	logger.Debug("Executing orchestration task", log.TaskLastSequenceIDKey, task.LastSequenceID)

	if task.State.Finished() {
		// Events delivered after the terminal event are discarded; terminal
		// states are absorbing.
		logger.Warn("Received task for finished instance, discarding events")
		return &Result{State: task.State, Executed: nil}, nil
	}

	h, err := e.backend.GetInstanceHistory(ctx, task.Instance, nil)
	if err != nil {
		return nil, fmt.Errorf("getting instance history: %w", err)
	}

	events := make([]*history.Event, 0, len(h)+len(task.NewEvents))
	events = append(events, h...)
	events = append(events, task.NewEvents...)

	steps, finished, err := buildSteps(events)
	if err != nil {
		return nil, &Fault{InstanceID: task.Instance.InstanceID, Err: err}
	}

	if finished {
		return nil, &Fault{
			InstanceID: task.Instance.InstanceID,
			Err:        errors.New("history already contains a terminal event"),
		}
	}

	def, err := e.registry.GetWorkflow(task.WorkflowName)
	if err != nil {
		return nil, &Fault{InstanceID: task.Instance.InstanceID, Err: err}
	}

	wfCtx := workflow.NewContext(task.Input, e.backend.Converter(), logger, steps)
	output, defErr := runDefinition(def, wfCtx)

	// Delivered events become part of history in this pass.
	nextSequenceID := task.LastSequenceID
	executed := make([]*history.Event, 0, len(task.NewEvents)+1)
	for _, event := range task.NewEvents {
		nextSequenceID++
		event.SequenceID = nextSequenceID
		executed = append(executed, event)
	}

	if workflow.Suspended(defErr) {
		result := &Result{State: core.InstanceStateRunning, Executed: executed}

		if d := wfCtx.Decision(); d != nil {
			nextSequenceID++
			scheduled := history.NewEvent(e.clock.Now(), history.EventType_ActivityScheduled, &history.ActivityScheduledAttributes{
				Name:    d.Name,
				Attempt: 1,
				Input:   d.Input,
			})
			scheduled.SequenceID = nextSequenceID
			scheduled.ScheduleEventID = nextSequenceID

			result.Executed = append(result.Executed, scheduled)
			result.ActivityEvents = []*history.Event{scheduled}

			logger.Debug("Workflow suspended, scheduled activity",
				log.ActivityNameKey, d.Name,
				log.ScheduleEventIDKey, scheduled.ScheduleEventID,
			)
		}

		return result, nil
	}

	var ndErr *workflow.NonDeterminismError
	if errors.As(defErr, &ndErr) {
		span.RecordError(ndErr)
		return nil, &Fault{InstanceID: task.Instance.InstanceID, Err: ndErr}
	}

	// Terminal result
	state := core.InstanceStateCompleted
	if defErr != nil {
		state = core.InstanceStateFailed
	}

	var resultPayload payload.Payload
	if output != nil {
		resultPayload, err = e.backend.Converter().To(output)
		if err != nil {
			return nil, fmt.Errorf("converting workflow output: %w", err)
		}
	}

	nextSequenceID++
	completed := history.NewEvent(e.clock.Now(), history.EventType_OrchestratorCompleted, &history.OrchestratorCompletedAttributes{
		Result: resultPayload,
		Error:  workflowerrors.FromError(defErr),
	})
	completed.SequenceID = nextSequenceID
	executed = append(executed, completed)

	logger.Debug("Workflow finished",
		log.ExecutedEventsKey, len(executed),
		"state", state.String(),
	)

	return &Result{
		State:    state,
		Executed: executed,
		Output:   resultPayload,
	}, nil
}

// runDefinition executes the definition, converting panics into a failed
// outcome so a buggy definition cannot take down the worker.
func runDefinition(def workflow.Definition, wfCtx *workflow.Context) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = workflowerrors.NewPanicError(fmt.Sprintf("workflow definition panicked: %v", r))
		}
	}()

	return def(wfCtx)
}

// buildSteps reconstructs the ordered activity interactions from history.
// Completion and failure events are matched to their schedule events by
// correlation id; at most one resolution per correlation id is accepted.
func buildSteps(events []*history.Event) ([]workflow.Step, bool, error) {
	steps := make([]workflow.Step, 0, len(events))
	byScheduleID := map[int64]int{}
	finished := false

	for _, event := range events {
		switch event.Type {
		case history.EventType_ActivityScheduled:
			a, ok := event.Attributes.(*history.ActivityScheduledAttributes)
			if !ok {
				return nil, false, fmt.Errorf("corrupted history: event %s has invalid attributes", event.ID)
			}

			byScheduleID[event.ScheduleEventID] = len(steps)
			steps = append(steps, workflow.Step{
				Name:            a.Name,
				ScheduleEventID: event.ScheduleEventID,
			})

		case history.EventType_ActivityCompleted:
			a, ok := event.Attributes.(*history.ActivityCompletedAttributes)
			if !ok {
				return nil, false, fmt.Errorf("corrupted history: event %s has invalid attributes", event.ID)
			}

			i, ok := byScheduleID[event.ScheduleEventID]
			if !ok {
				return nil, false, fmt.Errorf("corrupted history: completion for unknown schedule event %d", event.ScheduleEventID)
			}

			if steps[i].Completed {
				return nil, false, fmt.Errorf("corrupted history: duplicate result for schedule event %d", event.ScheduleEventID)
			}

			steps[i].Completed = true
			steps[i].Result = a.Result

		case history.EventType_ActivityFailed:
			a, ok := event.Attributes.(*history.ActivityFailedAttributes)
			if !ok {
				return nil, false, fmt.Errorf("corrupted history: event %s has invalid attributes", event.ID)
			}

			i, ok := byScheduleID[event.ScheduleEventID]
			if !ok {
				return nil, false, fmt.Errorf("corrupted history: failure for unknown schedule event %d", event.ScheduleEventID)
			}

			if steps[i].Completed {
				return nil, false, fmt.Errorf("corrupted history: duplicate result for schedule event %d", event.ScheduleEventID)
			}

			steps[i].Completed = true
			steps[i].Err = a.Error

		case history.EventType_OrchestratorCompleted:
			finished = true

		default:
			return nil, false, fmt.Errorf("corrupted history: unknown event type %v", event.Type)
		}
	}

	return steps, finished, nil
}
