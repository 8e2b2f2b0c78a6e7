package backend

import (
	"github.com/learn-automated-testing/invoiceflow/backend/history"
	"github.com/learn-automated-testing/invoiceflow/backend/payload"
	"github.com/learn-automated-testing/invoiceflow/core"
)

// OrchestrationTask represents work for one engine pass over an instance.
type OrchestrationTask struct {
	// ID is an identifier for this task. It's set by the backend
	ID string

	Instance *core.Instance

	// WorkflowName is the name of the workflow definition registered for
	// this instance.
	WorkflowName string

	// Input is the instance input as provided at start.
	Input payload.Payload

	State core.InstanceState

	// LastSequenceID is the sequence id of the newest event in the
	// instance's history, used as the expected-sequence guard when
	// checkpointing this task.
	LastSequenceID int64

	// NewEvents are events delivered since the last engine pass. They are
	// not yet part of the history; the engine assigns their sequence ids
	// when checkpointing.
	NewEvents []*history.Event
}

// ActivityTask represents one activity execution.
type ActivityTask struct {
	ID string

	Instance *core.Instance

	// Event is the ActivityScheduled event that caused this task. Its
	// SequenceID is the task's correlation id.
	Event *history.Event

	// Attempt is the current execution attempt, starting at 1.
	Attempt int
}
