// Package worker polls the backend for orchestration and activity tasks and
// processes them concurrently. A single Worker runs both task loops; multiple
// workers against the same backend cooperate through task locks.
package worker

import (
	"context"

	"github.com/benbjohnson/clock"

	"github.com/learn-automated-testing/invoiceflow/backend"
	"github.com/learn-automated-testing/invoiceflow/backend/history"
	"github.com/learn-automated-testing/invoiceflow/engine"
	"github.com/learn-automated-testing/invoiceflow/registry"
	"github.com/learn-automated-testing/invoiceflow/workflow"
)

type Worker struct {
	backend backend.Backend

	registry *registry.Registry

	orchestrations *taskLoop[backend.OrchestrationTask, engine.Result]
	activities     *taskLoop[backend.ActivityTask, history.Event]
}

func New(b backend.Backend, opts ...Option) *Worker {
	options := DefaultOptions
	for _, opt := range opts {
		opt(&options)
	}

	r := registry.New()
	cl := clock.New()

	return &Worker{
		backend:  b,
		registry: r,

		orchestrations: newTaskLoop[backend.OrchestrationTask, engine.Result](
			newOrchestrationWorker(b, engine.New(b, r)), b.Logger(), &options),
		activities: newTaskLoop[backend.ActivityTask, history.Event](
			newActivityWorker(b, r, cl, &options), b.Logger(), &options),
	}
}

// RegisterWorkflow registers a workflow definition under the given name.
// Must be called before Start.
func (w *Worker) RegisterWorkflow(name string, def workflow.Definition) error {
	return w.registry.RegisterWorkflow(name, def)
}

// RegisterActivity registers an activity handler under the given name.
// Must be called before Start.
func (w *Worker) RegisterActivity(name string, handler registry.ActivityHandler) error {
	return w.registry.RegisterActivity(name, handler)
}

// Start begins polling for tasks. It returns immediately; cancel ctx to stop
// polling, then call WaitForCompletion to drain in-flight tasks.
func (w *Worker) Start(ctx context.Context) error {
	w.orchestrations.Start(ctx)
	w.activities.Start(ctx)

	return nil
}

// WaitForCompletion blocks until both task loops have shut down. Call after
// canceling the context passed to Start.
func (w *Worker) WaitForCompletion() error {
	w.orchestrations.WaitForCompletion()
	w.activities.WaitForCompletion()

	return nil
}
