// Package registry maps workflow and activity names to their
// implementations. Names are resolved at startup and fail closed: an
// unknown name is an error, never a silent no-op.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/learn-automated-testing/invoiceflow/backend/converter"
	"github.com/learn-automated-testing/invoiceflow/backend/payload"
	wf "github.com/learn-automated-testing/invoiceflow/workflow"
)

// ActivityHandler is the common contract all registered activities satisfy.
// Handlers may be invoked more than once for the same correlation id across
// retries or crash/resume boundaries; they must be idempotent or perform
// their own dedupe using the correlation id.
type ActivityHandler func(ctx context.Context, input payload.Payload) (payload.Payload, error)

type Registry struct {
	sync.Mutex

	workflowMap map[string]wf.Definition
	activityMap map[string]ActivityHandler
}

// New creates a new registry instance.
func New() *Registry {
	return &Registry{
		workflowMap: make(map[string]wf.Definition),
		activityMap: make(map[string]ActivityHandler),
	}
}

func (r *Registry) RegisterWorkflow(name string, def wf.Definition) error {
	if name == "" {
		return &ErrInvalidWorkflow{"workflow name must not be empty"}
	}

	if def == nil {
		return &ErrInvalidWorkflow{"workflow definition must not be nil"}
	}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.workflowMap[name]; ok {
		return &ErrWorkflowAlreadyRegistered{fmt.Sprintf("workflow with name %q already registered", name)}
	}
	r.workflowMap[name] = def

	return nil
}

func (r *Registry) RegisterActivity(name string, handler ActivityHandler) error {
	if name == "" {
		return &ErrInvalidActivity{"activity name must not be empty"}
	}

	if handler == nil {
		return &ErrInvalidActivity{"activity handler must not be nil"}
	}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.activityMap[name]; ok {
		return &ErrActivityAlreadyRegistered{fmt.Sprintf("activity with name %q already registered", name)}
	}
	r.activityMap[name] = handler

	return nil
}

func (r *Registry) GetWorkflow(name string) (wf.Definition, error) {
	r.Lock()
	defer r.Unlock()

	if def, ok := r.workflowMap[name]; ok {
		return def, nil
	}

	return nil, &ErrWorkflowNotRegistered{Name: name}
}

func (r *Registry) GetActivity(name string) (ActivityHandler, error) {
	r.Lock()
	defer r.Unlock()

	if handler, ok := r.activityMap[name]; ok {
		return handler, nil
	}

	return nil, &ErrActivityNotRegistered{Name: name}
}

// Activity adapts a typed activity function to the ActivityHandler contract
// using the given converter. A nil converter uses the default JSON converter.
func Activity[I, O any](cv converter.Converter, fn func(ctx context.Context, input I) (O, error)) ActivityHandler {
	if cv == nil {
		cv = converter.DefaultConverter
	}

	return func(ctx context.Context, input payload.Payload) (payload.Payload, error) {
		var in I
		if err := cv.From(input, &in); err != nil {
			return nil, fmt.Errorf("converting activity input: %w", err)
		}

		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}

		result, err := cv.To(out)
		if err != nil {
			return nil, fmt.Errorf("converting activity result: %w", err)
		}

		return result, nil
	}
}
