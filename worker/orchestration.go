package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/learn-automated-testing/invoiceflow/backend"
	"github.com/learn-automated-testing/invoiceflow/backend/metrics"
	"github.com/learn-automated-testing/invoiceflow/engine"
	"github.com/learn-automated-testing/invoiceflow/internal/log"
	"github.com/learn-automated-testing/invoiceflow/internal/metrickeys"
)

// orchestrationWorker drives workflow instances forward, one engine pass per
// orchestration task.
type orchestrationWorker struct {
	backend backend.Backend

	engine *engine.Engine
}

func newOrchestrationWorker(b backend.Backend, e *engine.Engine) *orchestrationWorker {
	return &orchestrationWorker{
		backend: b,
		engine:  e,
	}
}

func (ow *orchestrationWorker) Get(ctx context.Context) (*backend.OrchestrationTask, error) {
	return ow.backend.GetOrchestrationTask(ctx)
}

func (ow *orchestrationWorker) Extend(ctx context.Context, task *backend.OrchestrationTask) error {
	return ow.backend.ExtendOrchestrationTask(ctx, task)
}

func (ow *orchestrationWorker) Execute(ctx context.Context, task *backend.OrchestrationTask) (*engine.Result, error) {
	start := time.Now()

	result, err := ow.engine.ExecuteTask(ctx, task)
	if err != nil {
		var fault *engine.Fault
		if errors.As(err, &fault) {
			// Engine faults are not checkpointed. The lock expires and the
			// instance stays as it was, available for diagnosis.
			ow.backend.Logger().ErrorContext(ctx, "orchestration task faulted",
				log.InstanceIDKey, fault.InstanceID,
				"error", fault.Err,
			)
			return nil, nil
		}

		return nil, fmt.Errorf("executing orchestration task: %w", err)
	}

	ow.backend.Metrics().Timing(metrickeys.OrchestrationTaskProcessed, metrics.Tags{}, time.Since(start))

	return result, nil
}

func (ow *orchestrationWorker) Complete(ctx context.Context, task *backend.OrchestrationTask, result *engine.Result) error {
	err := ow.backend.CompleteOrchestrationTask(
		ctx, task, result.State, result.Executed, result.ActivityEvents, result.Output)
	if err != nil {
		if errors.Is(err, backend.ErrConcurrentAppend) {
			// Another worker advanced the instance while this pass ran. The
			// pass is discarded; the other worker's history wins.
			ow.backend.Logger().WarnContext(ctx, "discarding orchestration result after concurrent append",
				log.InstanceIDKey, task.Instance.InstanceID,
			)
			return nil
		}

		return fmt.Errorf("completing orchestration task: %w", err)
	}

	if result.State.Finished() {
		ow.backend.Metrics().Counter(metrickeys.InstanceFinished, metrics.Tags{}, 1)
	}

	return nil
}
