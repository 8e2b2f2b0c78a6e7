package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/learn-automated-testing/invoiceflow/backend"
	"github.com/learn-automated-testing/invoiceflow/backend/history"
	"github.com/learn-automated-testing/invoiceflow/backend/memory"
	"github.com/learn-automated-testing/invoiceflow/core"
	"github.com/learn-automated-testing/invoiceflow/internal/workflowerrors"
	"github.com/learn-automated-testing/invoiceflow/registry"
	"github.com/learn-automated-testing/invoiceflow/workflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func runWorkerTest(t *testing.T, configure func(w *Worker), check func(t *testing.T, ctx context.Context, b backend.Backend), opts ...Option) {
	ctx, cancel := context.WithCancel(context.Background())

	b := memory.NewBackend()

	w := New(b, append([]Option{
		WithPollers(1),
		WithPollingInterval(5 * time.Millisecond),
		WithHeartbeatInterval(0),
		WithRetryOptions(workflow.RetryOptions{
			MaxAttempts:        3,
			FirstRetryInterval: time.Millisecond,
			MaxRetryInterval:   10 * time.Millisecond,
			BackoffCoefficient: 2,
		}),
	}, opts...)...)
	configure(w)

	require.NoError(t, w.Start(ctx))

	check(t, ctx, b)

	cancel()
	require.NoError(t, w.WaitForCompletion())
	require.NoError(t, b.Close())
}

func waitForFinished(t *testing.T, ctx context.Context, b backend.Backend, instanceID string) *backend.InstanceStatus {
	var status *backend.InstanceStatus

	require.Eventually(t, func() bool {
		s, err := b.GetInstanceStatus(ctx, instanceID)
		require.NoError(t, err)

		status = s
		return s.RuntimeStatus.Finished()
	}, 5*time.Second, 5*time.Millisecond)

	return status
}

func Test_Worker_RunsWorkflowToCompletion(t *testing.T) {
	runWorkerTest(t,
		func(w *Worker) {
			require.NoError(t, w.RegisterWorkflow("Double", func(ctx *workflow.Context) (any, error) {
				var n int
				if err := ctx.Input(&n); err != nil {
					return nil, err
				}

				return workflow.Call[int](ctx, "Twice", n)
			}))

			require.NoError(t, w.RegisterActivity("Twice", registry.Activity(nil,
				func(ctx context.Context, n int) (int, error) {
					return n * 2, nil
				})))
		},
		func(t *testing.T, ctx context.Context, b backend.Backend) {
			instance := core.NewInstance(uuid.NewString())
			input, err := b.Converter().To(21)
			require.NoError(t, err)
			require.NoError(t, b.CreateInstance(ctx, instance, "Double", input))

			status := waitForFinished(t, ctx, b, instance.InstanceID)
			require.Equal(t, core.InstanceStateCompleted, status.RuntimeStatus)

			var result int
			require.NoError(t, b.Converter().From(status.Output, &result))
			require.Equal(t, 42, result)
		})
}

func Test_Worker_RetriesFailedActivity(t *testing.T) {
	attempts := 0

	runWorkerTest(t,
		func(w *Worker) {
			require.NoError(t, w.RegisterWorkflow("Flaky", func(ctx *workflow.Context) (any, error) {
				return workflow.Call[string](ctx, "SometimesFails", nil)
			}))

			require.NoError(t, w.RegisterActivity("SometimesFails", registry.Activity(nil,
				func(ctx context.Context, _ any) (string, error) {
					attempts++
					if attempts < 3 {
						return "", errors.New("transient")
					}

					return "eventually", nil
				})))
		},
		func(t *testing.T, ctx context.Context, b backend.Backend) {
			instance := core.NewInstance(uuid.NewString())
			require.NoError(t, b.CreateInstance(ctx, instance, "Flaky", nil))

			status := waitForFinished(t, ctx, b, instance.InstanceID)
			require.Equal(t, core.InstanceStateCompleted, status.RuntimeStatus)
			require.Equal(t, 3, attempts)

			var result string
			require.NoError(t, b.Converter().From(status.Output, &result))
			require.Equal(t, "eventually", result)
		})
}

func Test_Worker_PermanentActivityFailureFailsWorkflow(t *testing.T) {
	attempts := 0

	runWorkerTest(t,
		func(w *Worker) {
			require.NoError(t, w.RegisterWorkflow("Doomed", func(ctx *workflow.Context) (any, error) {
				_, err := workflow.Call[string](ctx, "AlwaysFails", nil)
				return nil, err
			}))

			require.NoError(t, w.RegisterActivity("AlwaysFails", registry.Activity(nil,
				func(ctx context.Context, _ any) (string, error) {
					attempts++
					return "", workflowerrors.NewPermanentError(errors.New("bad request"))
				})))
		},
		func(t *testing.T, ctx context.Context, b backend.Backend) {
			instance := core.NewInstance(uuid.NewString())
			require.NoError(t, b.CreateInstance(ctx, instance, "Doomed", nil))

			status := waitForFinished(t, ctx, b, instance.InstanceID)
			require.Equal(t, core.InstanceStateFailed, status.RuntimeStatus)

			// Permanent errors skip the retry loop
			require.Equal(t, 1, attempts)
		})
}

func Test_Worker_ExhaustedRetriesFailWorkflow(t *testing.T) {
	attempts := 0

	runWorkerTest(t,
		func(w *Worker) {
			require.NoError(t, w.RegisterWorkflow("Exhausted", func(ctx *workflow.Context) (any, error) {
				_, err := workflow.Call[string](ctx, "KeepsFailing", nil)
				if actErr, ok := workflow.ActivityError(err); ok {
					return nil, workflow.Fail(actErr.Message)
				}
				return nil, err
			}))

			require.NoError(t, w.RegisterActivity("KeepsFailing", registry.Activity(nil,
				func(ctx context.Context, _ any) (string, error) {
					attempts++
					return "", errors.New("still broken")
				})))
		},
		func(t *testing.T, ctx context.Context, b backend.Backend) {
			instance := core.NewInstance(uuid.NewString())
			require.NoError(t, b.CreateInstance(ctx, instance, "Exhausted", nil))

			status := waitForFinished(t, ctx, b, instance.InstanceID)
			require.Equal(t, core.InstanceStateFailed, status.RuntimeStatus)
			require.Equal(t, 3, attempts)
		})
}

func Test_Worker_UnknownActivityFailsPermanently(t *testing.T) {
	runWorkerTest(t,
		func(w *Worker) {
			require.NoError(t, w.RegisterWorkflow("MissingHandler", func(ctx *workflow.Context) (any, error) {
				_, err := workflow.Call[string](ctx, "NotRegistered", nil)
				return nil, err
			}))
		},
		func(t *testing.T, ctx context.Context, b backend.Backend) {
			instance := core.NewInstance(uuid.NewString())
			require.NoError(t, b.CreateInstance(ctx, instance, "MissingHandler", nil))

			status := waitForFinished(t, ctx, b, instance.InstanceID)
			require.Equal(t, core.InstanceStateFailed, status.RuntimeStatus)
		})
}

func Test_Worker_SlowActivityTimesOutAndIsRetried(t *testing.T) {
	var attemptErrs []error

	runWorkerTest(t,
		func(w *Worker) {
			require.NoError(t, w.RegisterWorkflow("Stuck", func(ctx *workflow.Context) (any, error) {
				_, err := workflow.Call[string](ctx, "NeverReturns", nil)
				return nil, err
			}))

			require.NoError(t, w.RegisterActivity("NeverReturns", registry.Activity(nil,
				func(ctx context.Context, _ any) (string, error) {
					<-ctx.Done()
					attemptErrs = append(attemptErrs, ctx.Err())
					return "", ctx.Err()
				})))
		},
		func(t *testing.T, ctx context.Context, b backend.Backend) {
			instance := core.NewInstance(uuid.NewString())
			require.NoError(t, b.CreateInstance(ctx, instance, "Stuck", nil))

			status := waitForFinished(t, ctx, b, instance.InstanceID)
			require.Equal(t, core.InstanceStateFailed, status.RuntimeStatus)

			// Each attempt was cut off by the deadline and retried until the
			// retry budget ran out; they all fed the same scheduled activity,
			// so a single failure event finished the instance.
			require.Len(t, attemptErrs, 3)
			for _, err := range attemptErrs {
				require.ErrorIs(t, err, context.DeadlineExceeded)
			}

			events, err := b.GetInstanceHistory(ctx, instance, nil)
			require.NoError(t, err)

			failures := 0
			for _, event := range events {
				if event.Type == history.EventType_ActivityFailed {
					failures++
					require.Equal(t, int64(1), event.ScheduleEventID)
				}
			}
			require.Equal(t, 1, failures)
		},
		WithActivityTimeout(5*time.Millisecond),
	)
}

func Test_Worker_ActivityPanicIsContained(t *testing.T) {
	attempts := 0

	runWorkerTest(t,
		func(w *Worker) {
			require.NoError(t, w.RegisterWorkflow("Panicky", func(ctx *workflow.Context) (any, error) {
				_, err := workflow.Call[string](ctx, "Panics", nil)
				return nil, err
			}))

			require.NoError(t, w.RegisterActivity("Panics", registry.Activity(nil,
				func(ctx context.Context, _ any) (string, error) {
					attempts++
					panic("handler bug")
				})))
		},
		func(t *testing.T, ctx context.Context, b backend.Backend) {
			instance := core.NewInstance(uuid.NewString())
			require.NoError(t, b.CreateInstance(ctx, instance, "Panicky", nil))

			status := waitForFinished(t, ctx, b, instance.InstanceID)
			require.Equal(t, core.InstanceStateFailed, status.RuntimeStatus)

			// Panics are treated as retryable failures
			require.Equal(t, 3, attempts)
		})
}
