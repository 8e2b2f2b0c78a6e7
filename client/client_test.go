package client

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/learn-automated-testing/invoiceflow/backend"
	"github.com/learn-automated-testing/invoiceflow/backend/memory"
	"github.com/learn-automated-testing/invoiceflow/core"
	"github.com/learn-automated-testing/invoiceflow/worker"
	"github.com/learn-automated-testing/invoiceflow/workflow"
)

func Test_Client_CreateInstance(t *testing.T) {
	ctx := context.Background()

	b := memory.NewBackend()
	defer b.Close()

	c := New(b)

	instance, err := c.CreateInstance(ctx, InstanceOptions{}, "SomeWorkflow", map[string]string{"key": "value"})
	require.NoError(t, err)
	require.NotEmpty(t, instance.InstanceID)

	status, err := c.GetInstanceStatus(ctx, instance.InstanceID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStateRunning, status.RuntimeStatus)
}

func Test_Client_CreateInstance_ExplicitID(t *testing.T) {
	ctx := context.Background()

	b := memory.NewBackend()
	defer b.Close()

	c := New(b)

	instance, err := c.CreateInstance(ctx, InstanceOptions{InstanceID: "explicit"}, "SomeWorkflow", nil)
	require.NoError(t, err)
	require.Equal(t, "explicit", instance.InstanceID)

	_, err = c.CreateInstance(ctx, InstanceOptions{InstanceID: "explicit"}, "SomeWorkflow", nil)
	require.ErrorIs(t, err, backend.ErrInstanceAlreadyExists)
}

func Test_Client_GetInstanceStatus_NotFound(t *testing.T) {
	ctx := context.Background()

	b := memory.NewBackend()
	defer b.Close()

	c := New(b)

	_, err := c.GetInstanceStatus(ctx, "does-not-exist")
	require.ErrorIs(t, err, backend.ErrInstanceNotFound)
}

func Test_Client_WaitForInstance_Timeout(t *testing.T) {
	ctx := context.Background()

	b := memory.NewBackend()
	defer b.Close()

	mock := clock.NewMock()
	c := NewWithClock(b, mock)

	// No worker is running, so the instance never finishes.
	instance, err := c.CreateInstance(ctx, InstanceOptions{}, "NeverFinishes", nil)
	require.NoError(t, err)

	// Drive the poll loop's elapsed-time accounting from the mock clock so
	// the wait gives up without sleeping through the timeout in real time.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				mock.Add(time.Second)
			}
		}
	}()

	err = c.WaitForInstance(ctx, instance, 50*time.Millisecond)
	require.ErrorContains(t, err, "did not finish")
}

func Test_Client_GetResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	b := memory.NewBackend()

	w := worker.New(b, worker.WithPollers(1), worker.WithPollingInterval(5*time.Millisecond))
	require.NoError(t, w.RegisterWorkflow("Echo", func(wctx *workflow.Context) (any, error) {
		var s string
		if err := wctx.Input(&s); err != nil {
			return nil, err
		}

		return s, nil
	}))
	require.NoError(t, w.Start(ctx))

	c := New(b)

	instance, err := c.CreateInstance(ctx, InstanceOptions{}, "Echo", "hello")
	require.NoError(t, err)

	result, err := GetResult[string](ctx, c, instance, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello", result)

	cancel()
	require.NoError(t, w.WaitForCompletion())
	require.NoError(t, b.Close())
}
