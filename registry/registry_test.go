package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/learn-automated-testing/invoiceflow/backend/payload"
	wf "github.com/learn-automated-testing/invoiceflow/workflow"
)

func Test_RegisterWorkflow(t *testing.T) {
	r := New()

	def := func(ctx *wf.Context) (any, error) { return nil, nil }

	require.NoError(t, r.RegisterWorkflow("ProcessInvoice", def))

	got, err := r.GetWorkflow("ProcessInvoice")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func Test_RegisterWorkflow_Duplicate(t *testing.T) {
	r := New()

	def := func(ctx *wf.Context) (any, error) { return nil, nil }

	require.NoError(t, r.RegisterWorkflow("ProcessInvoice", def))

	err := r.RegisterWorkflow("ProcessInvoice", def)
	var wantErr *ErrWorkflowAlreadyRegistered
	require.ErrorAs(t, err, &wantErr)
}

func Test_GetWorkflow_Unknown(t *testing.T) {
	r := New()

	_, err := r.GetWorkflow("nope")
	var wantErr *ErrWorkflowNotRegistered
	require.ErrorAs(t, err, &wantErr)
}

func Test_RegisterActivity_Invalid(t *testing.T) {
	r := New()

	err := r.RegisterActivity("", func(context.Context, payload.Payload) (payload.Payload, error) { return nil, nil })
	var wantErr *ErrInvalidActivity
	require.ErrorAs(t, err, &wantErr)

	err = r.RegisterActivity("x", nil)
	require.ErrorAs(t, err, &wantErr)
}

func Test_GetActivity_Unknown(t *testing.T) {
	r := New()

	_, err := r.GetActivity("nope")
	var wantErr *ErrActivityNotRegistered
	require.ErrorAs(t, err, &wantErr)
}

func Test_Activity_Adapter(t *testing.T) {
	type in struct {
		A int `json:"a"`
	}

	h := Activity(nil, func(ctx context.Context, input in) (int, error) {
		return input.A * 2, nil
	})

	result, err := h(context.Background(), json.RawMessage(`{"a":21}`))
	require.NoError(t, err)
	require.JSONEq(t, `42`, string(result))
}
