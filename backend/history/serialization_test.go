package history

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/learn-automated-testing/invoiceflow/internal/workflowerrors"
)

func Test_SerializeAttributes_RoundTrip(t *testing.T) {
	e := NewEvent(time.Now(), EventType_ActivityScheduled, &ActivityScheduledAttributes{
		Name:    "FetchInvoice",
		Attempt: 1,
		Input:   json.RawMessage(`{"customerId":1}`),
	})

	data, err := SerializeAttributes(e.Attributes)
	require.NoError(t, err)

	attr, err := DeserializeAttributes(e.Type, data)
	require.NoError(t, err)

	scheduled, ok := attr.(*ActivityScheduledAttributes)
	require.True(t, ok)
	require.Equal(t, "FetchInvoice", scheduled.Name)
	require.Equal(t, 1, scheduled.Attempt)
	require.JSONEq(t, `{"customerId":1}`, string(scheduled.Input))
}

func Test_DeserializeAttributes_PreservesError(t *testing.T) {
	data, err := SerializeAttributes(&ActivityFailedAttributes{
		Error: workflowerrors.NewPermanentError(errors.New("blob upload failed")),
	})
	require.NoError(t, err)

	attr, err := DeserializeAttributes(EventType_ActivityFailed, data)
	require.NoError(t, err)

	failed := attr.(*ActivityFailedAttributes)
	require.Equal(t, "blob upload failed", failed.Error.Message)
	require.True(t, failed.Error.Permanent)
}

func Test_DeserializeAttributes_UnknownType(t *testing.T) {
	_, err := DeserializeAttributes(EventType(99), []byte(`{}`))
	require.Error(t, err)
}
