package history

import (
	"github.com/learn-automated-testing/invoiceflow/backend/payload"
	"github.com/learn-automated-testing/invoiceflow/internal/workflowerrors"
)

// OrchestratorCompletedAttributes carries the terminal outcome of an
// instance. Exactly one of these events exists per instance and it is always
// the last event in its history.
type OrchestratorCompletedAttributes struct {
	Result payload.Payload `json:"result,omitempty"`

	Error *workflowerrors.Error `json:"error,omitempty"`
}
