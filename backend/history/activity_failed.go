package history

import "github.com/learn-automated-testing/invoiceflow/internal/workflowerrors"

type ActivityFailedAttributes struct {
	Error *workflowerrors.Error `json:"error,omitempty"`
}
