package history

import (
	"github.com/learn-automated-testing/invoiceflow/backend/payload"
)

type ActivityCompletedAttributes struct {
	Result payload.Payload `json:"result,omitempty"`
}
