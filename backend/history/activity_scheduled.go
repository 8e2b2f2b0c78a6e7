package history

import (
	"github.com/learn-automated-testing/invoiceflow/backend/payload"
)

type ActivityScheduledAttributes struct {
	Name string `json:"name,omitempty"`

	Attempt int `json:"attempt,omitempty"`

	Input payload.Payload `json:"input,omitempty"`
}
