// Package fixtures provides the canned invoice documents FetchInvoice
// resolves selectors against. Production deployments swap the Provider for a
// real upstream; the workflow never depends on where invoices come from.
package fixtures

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed data/*.json
var data embed.FS

// DefaultSelector is used for missing or unknown selectors.
const DefaultSelector = 0

// Provider resolves a customer selector to a raw invoice document.
type Provider interface {
	Invoice(customerID int) (json.RawMessage, error)
}

// Embedded serves the invoice documents compiled into the binary.
type Embedded struct{}

var _ Provider = Embedded{}

func NewEmbedded() Embedded {
	return Embedded{}
}

// Invoice returns the raw document for the given selector. Unknown selectors
// fall back to the default invoice.
func (Embedded) Invoice(customerID int) (json.RawMessage, error) {
	doc, err := data.ReadFile(fmt.Sprintf("data/invoice-%d.json", customerID))
	if err != nil {
		doc, err = data.ReadFile(fmt.Sprintf("data/invoice-%d.json", DefaultSelector))
		if err != nil {
			return nil, fmt.Errorf("reading default invoice fixture: %w", err)
		}
	}

	return json.RawMessage(doc), nil
}
