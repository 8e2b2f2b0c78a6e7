// Package activities implements the activity handlers the invoice workflow
// schedules. Handlers receive their collaborators at construction and must
// tolerate repeated invocation for the same correlation id: the dispatcher
// guarantees at-least-once execution, not exactly-once.
package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/learn-automated-testing/invoiceflow/activities/fixtures"
	"github.com/learn-automated-testing/invoiceflow/blob"
	"github.com/learn-automated-testing/invoiceflow/invoice"
	"github.com/learn-automated-testing/invoiceflow/registry"
)

type Activities struct {
	provider fixtures.Provider
	store    blob.Store
	notifier Notifier
	clock    clock.Clock
}

func New(provider fixtures.Provider, store blob.Store, notifier Notifier) *Activities {
	return NewWithClock(provider, store, notifier, clock.New())
}

func NewWithClock(provider fixtures.Provider, store blob.Store, notifier Notifier, clock clock.Clock) *Activities {
	return &Activities{
		provider: provider,
		store:    store,
		notifier: notifier,
		clock:    clock,
	}
}

// Registerer is satisfied by registry.Registry and worker.Worker.
type Registerer interface {
	RegisterActivity(name string, handler registry.ActivityHandler) error
}

// Register registers all invoice activity handlers under their workflow
// facing names.
func (a *Activities) Register(r Registerer) error {
	handlers := map[string]registry.ActivityHandler{
		invoice.ActivityFetchInvoice:           registry.Activity(nil, a.FetchInvoice),
		invoice.ActivityRequestManagerApproval: registry.Activity(nil, a.RequestManagerApproval),
		invoice.ActivityGenerateAndStorePDF:    registry.Activity(nil, a.GenerateAndStorePDF),
		invoice.ActivityNotifyByEmail:          registry.Activity(nil, a.NotifyByEmail),
	}

	for name, handler := range handlers {
		if err := r.RegisterActivity(name, handler); err != nil {
			return fmt.Errorf("registering activity %q: %w", name, err)
		}
	}

	return nil
}

// FetchInvoice resolves the selector to an invoice document and merges any
// literal overrides from the request over it.
func (a *Activities) FetchInvoice(ctx context.Context, input invoice.StartInput) (invoice.FetchResult, error) {
	doc, err := a.provider.Invoice(input.CustomerID)
	if err != nil {
		return invoice.FetchResult{}, fmt.Errorf("resolving invoice for selector %d: %w", input.CustomerID, err)
	}

	if len(input.Overrides) > 0 {
		doc, err = mergeOverrides(doc, input.Overrides)
		if err != nil {
			return invoice.FetchResult{}, err
		}
	}

	var record invoice.Record
	if err := json.Unmarshal(doc, &record); err != nil {
		return invoice.FetchResult{}, fmt.Errorf("decoding invoice document: %w", err)
	}

	return invoice.FetchResult{
		Success:   true,
		Data:      record,
		Timestamp: a.clock.Now().UTC().Format(time.RFC3339),
	}, nil
}

// RequestManagerApproval decides whether a high-value invoice may proceed.
// Vendors on the rejection list are denied; everything else is approved at a
// level depending on the amount.
func (a *Activities) RequestManagerApproval(ctx context.Context, record invoice.Record) (invoice.ApprovalResult, error) {
	if record.VendorName == "Rejected Vendor" {
		return invoice.ApprovalResult{Approved: false}, nil
	}

	approver := "Manager"
	if record.TotalAmount > 5000 {
		approver = "Senior Manager"
	}

	return invoice.ApprovalResult{
		Approved:   true,
		ApprovedBy: approver,
		ApprovedAt: a.clock.Now().UTC().Format(time.RFC3339),
	}, nil
}

// GenerateAndStorePDF renders the invoice document and writes it to the blob
// store under a name derived from the invoice id. The deterministic name
// makes repeated attempts for the same correlation id overwrite rather than
// duplicate.
func (a *Activities) GenerateAndStorePDF(ctx context.Context, record invoice.Record) (invoice.PDFResult, error) {
	if err := record.Validate(); err != nil {
		// A malformed record is a business failure, not a transient fault.
		return invoice.PDFResult{Success: false, Error: err.Error()}, nil
	}

	data, err := renderPDF(record)
	if err != nil {
		return invoice.PDFResult{Success: false, Error: err.Error()}, nil
	}

	blobName := fmt.Sprintf("invoice-%s.pdf", record.InvoiceID)

	url, err := a.store.Put(ctx, blobName, data)
	if err != nil {
		// Storage faults are transient; let the dispatcher retry.
		return invoice.PDFResult{}, fmt.Errorf("storing %q: %w", blobName, err)
	}

	return invoice.PDFResult{
		Success:     true,
		BlobName:    blobName,
		BlobURL:     url,
		ProcessedAt: a.clock.Now().UTC().Format(time.RFC3339),
	}, nil
}

type NotifyResult struct {
	Sent bool `json:"sent"`
}

// NotifyByEmail sends a processing confirmation to the configured recipient.
func (a *Activities) NotifyByEmail(ctx context.Context, input invoice.NotifyInput) (NotifyResult, error) {
	subject := fmt.Sprintf("Invoice %s processed", input.InvoiceID)
	body := fmt.Sprintf("Invoice %s has been processed and archived.", input.InvoiceID)

	if err := a.notifier.Send(ctx, input.Recipient, subject, body); err != nil {
		return NotifyResult{}, fmt.Errorf("notifying %s: %w", input.Recipient, err)
	}

	return NotifyResult{Sent: true}, nil
}

// mergeOverrides applies literal field overrides on top of the fetched
// document at the top level.
func mergeOverrides(doc json.RawMessage, overrides map[string]json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("decoding invoice document: %w", err)
	}

	for k, v := range overrides {
		fields[k] = v
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("merging invoice overrides: %w", err)
	}

	return merged, nil
}
