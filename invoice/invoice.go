// Package invoice holds the invoice domain types and the invoice processing
// workflow definition.
package invoice

import (
	"fmt"
	"strings"
)

// ApprovalThreshold is the total amount above which an invoice requires
// manager approval before a document is generated.
const ApprovalThreshold = 10000

// WorkflowName is the registered name of the invoice processing workflow.
const WorkflowName = "InvoiceOrchestrator"

// Activity names the workflow schedules. Handlers are registered under these
// names in the registry.
const (
	ActivityFetchInvoice           = "FetchInvoice"
	ActivityRequestManagerApproval = "RequestManagerApproval"
	ActivityGenerateAndStorePDF    = "GenerateAndStorePDF"
	ActivityNotifyByEmail          = "NotifyByEmail"
)

type LineItem struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	Total       float64 `json:"total"`
}

// Record is an invoice as returned by FetchInvoice.
type Record struct {
	InvoiceID   string     `json:"invoiceId"`
	VendorName  string     `json:"vendorName"`
	TotalAmount float64    `json:"totalAmount"`
	Currency    string     `json:"currency"`
	InvoiceDate string     `json:"invoiceDate,omitempty"`
	DueDate     string     `json:"dueDate,omitempty"`
	LineItems   []LineItem `json:"lineItems"`
}

// Validate checks the fields a document can be generated from. An invalid
// record never reaches PDF generation.
func (r *Record) Validate() error {
	var problems []string

	if r.InvoiceID == "" {
		problems = append(problems, "missing invoice id")
	}

	if len(r.LineItems) == 0 {
		problems = append(problems, "no line items")
	}

	if r.TotalAmount < 0 {
		problems = append(problems, "negative total amount")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid invoice: %s", strings.Join(problems, ", "))
	}

	return nil
}

// FetchResult is the result of the FetchInvoice activity.
type FetchResult struct {
	Success   bool   `json:"success"`
	Data      Record `json:"data"`
	Timestamp string `json:"timestamp"`
}

// ApprovalResult is the result of the RequestManagerApproval activity.
type ApprovalResult struct {
	Approved   bool   `json:"approved"`
	ApprovedBy string `json:"approvedBy,omitempty"`
	ApprovedAt string `json:"approvedAt,omitempty"`
}

// PDFResult is the result of the GenerateAndStorePDF activity.
type PDFResult struct {
	Success     bool   `json:"success"`
	BlobName    string `json:"blobName,omitempty"`
	BlobURL     string `json:"blobUrl,omitempty"`
	ProcessedAt string `json:"processedAt,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NotifyInput is the input of the NotifyByEmail activity.
type NotifyInput struct {
	Recipient string `json:"recipient"`
	InvoiceID string `json:"invoiceId"`
}

// Output is the terminal output of the invoice workflow. ApprovalResult
// deliberately has no omitempty: callers distinguish "approval skipped"
// (null) from a recorded approval outcome.
type Output struct {
	Success        bool            `json:"success"`
	Reason         string          `json:"reason,omitempty"`
	Error          string          `json:"error,omitempty"`
	InvoiceData    *Record         `json:"invoiceData,omitempty"`
	ApprovalResult *ApprovalResult `json:"approvalResult"`
	PDFDetails     *PDFResult      `json:"pdfDetails,omitempty"`
}
