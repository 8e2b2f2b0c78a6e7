package invoice

import (
	"github.com/learn-automated-testing/invoiceflow/workflow"
)

// ProcessInvoice is the invoice workflow definition: fetch the invoice,
// request manager approval when the fetched total exceeds the threshold,
// validate, then generate and store the PDF document. Business failures
// (rejected approval, invalid invoice, failed generation) end the instance
// as Failed with a descriptive output; they never crash the engine.
func ProcessInvoice(ctx *workflow.Context) (any, error) {
	var input StartInput
	if err := ctx.Input(&input); err != nil {
		return nil, err
	}

	ctx.Logger().Info("Processing invoice", "customer_id", input.CustomerID)

	fetch, err := workflow.Call[FetchResult](ctx, ActivityFetchInvoice, input)
	if err != nil {
		if actErr, ok := workflow.ActivityError(err); ok {
			return failed(&Output{Error: "failed to fetch invoice: " + actErr.Message})
		}

		return nil, err
	}

	if !fetch.Success {
		return failed(&Output{Error: "failed to fetch invoice"})
	}

	record := fetch.Data

	// The approval predicate runs on the fetched record only. Overrides the
	// fetch did not confirm cannot bypass the threshold.
	var approval *ApprovalResult
	if record.TotalAmount > ApprovalThreshold {
		a, err := workflow.Call[ApprovalResult](ctx, ActivityRequestManagerApproval, record)
		if err != nil {
			if actErr, ok := workflow.ActivityError(err); ok {
				return failed(&Output{
					Error:       "approval request failed: " + actErr.Message,
					InvoiceData: &record,
				})
			}

			return nil, err
		}

		approval = &a

		if !a.Approved {
			return failed(&Output{
				Reason:         "Not approved",
				InvoiceData:    &record,
				ApprovalResult: approval,
			})
		}
	}

	if err := record.Validate(); err != nil {
		return failed(&Output{
			Error:          err.Error(),
			InvoiceData:    &record,
			ApprovalResult: approval,
		})
	}

	pdf, err := workflow.Call[PDFResult](ctx, ActivityGenerateAndStorePDF, record)
	if err != nil {
		if actErr, ok := workflow.ActivityError(err); ok {
			return failed(&Output{
				Error:          "failed to generate and store PDF: " + actErr.Message,
				InvoiceData:    &record,
				ApprovalResult: approval,
			})
		}

		return nil, err
	}

	if !pdf.Success {
		return failed(&Output{
			Error:          pdf.Error,
			InvoiceData:    &record,
			ApprovalResult: approval,
			PDFDetails:     &pdf,
		})
	}

	if input.NotifyEmail != "" {
		// Best effort: a failed notification never fails the instance.
		_, err := workflow.Call[any](ctx, ActivityNotifyByEmail, NotifyInput{
			Recipient: input.NotifyEmail,
			InvoiceID: record.InvoiceID,
		})
		if err != nil {
			if _, ok := workflow.ActivityError(err); !ok {
				return nil, err
			}

			ctx.Logger().Warn("Notification failed", "invoice_id", record.InvoiceID)
		}
	}

	return &Output{
		Success:        true,
		InvoiceData:    &record,
		ApprovalResult: approval,
		PDFDetails:     &pdf,
	}, nil
}

// failed pairs a failure output with its terminal failure marker. The reason
// or error text doubles as the recorded workflow error.
func failed(out *Output) (any, error) {
	out.Success = false

	reason := out.Reason
	if reason == "" {
		reason = out.Error
	}

	return out, workflow.Fail(reason)
}
