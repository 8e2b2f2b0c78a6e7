package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/learn-automated-testing/invoiceflow/activities/fixtures"
	"github.com/learn-automated-testing/invoiceflow/blob"
	"github.com/learn-automated-testing/invoiceflow/invoice"
	"github.com/learn-automated-testing/invoiceflow/registry"
)

type fakeNotifier struct {
	recipients []string
	err        error
}

func (f *fakeNotifier) Send(_ context.Context, recipient, _, _ string) error {
	if f.err != nil {
		return f.err
	}

	f.recipients = append(f.recipients, recipient)
	return nil
}

func newTestActivities(t *testing.T) (*Activities, *blob.MemoryStore, *fakeNotifier) {
	t.Helper()

	store := blob.NewMemoryStore()
	notifier := &fakeNotifier{}

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))

	return NewWithClock(fixtures.NewEmbedded(), store, notifier, mock), store, notifier
}

func Test_FetchInvoice_Selectors(t *testing.T) {
	a, _, _ := newTestActivities(t)
	ctx := context.Background()

	tests := []struct {
		selector  int
		invoiceID string
		total     float64
	}{
		{0, "INV-NORMAL", 750},
		{1, "INV-HIGH", 20000},
		{2, "INV-REJECT", 15000},
	}

	for _, tt := range tests {
		result, err := a.FetchInvoice(ctx, invoice.StartInput{CustomerID: tt.selector})
		require.NoError(t, err)
		require.True(t, result.Success)
		require.Equal(t, tt.invoiceID, result.Data.InvoiceID)
		require.Equal(t, tt.total, result.Data.TotalAmount)
		require.NotEmpty(t, result.Timestamp)
	}
}

func Test_FetchInvoice_InvalidFixture(t *testing.T) {
	a, _, _ := newTestActivities(t)

	result, err := a.FetchInvoice(context.Background(), invoice.StartInput{CustomerID: 3})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Empty(t, result.Data.InvoiceID)
	require.Empty(t, result.Data.LineItems)
}

func Test_FetchInvoice_UnknownSelectorFallsBack(t *testing.T) {
	a, _, _ := newTestActivities(t)

	result, err := a.FetchInvoice(context.Background(), invoice.StartInput{CustomerID: 99})
	require.NoError(t, err)
	require.Equal(t, "INV-NORMAL", result.Data.InvoiceID)
}

func Test_FetchInvoice_MergesOverrides(t *testing.T) {
	a, _, _ := newTestActivities(t)

	result, err := a.FetchInvoice(context.Background(), invoice.StartInput{
		CustomerID: 0,
		Overrides: map[string]json.RawMessage{
			"vendorName": json.RawMessage(`"Override Vendor"`),
			"currency":   json.RawMessage(`"EUR"`),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Override Vendor", result.Data.VendorName)
	require.Equal(t, "EUR", result.Data.Currency)

	// Untouched fields keep their fixture values
	require.Equal(t, "INV-NORMAL", result.Data.InvoiceID)
	require.Equal(t, float64(750), result.Data.TotalAmount)
}

func Test_RequestManagerApproval(t *testing.T) {
	a, _, _ := newTestActivities(t)
	ctx := context.Background()

	approved, err := a.RequestManagerApproval(ctx, invoice.Record{VendorName: "Acme", TotalAmount: 20000})
	require.NoError(t, err)
	require.True(t, approved.Approved)
	require.Equal(t, "Senior Manager", approved.ApprovedBy)
	require.NotEmpty(t, approved.ApprovedAt)

	midLevel, err := a.RequestManagerApproval(ctx, invoice.Record{VendorName: "Acme", TotalAmount: 3000})
	require.NoError(t, err)
	require.Equal(t, "Manager", midLevel.ApprovedBy)

	denied, err := a.RequestManagerApproval(ctx, invoice.Record{VendorName: "Rejected Vendor", TotalAmount: 15000})
	require.NoError(t, err)
	require.False(t, denied.Approved)
	require.Empty(t, denied.ApprovedBy)
}

func Test_GenerateAndStorePDF(t *testing.T) {
	a, store, _ := newTestActivities(t)

	record := invoice.Record{
		InvoiceID:   "INV-NORMAL",
		VendorName:  "Acme Supplies",
		TotalAmount: 750,
		Currency:    "USD",
		LineItems:   []invoice.LineItem{{Description: "Paper", Quantity: 10, UnitPrice: 75, Total: 750}},
	}

	result, err := a.GenerateAndStorePDF(context.Background(), record)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Contains(t, result.BlobName, "INV-NORMAL")
	require.NotEmpty(t, result.BlobURL)
	require.NotEmpty(t, result.ProcessedAt)

	require.Equal(t, []string{"invoice-INV-NORMAL.pdf"}, store.Names())
	require.True(t, bytes.HasPrefix(store.Get("invoice-INV-NORMAL.pdf"), []byte("%PDF")))
}

func Test_GenerateAndStorePDF_IsIdempotent(t *testing.T) {
	a, store, _ := newTestActivities(t)

	record := invoice.Record{
		InvoiceID:   "INV-NORMAL",
		TotalAmount: 750,
		LineItems:   []invoice.LineItem{{Description: "Paper", Quantity: 1, UnitPrice: 750, Total: 750}},
	}

	_, err := a.GenerateAndStorePDF(context.Background(), record)
	require.NoError(t, err)
	_, err = a.GenerateAndStorePDF(context.Background(), record)
	require.NoError(t, err)

	// Repeated attempts overwrite, they never duplicate
	require.Len(t, store.Names(), 1)
}

func Test_GenerateAndStorePDF_InvalidRecord(t *testing.T) {
	a, store, _ := newTestActivities(t)

	result, err := a.GenerateAndStorePDF(context.Background(), invoice.Record{VendorName: "Broken"})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)

	// Nothing was stored
	require.Empty(t, store.Names())
}

func Test_NotifyByEmail(t *testing.T) {
	a, _, notifier := newTestActivities(t)

	result, err := a.NotifyByEmail(context.Background(), invoice.NotifyInput{
		Recipient: "ap@example.com",
		InvoiceID: "INV-NORMAL",
	})
	require.NoError(t, err)
	require.True(t, result.Sent)
	require.Equal(t, []string{"ap@example.com"}, notifier.recipients)
}

func Test_NotifyByEmail_Failure(t *testing.T) {
	a, _, notifier := newTestActivities(t)
	notifier.err = errors.New("relay down")

	_, err := a.NotifyByEmail(context.Background(), invoice.NotifyInput{Recipient: "ap@example.com"})
	require.ErrorContains(t, err, "relay down")
}

func Test_Register(t *testing.T) {
	a, _, _ := newTestActivities(t)

	r := registry.New()
	require.NoError(t, a.Register(r))

	for _, name := range []string{
		invoice.ActivityFetchInvoice,
		invoice.ActivityRequestManagerApproval,
		invoice.ActivityGenerateAndStorePDF,
		invoice.ActivityNotifyByEmail,
	} {
		handler, err := r.GetActivity(name)
		require.NoError(t, err)
		require.NotNil(t, handler)
	}

	// Registering twice fails closed
	require.Error(t, a.Register(r))
}
