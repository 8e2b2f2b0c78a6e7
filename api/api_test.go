package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/learn-automated-testing/invoiceflow/activities"
	"github.com/learn-automated-testing/invoiceflow/activities/fixtures"
	"github.com/learn-automated-testing/invoiceflow/backend/memory"
	"github.com/learn-automated-testing/invoiceflow/blob"
	"github.com/learn-automated-testing/invoiceflow/client"
	"github.com/learn-automated-testing/invoiceflow/invoice"
	"github.com/learn-automated-testing/invoiceflow/worker"
)

type startBody struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	StatusQueryGetURI string `json:"statusQueryGetUri"`
}

type statusBody struct {
	InstanceID    string          `json:"instanceId"`
	RuntimeStatus string          `json:"runtimeStatus"`
	Output        *invoice.Output `json:"output"`
}

type testServer struct {
	server *httptest.Server
	store  *blob.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	b := memory.NewBackend()
	store := blob.NewMemoryStore()

	w := worker.New(b, worker.WithPollers(1), worker.WithPollingInterval(5*time.Millisecond))
	require.NoError(t, w.RegisterWorkflow(invoice.WorkflowName, invoice.ProcessInvoice))
	require.NoError(t, activities.New(fixtures.NewEmbedded(), store, activities.NoopNotifier{}).Register(w))
	require.NoError(t, w.Start(ctx))

	a := New(client.New(b), slog.Default())
	server := httptest.NewServer(a.Router())

	t.Cleanup(func() {
		server.Close()
		a.Close()
		cancel()
		require.NoError(t, w.WaitForCompletion())
		require.NoError(t, b.Close())
	})

	return &testServer{server: server, store: store}
}

func (ts *testServer) start(t *testing.T, body string) startBody {
	t.Helper()

	resp, err := http.Post(ts.server.URL+"/invoice/start", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started startBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	require.NotEmpty(t, started.ID)
	require.Equal(t, "Running", started.Status)
	require.Equal(t, "/orchestrators/status/"+started.ID, started.StatusQueryGetURI)

	return started
}

func (ts *testServer) waitForFinished(t *testing.T, instanceID string) statusBody {
	t.Helper()

	var status statusBody

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.server.URL + "/orchestrators/status/" + instanceID)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))

		return status.RuntimeStatus == "Completed" || status.RuntimeStatus == "Failed"
	}, 5*time.Second, 10*time.Millisecond)

	return status
}

func Test_API_NormalInvoice(t *testing.T) {
	ts := newTestServer(t)

	started := ts.start(t, `{"customerId": 0}`)
	status := ts.waitForFinished(t, started.ID)

	require.Equal(t, "Completed", status.RuntimeStatus)
	require.True(t, status.Output.Success)
	require.Nil(t, status.Output.ApprovalResult)
	require.Equal(t, "INV-NORMAL", status.Output.InvoiceData.InvoiceID)

	names := ts.store.Names()
	require.Len(t, names, 1)
	require.Contains(t, names[0], "INV-NORMAL")
}

func Test_API_HighValueInvoiceWithApproval(t *testing.T) {
	ts := newTestServer(t)

	started := ts.start(t, `{"customerId": 1}`)
	status := ts.waitForFinished(t, started.ID)

	require.Equal(t, "Completed", status.RuntimeStatus)
	require.True(t, status.Output.Success)
	require.NotNil(t, status.Output.ApprovalResult)
	require.True(t, status.Output.ApprovalResult.Approved)
	require.Equal(t, float64(20000), status.Output.InvoiceData.TotalAmount)

	names := ts.store.Names()
	require.Len(t, names, 1)
	require.Contains(t, names[0], "INV-HIGH")
}

func Test_API_RejectedVendor(t *testing.T) {
	ts := newTestServer(t)

	started := ts.start(t, `{"customerId": 2}`)
	status := ts.waitForFinished(t, started.ID)

	require.Equal(t, "Failed", status.RuntimeStatus)
	require.False(t, status.Output.Success)
	require.Equal(t, "Not approved", status.Output.Reason)
	require.NotNil(t, status.Output.ApprovalResult)
	require.False(t, status.Output.ApprovalResult.Approved)

	// No document for rejected invoices
	require.Empty(t, ts.store.Names())
}

func Test_API_InvalidInvoiceData(t *testing.T) {
	ts := newTestServer(t)

	started := ts.start(t, `{"customerId": 3}`)
	status := ts.waitForFinished(t, started.ID)

	require.Equal(t, "Failed", status.RuntimeStatus)
	require.False(t, status.Output.Success)
	require.NotEmpty(t, status.Output.Error)

	require.Empty(t, ts.store.Names())
}

func Test_API_MissingSelectorDefaultsToNormalInvoice(t *testing.T) {
	ts := newTestServer(t)

	started := ts.start(t, `{}`)
	status := ts.waitForFinished(t, started.ID)

	require.Equal(t, "Completed", status.RuntimeStatus)
	require.Equal(t, "INV-NORMAL", status.Output.InvoiceData.InvoiceID)
}

func Test_API_MalformedBodyDefaultsToNormalInvoice(t *testing.T) {
	ts := newTestServer(t)

	started := ts.start(t, `this is not json`)
	status := ts.waitForFinished(t, started.ID)

	require.Equal(t, "Completed", status.RuntimeStatus)
	require.True(t, status.Output.Success)
	require.Equal(t, "INV-NORMAL", status.Output.InvoiceData.InvoiceID)
}

func Test_API_StatusNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.server.URL + "/orchestrators/status/unknown-id")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "unknown-id")
}

func Test_API_TerminalStatusIsCached(t *testing.T) {
	ts := newTestServer(t)

	started := ts.start(t, `{"customerId": 0}`)
	first := ts.waitForFinished(t, started.ID)

	// Served from cache once terminal; the response stays identical
	resp, err := http.Get(ts.server.URL + "/orchestrators/status/" + started.ID)
	require.NoError(t, err)
	defer resp.Body.Close()

	var second statusBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&second))
	require.Equal(t, first, second)
}

func Test_API_Healthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}
