package invoice

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_StartInput_Unmarshal(t *testing.T) {
	tests := []struct {
		name string
		body string
		want StartInput
	}{
		{
			name: "selector only",
			body: `{"customerId": 2}`,
			want: StartInput{CustomerID: 2},
		},
		{
			name: "missing selector defaults to zero",
			body: `{}`,
			want: StartInput{},
		},
		{
			name: "malformed body defaults to zero",
			body: `not json at all`,
			want: StartInput{},
		},
		{
			name: "non-numeric selector is ignored",
			body: `{"customerId": "one"}`,
			want: StartInput{},
		},
		{
			name: "notify email",
			body: `{"customerId": 1, "notifyEmail": "ap@example.com"}`,
			want: StartInput{CustomerID: 1, NotifyEmail: "ap@example.com"},
		},
		{
			name: "extra fields become overrides",
			body: `{"customerId": 0, "vendorName": "Acme"}`,
			want: StartInput{
				CustomerID: 0,
				Overrides:  map[string]json.RawMessage{"vendorName": json.RawMessage(`"Acme"`)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got StartInput
			require.NoError(t, json.Unmarshal([]byte(tt.body), &got))
			require.Equal(t, tt.want, got)
		})
	}
}

func Test_StartInput_RoundTrip(t *testing.T) {
	in := StartInput{
		CustomerID:  3,
		NotifyEmail: "ap@example.com",
		Overrides:   map[string]json.RawMessage{"currency": json.RawMessage(`"EUR"`)},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out StartInput
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, in, out)
}

func Test_Record_Validate(t *testing.T) {
	valid := Record{
		InvoiceID:   "INV-1",
		VendorName:  "Acme",
		TotalAmount: 100,
		LineItems:   []LineItem{{Description: "x", Quantity: 1, UnitPrice: 100, Total: 100}},
	}
	require.NoError(t, valid.Validate())

	missing := valid
	missing.InvoiceID = ""
	require.ErrorContains(t, missing.Validate(), "missing invoice id")

	empty := valid
	empty.LineItems = nil
	require.ErrorContains(t, empty.Validate(), "no line items")

	negative := valid
	negative.TotalAmount = -1
	require.ErrorContains(t, negative.Validate(), "negative total amount")
}
