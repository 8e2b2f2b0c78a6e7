package invoice

import "encoding/json"

// StartInput is the workflow input. CustomerID selects a canned invoice;
// any other fields of the request body are carried along as literal
// overrides merged into the fetched record.
type StartInput struct {
	CustomerID int

	// NotifyEmail, when set, triggers a notification after a successful
	// document generation.
	NotifyEmail string

	// Overrides are literal invoice fields from the request body, merged
	// over the fetched record by FetchInvoice.
	Overrides map[string]json.RawMessage
}

// UnmarshalJSON is lenient: a malformed or empty document selects the
// default invoice, matching how missing selectors behave.
func (si *StartInput) UnmarshalJSON(b []byte) error {
	si.CustomerID = 0
	si.NotifyEmail = ""
	si.Overrides = nil

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}

	if v, ok := raw["customerId"]; ok {
		var id int
		if err := json.Unmarshal(v, &id); err == nil {
			si.CustomerID = id
		}
		delete(raw, "customerId")
	}

	if v, ok := raw["notifyEmail"]; ok {
		var email string
		if err := json.Unmarshal(v, &email); err == nil {
			si.NotifyEmail = email
		}
		delete(raw, "notifyEmail")
	}

	if len(raw) > 0 {
		si.Overrides = raw
	}

	return nil
}

func (si StartInput) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(si.Overrides)+2)
	for k, v := range si.Overrides {
		m[k] = v
	}

	id, err := json.Marshal(si.CustomerID)
	if err != nil {
		return nil, err
	}
	m["customerId"] = id

	if si.NotifyEmail != "" {
		email, err := json.Marshal(si.NotifyEmail)
		if err != nil {
			return nil, err
		}
		m["notifyEmail"] = email
	}

	return json.Marshal(m)
}
