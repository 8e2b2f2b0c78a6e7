// Package payload defines the wire representation for workflow inputs,
// activity results, and serialized history attributes.
package payload

import "encoding/json"

// Payload is a serialized value as stored in history and instance state.
// It is an alias of json.RawMessage so that payloads embed as-is when an
// enclosing struct is marshaled, instead of being base64-encoded.
type Payload = json.RawMessage
