// Package workflowerrors carries activity and workflow failures across
// history events: an error recorded on one worker must deserialize on
// another and drive the same retry decision.
package workflowerrors

import (
	"encoding/json"
	"errors"
)

// Error is the persistable form of a failure. Type names the original Go
// error type so known errors can be reconstructed, Permanent marks the
// failure as not worth retrying, and Cause preserves the unwrap chain.
type Error struct {
	Type       string `json:"type,omitempty"`
	Message    string `json:"message,omitempty"`
	Permanent  bool   `json:"permanent,omitempty"`
	Cause      error  `json:"cause,omitempty"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	// Cause is always assigned a *Error, so guard against the typed nil
	// that a plain `e.Cause != nil` check would let through.
	if e == nil || e.Cause == (*Error)(nil) {
		return nil
	}

	return e.Cause
}

func (e *Error) Stack() string {
	return e.Stacktrace
}

// UnmarshalJSON decodes Cause into a concrete *Error; the interface-typed
// field cannot be unmarshaled directly.
func (e *Error) UnmarshalJSON(data []byte) error {
	type plain Error

	var decoded struct {
		plain
		Cause *Error `json:"cause,omitempty"`
	}

	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	*e = Error(decoded.plain)
	e.Cause = decoded.Cause

	return nil
}

// FromError converts err into its persistable form, recursively capturing
// the unwrap chain. Passing an *Error returns it unchanged.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	if e, ok := err.(*Error); ok {
		return e
	}

	e := &Error{
		Type:    typeName(err),
		Message: err.Error(),
	}

	if st, ok := err.(interface{ Stack() string }); ok {
		e.Stacktrace = st.Stack()
	}

	if cause := errors.Unwrap(err); cause != nil {
		e.Cause = FromError(cause)
	}

	return e
}

// ToError restores a persisted error. Known types come back as their
// concrete Go type; anything else stays an *Error copy.
func ToError(err *Error) error {
	if err == nil {
		return nil
	}

	switch err.Type {
	case panicErrorType:
		return &PanicError{message: err.Message, stacktrace: err.Stacktrace}
	default:
		e := *err
		return &e
	}
}

// NewPermanentError marks err as terminal: the dispatcher records it
// without consuming the retry budget.
func NewPermanentError(err error) *Error {
	e := FromError(err)
	e.Permanent = true
	return e
}

// CanRetry reports whether the dispatcher may re-enqueue the failed
// attempt. Every error is retryable unless explicitly marked permanent;
// that includes recovered panics.
func CanRetry(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return !e.Permanent
	}

	return true
}
