package workflow

import (
	"errors"
	"fmt"

	"github.com/learn-automated-testing/invoiceflow/internal/workflowerrors"
)

// ErrSuspended is returned from a definition when it requested an activity
// whose result is not yet recorded in history. It must be propagated
// unchanged to the engine.
var ErrSuspended = errors.New("workflow suspended")

// Suspended returns true if the given error is the suspension sentinel.
func Suspended(err error) bool {
	return errors.Is(err, ErrSuspended)
}

// NonDeterminismError indicates that replaying the definition produced a
// different decision than the one recorded in history, e.g. because the
// workflow code changed. It is fatal for the instance and must not be
// converted into a workflow outcome.
type NonDeterminismError struct {
	ScheduleEventID int64

	// Recorded is the activity name recorded in history
	Recorded string

	// Replayed is the activity name the definition requested at the same
	// position during replay
	Replayed string
}

func (e *NonDeterminismError) Error() string {
	return fmt.Sprintf(
		"non-deterministic replay: history recorded activity %q for schedule event %d, definition requested %q",
		e.Recorded, e.ScheduleEventID, e.Replayed)
}

// Failure marks a terminal failed outcome. The definition can still return
// an output alongside it; the engine records both and sets the instance
// state to Failed.
type Failure struct {
	Reason string
}

func (f *Failure) Error() string {
	return f.Reason
}

// Fail creates a terminal failure marker with the given reason.
func Fail(reason string) error {
	return &Failure{Reason: reason}
}

// ActivityError returns the recorded activity failure if err originates from
// an ActivityFailed event, and true in that case. Suspension and engine
// faults return false and must be propagated by the definition instead.
func ActivityError(err error) (*workflowerrors.Error, bool) {
	var we *workflowerrors.Error
	if errors.As(err, &we) {
		return we, true
	}

	return nil, false
}
