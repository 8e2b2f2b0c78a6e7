package workflow

import (
	"fmt"
	"log/slog"

	"github.com/learn-automated-testing/invoiceflow/backend/converter"
	"github.com/learn-automated-testing/invoiceflow/backend/payload"
	"github.com/learn-automated-testing/invoiceflow/internal/workflowerrors"
)

// Step is one recorded activity interaction, reconstructed from an
// ActivityScheduled event and, if present, its completion or failure event.
type Step struct {
	// Name is the activity name from the recorded ActivityScheduled event
	Name string

	// ScheduleEventID is the correlation id of the scheduled activity
	ScheduleEventID int64

	// Completed is true once a completion or failure event was recorded
	Completed bool

	Result payload.Payload

	Err *workflowerrors.Error
}

// Decision is a pending request to schedule an activity, produced by the
// first Call without a recorded step.
type Decision struct {
	Name string

	Input payload.Payload
}

// Context drives one replay pass of a definition. Calls consume recorded
// steps in order; the first call without a recorded result suspends the
// definition.
type Context struct {
	input payload.Payload

	cv converter.Converter

	logger *slog.Logger

	steps []Step
	pc    int

	decision *Decision
}

func NewContext(input payload.Payload, cv converter.Converter, logger *slog.Logger, steps []Step) *Context {
	if cv == nil {
		cv = converter.DefaultConverter
	}

	return &Context{
		input:  input,
		cv:     cv,
		logger: logger,
		steps:  steps,
	}
}

// Input deserializes the instance input into v.
func (c *Context) Input(v any) error {
	if err := c.cv.From(c.input, v); err != nil {
		return fmt.Errorf("converting workflow input: %w", err)
	}

	return nil
}

// Replaying returns true while recorded steps are still being consumed.
// Definitions can use this to suppress side effects like logging.
func (c *Context) Replaying() bool {
	return c.pc < len(c.steps)
}

// Logger returns a logger which drops messages during replay, so a log line
// is emitted once per decision instead of once per pass.
func (c *Context) Logger() *slog.Logger {
	if c.Replaying() {
		return slog.New(slog.DiscardHandler)
	}

	return c.logger
}

// Decision returns the pending activity schedule request, or nil if the
// definition finished or suspended on an already scheduled activity.
func (c *Context) Decision() *Decision {
	return c.decision
}

// Call requests execution of the named activity. During replay the recorded
// result (or recorded failure) is returned without invoking any handler.
// Past the last recorded step, Call records a scheduling decision and
// returns ErrSuspended.
func Call[T any](ctx *Context, activity string, input any) (T, error) {
	var result T

	if ctx.decision != nil {
		// A schedule was already requested in this pass; the definition
		// should have propagated ErrSuspended.
		return result, ErrSuspended
	}

	if ctx.pc < len(ctx.steps) {
		step := ctx.steps[ctx.pc]
		ctx.pc++

		if step.Name != activity {
			return result, &NonDeterminismError{
				ScheduleEventID: step.ScheduleEventID,
				Recorded:        step.Name,
				Replayed:        activity,
			}
		}

		if !step.Completed {
			// Scheduled, result not yet recorded: suspend without a new
			// decision. The pending activity task is redelivered by the
			// backend, not rescheduled here.
			return result, ErrSuspended
		}

		if step.Err != nil {
			return result, step.Err
		}

		if err := ctx.cv.From(step.Result, &result); err != nil {
			return result, fmt.Errorf("converting result of activity %q: %w", activity, err)
		}

		return result, nil
	}

	data, err := ctx.cv.To(input)
	if err != nil {
		return result, fmt.Errorf("converting input for activity %q: %w", activity, err)
	}

	ctx.decision = &Decision{
		Name:  activity,
		Input: data,
	}

	return result, ErrSuspended
}
