package registry

import "fmt"

type ErrInvalidWorkflow struct {
	msg string
}

func (e *ErrInvalidWorkflow) Error() string {
	return e.msg
}

type ErrInvalidActivity struct {
	msg string
}

func (e *ErrInvalidActivity) Error() string {
	return e.msg
}

type ErrWorkflowAlreadyRegistered struct {
	msg string
}

func (e *ErrWorkflowAlreadyRegistered) Error() string {
	return e.msg
}

type ErrActivityAlreadyRegistered struct {
	msg string
}

func (e *ErrActivityAlreadyRegistered) Error() string {
	return e.msg
}

type ErrWorkflowNotRegistered struct {
	Name string
}

func (e *ErrWorkflowNotRegistered) Error() string {
	return fmt.Sprintf("workflow %q not registered", e.Name)
}

type ErrActivityNotRegistered struct {
	Name string
}

func (e *ErrActivityNotRegistered) Error() string {
	return fmt.Sprintf("activity %q not registered", e.Name)
}
