package registry

import "fmt"

type ErrInvalidOrchestration struct {
	msg string
}

func (e *ErrInvalidOrchestration) Error() string {
	return e.msg
}

type ErrInvalidActivity struct {
	msg string
}

func (e *ErrInvalidActivity) Error() string {
	return e.msg
}

// DuplicateNameError is returned when a name is registered a second time.
type DuplicateNameError struct {
	Kind string
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s with name %q already registered", e.Kind, e.Name)
}

type UnknownActivityError struct {
	Name string
}

func (e *UnknownActivityError) Error() string {
	return fmt.Sprintf("activity %q not registered", e.Name)
}

type UnknownOrchestrationError struct {
	Name string
}

func (e *UnknownOrchestrationError) Error() string {
	return fmt.Sprintf("orchestration %q not registered", e.Name)
}

// ActivityExecutionError wraps an error returned by or a panic raised in an activity.
type ActivityExecutionError struct {
	Name string
	Err  error
}

func (e *ActivityExecutionError) Error() string {
	return fmt.Sprintf("activity %q failed: %v", e.Name, e.Err)
}

func (e *ActivityExecutionError) Unwrap() error {
	return e.Err
}
