package workflowerrors

type PanicError struct {
	message    string
	stacktrace string
}

func (pe *PanicError) Error() string {
	return pe.message
}

func (pe *PanicError) Stack() string {
	return pe.stacktrace
}

// NewPanicError creates a new panic error. It's meant to be called from a deferred recover handler,
// the captured stack starts at the function that panicked.
func NewPanicError(msg string) *PanicError {
	return &PanicError{
		message:    msg,
		stacktrace: stack(3),
	}
}
