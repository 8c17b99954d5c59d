package workflow

import "github.com/itixo/durabletask/internal/workflowerrors"

type (
	Error      = workflowerrors.Error
	PanicError = workflowerrors.PanicError
)

// NewError wraps the given error into an error that survives the history and is retried
func NewError(err error) error {
	return workflowerrors.FromError(err)
}

// NewPermanentError wraps the given error into an error that is never retried
func NewPermanentError(err error) error {
	return workflowerrors.NewPermanentError(err)
}

// CanRetry returns true if the given error is retryable
func CanRetry(err error) bool {
	return workflowerrors.CanRetry(err)
}
