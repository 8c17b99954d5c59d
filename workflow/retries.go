package workflow

import (
	"github.com/itixo/durabletask/internal/workflowerrors"
)

type RetryOptions struct {
	// Maximum number of attempts, including the first one. Values below 1 mean a single attempt.
	MaxAttempts int
}

var DefaultRetryOptions = RetryOptions{
	MaxAttempts: 1,
}

func (ro RetryOptions) shouldRetry(attempt int, err error) bool {
	return attempt < ro.MaxAttempts && workflowerrors.CanRetry(err)
}
