package workflowerrors

import goerrors "github.com/go-errors/errors"

// stack returns the formatted stack of the caller, skipping skip frames above stack itself.
func stack(skip int) string {
	goerr := goerrors.Wrap("", skip)
	return string(goerr.Stack())
}
