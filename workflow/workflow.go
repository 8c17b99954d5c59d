package workflow

import (
	"github.com/itixo/durabletask/internal/sync"
)

type (
	// Context is passed to orchestrations. It is not a context.Context: orchestration code must not block on
	// anything but the futures returned by this package.
	Context = sync.Context

	// Orchestration is a function with signature func(Context[, In]) ([Out, ]error)
	Orchestration = any

	// Activity is a function with signature func(context.Context[, In]) ([Out, ]error)
	Activity = any
)
