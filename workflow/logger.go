package workflow

import (
	"log/slog"

	"github.com/itixo/durabletask/internal/workflowstate"
)

// Logger returns a logger with the orchestration instance set as default fields. Messages logged while the
// orchestration is replaying are dropped.
func Logger(ctx Context) *slog.Logger {
	return workflowstate.OrchestrationStateFromContext(ctx).Logger()
}
