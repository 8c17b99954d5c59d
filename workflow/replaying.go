package workflow

import (
	"github.com/itixo/durabletask/internal/workflowstate"
)

// Replaying returns true while orchestration code re-executes steps already recorded in the history.
func Replaying(ctx Context) bool {
	return workflowstate.OrchestrationStateFromContext(ctx).Replaying()
}

// InstanceID returns the id of the running orchestration instance.
func InstanceID(ctx Context) string {
	return workflowstate.OrchestrationStateFromContext(ctx).InstanceID()
}
