package coordinator

import (
	"github.com/benbjohnson/clock"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/internal/workflowerrors"
)

func newFailureEvent(clock clock.Clock, err error) *history.Event {
	return history.NewHistoryEvent(clock.Now(), history.EventType_OrchestratorCompleted,
		&history.OrchestratorCompletedAttributes{
			Status: core.InstanceStatusFailed,
			Error:  workflowerrors.NewPermanentError(err),
		})
}
