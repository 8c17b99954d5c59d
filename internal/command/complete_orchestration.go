package command

import (
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/backend/payload"
	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/internal/workflowerrors"
)

type CompleteOrchestrationCommand struct {
	command

	Status core.InstanceStatus
	Result payload.Payload
	Error  *workflowerrors.Error
}

var _ Command = (*CompleteOrchestrationCommand)(nil)

func NewCompleteOrchestrationCommand(status core.InstanceStatus, result payload.Payload, err error) *CompleteOrchestrationCommand {
	return &CompleteOrchestrationCommand{
		command: command{
			state: CommandState_Pending,
		},
		Status: status,
		Result: result,
		Error:  workflowerrors.FromError(err),
	}
}

func (*CompleteOrchestrationCommand) Type() string {
	return "CompleteOrchestration"
}

func (c *CompleteOrchestrationCommand) Commit(event *history.Event) error {
	return errors.New("orchestration completion is never replayed")
}

func (c *CompleteOrchestrationCommand) Execute(clock clock.Clock) *history.Event {
	c.commit()

	return history.NewHistoryEvent(
		clock.Now(),
		history.EventType_OrchestratorCompleted,
		&history.OrchestratorCompletedAttributes{
			Status: c.Status,
			Result: c.Result,
			Error:  c.Error,
		},
	)
}
