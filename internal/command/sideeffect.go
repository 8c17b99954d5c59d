package command

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/backend/payload"
)

type SideEffectCommand struct {
	command

	result payload.Payload
}

var _ Command = (*SideEffectCommand)(nil)

func NewSideEffectCommand(id int64, result payload.Payload) *SideEffectCommand {
	return &SideEffectCommand{
		command: command{
			state: CommandState_Pending,
			id:    id,
		},
		result: result,
	}
}

func (c *SideEffectCommand) Type() string {
	return "SideEffect"
}

func (c *SideEffectCommand) Commit(event *history.Event) error {
	if event.Type != history.EventType_SideEffectRecorded || event.TaskID != c.id {
		return &MismatchError{
			Command: fmt.Sprintf("SideEffect(task %d)", c.id),
			Event:   describe(event),
		}
	}

	c.commit()

	return nil
}

func (c *SideEffectCommand) Execute(clock clock.Clock) *history.Event {
	c.commit()

	return history.NewHistoryEvent(
		clock.Now(),
		history.EventType_SideEffectRecorded,
		&history.SideEffectRecordedAttributes{
			Result: c.result,
		},
		history.TaskID(c.id),
	)
}
