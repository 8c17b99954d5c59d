package command

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/backend/payload"
)

type ScheduleActivityCommand struct {
	command

	Name    string
	Input   payload.Payload
	Attempt int
}

var _ Command = (*ScheduleActivityCommand)(nil)

func NewScheduleActivityCommand(id int64, name string, input payload.Payload, attempt int) *ScheduleActivityCommand {
	return &ScheduleActivityCommand{
		command: command{
			state: CommandState_Pending,
			id:    id,
		},
		Name:    name,
		Input:   input,
		Attempt: attempt,
	}
}

func (*ScheduleActivityCommand) Type() string {
	return "ScheduleActivity"
}

func (c *ScheduleActivityCommand) Commit(event *history.Event) error {
	a, ok := event.Attributes.(*history.TaskScheduledAttributes)
	if !ok || event.Type != history.EventType_TaskScheduled || event.TaskID != c.id || a.Name != c.Name {
		return &MismatchError{
			Command: fmt.Sprintf("ScheduleActivity(task %d, %q)", c.id, c.Name),
			Event:   describe(event),
		}
	}

	c.commit()

	return nil
}

func (c *ScheduleActivityCommand) Execute(clock clock.Clock) *history.Event {
	c.commit()

	return history.NewHistoryEvent(
		clock.Now(),
		history.EventType_TaskScheduled,
		&history.TaskScheduledAttributes{
			Name:    c.Name,
			Input:   c.Input,
			Attempt: c.Attempt,
		},
		history.TaskID(c.id),
	)
}

func describe(event *history.Event) string {
	if a, ok := event.Attributes.(*history.TaskScheduledAttributes); ok {
		return fmt.Sprintf("%s(task %d, %q)", event.Type, event.TaskID, a.Name)
	}

	return fmt.Sprintf("%s(task %d)", event.Type, event.TaskID)
}
