package command

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/itixo/durabletask/backend/history"
)

// Command is a decision made by orchestration code. A command is either matched against an event already
// recorded in the history (Committed) or turned into a new event at the end of a replay pass.
type Command interface {
	ID() int64

	// Commit marks the command as recorded by an existing history event. It returns an error if the event
	// does not describe this command.
	Commit(event *history.Event) error

	// Execute returns the event recording this command. Only valid in state Pending.
	Execute(clock clock.Clock) *history.Event

	// Done marks the command as done. This transitions the state to done and indicates that the result
	// of this command has been applied.
	Done()

	State() CommandState

	Type() string
}

type command struct {
	state CommandState

	id int64
}

func (c *command) commit() {
	if c.state != CommandState_Pending {
		panic("command already committed")
	}

	c.state = CommandState_Committed
}

func (c *command) ID() int64 {
	return c.id
}

func (c *command) State() CommandState {
	return c.state
}

func (c *command) Done() {
	c.state = CommandState_Done
}

// MismatchError describes a history event that does not match the command issued for its task id.
type MismatchError struct {
	Command string
	Event   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("orchestration issued %s but history recorded %s", e.Command, e.Event)
}
