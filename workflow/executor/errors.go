package executor

import "fmt"

// NonDeterminismError is returned when orchestration code makes different decisions than the ones recorded in
// its history.
type NonDeterminismError struct {
	InstanceID string
	SequenceID int64
	Reason     string
}

func (e *NonDeterminismError) Error() string {
	return fmt.Sprintf("non-deterministic orchestration %s at sequence %d: %s", e.InstanceID, e.SequenceID, e.Reason)
}
