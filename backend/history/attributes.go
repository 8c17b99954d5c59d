package history

import (
	"github.com/itixo/durabletask/backend/payload"
	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/internal/workflowerrors"
)

type OrchestratorStartedAttributes struct {
	Name string `json:"name,omitempty"`

	Input payload.Payload `json:"input,omitempty"`
}

type TaskScheduledAttributes struct {
	Name string `json:"name,omitempty"`

	Input payload.Payload `json:"input,omitempty"`

	// Attempt is the retry attempt of the logical step this task belongs to.
	Attempt int `json:"attempt,omitempty"`
}

type TaskCompletedAttributes struct {
	Result payload.Payload `json:"result,omitempty"`
}

type TaskFailedAttributes struct {
	Error *workflowerrors.Error `json:"error,omitempty"`
}

type SideEffectRecordedAttributes struct {
	Result payload.Payload `json:"result,omitempty"`
}

type TerminationRequestedAttributes struct {
	Reason string `json:"reason,omitempty"`
}

type OrchestratorCompletedAttributes struct {
	Status core.InstanceStatus `json:"status"`

	Result payload.Payload `json:"result,omitempty"`

	Error *workflowerrors.Error `json:"error,omitempty"`
}
