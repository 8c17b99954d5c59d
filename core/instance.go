package core

import (
	"time"

	"github.com/itixo/durabletask/backend/payload"
)

type InstanceStatus int

const (
	InstanceStatusPending InstanceStatus = iota
	InstanceStatusRunning
	InstanceStatusCompleted
	InstanceStatusFailed
	InstanceStatusTerminated
)

func (s InstanceStatus) String() string {
	switch s {
	case InstanceStatusPending:
		return "Pending"
	case InstanceStatusRunning:
		return "Running"
	case InstanceStatusCompleted:
		return "Completed"
	case InstanceStatusFailed:
		return "Failed"
	case InstanceStatusTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Terminal returns true for states an instance never leaves again.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusTerminated
}

// OrchestrationInstance describes a single durable execution of an orchestration.
type OrchestrationInstance struct {
	// InstanceID is the unique ID of the orchestration instance.
	InstanceID string `json:"instance_id,omitempty"`

	// Name is the registered name of the orchestration.
	Name string `json:"name,omitempty"`

	Status InstanceStatus `json:"status"`

	Input payload.Payload `json:"input,omitempty"`

	// Output is only set for completed instances.
	Output payload.Payload `json:"output,omitempty"`

	// Error is the error detail of a failed or terminated instance.
	Error string `json:"error,omitempty"`

	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

func NewOrchestrationInstance(instanceID, name string, input payload.Payload, createdAt time.Time) *OrchestrationInstance {
	return &OrchestrationInstance{
		InstanceID:    instanceID,
		Name:          name,
		Status:        InstanceStatusPending,
		Input:         input,
		CreatedAt:     createdAt,
		LastUpdatedAt: createdAt,
	}
}
