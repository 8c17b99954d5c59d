package client

import (
	"context"
	"fmt"

	"github.com/itixo/durabletask/core"
)

type Stats struct {
	// Instances counts instances by their current status.
	Instances map[core.InstanceStatus]int
}

// GetStats counts the instances known to the backend by status.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	instances, err := c.backend.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}

	s := &Stats{Instances: make(map[core.InstanceStatus]int)}
	for _, i := range instances {
		status, err := c.controller.Status(ctx, i.InstanceID)
		if err != nil {
			return nil, err
		}

		s.Instances[status.Status]++
	}

	return s, nil
}
