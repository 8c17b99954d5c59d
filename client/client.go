package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/backend/payload"
	"github.com/itixo/durabletask/coordinator"
	"github.com/itixo/durabletask/core"
	a "github.com/itixo/durabletask/internal/args"
	"github.com/itixo/durabletask/internal/fn"
	"github.com/itixo/durabletask/internal/log"
	"github.com/itixo/durabletask/internal/workflowerrors"
	"github.com/itixo/durabletask/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrOrchestrationTerminated = errors.New("orchestration terminated")

// Controller starts and controls orchestration instances. *coordinator.Coordinator implements it.
type Controller interface {
	Start(ctx context.Context, name string, input payload.Payload, opts ...coordinator.StartOption) (string, error)
	Terminate(ctx context.Context, instanceID string, reason string) error
	Status(ctx context.Context, instanceID string) (*core.OrchestrationInstance, error)
}

type StartOptions struct {
	// InstanceID is the id of the new instance. A random id is generated if empty.
	InstanceID string
}

type Client struct {
	backend    backend.Backend
	controller Controller
	clock      clock.Clock
}

func New(b backend.Backend, controller Controller) *Client {
	return &Client{
		backend:    b,
		controller: controller,
		clock:      clock.New(),
	}
}

// StartOrchestration starts a new instance of the given orchestration and returns its instance id. The
// orchestration can be given by function or by registered name and accepts at most one argument.
func (c *Client) StartOrchestration(ctx context.Context, options StartOptions, o workflow.Orchestration, args ...any) (string, error) {
	if len(args) > 1 {
		return "", fmt.Errorf("orchestrations accept at most one argument, got %d", len(args))
	}

	name := fn.NameOf(o)
	if _, ok := o.(string); !ok {
		if err := a.ParamsMatch(o, args...); err != nil {
			return "", err
		}
	}

	bo := c.backend.Options()

	var input payload.Payload
	if len(args) == 1 {
		var err error
		input, err = bo.Converter.To(args[0])
		if err != nil {
			return "", fmt.Errorf("converting arguments: %w", err)
		}
	}

	ctx, span := bo.Tracer().Start(ctx, fmt.Sprintf("StartOrchestration: %s", name), trace.WithAttributes(
		attribute.String(log.OrchestrationNameKey, name),
	))
	defer span.End()

	var opts []coordinator.StartOption
	if options.InstanceID != "" {
		opts = append(opts, coordinator.WithInstanceID(options.InstanceID))
	}

	instanceID, err := c.controller.Start(ctx, name, input, opts...)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	span.SetAttributes(attribute.String(log.InstanceIDKey, instanceID))

	return instanceID, nil
}

// GetStatus returns the instance with its current state.
func (c *Client) GetStatus(ctx context.Context, instanceID string) (*core.OrchestrationInstance, error) {
	return c.controller.Status(ctx, instanceID)
}

// Terminate stops the instance. Activities already running are not interrupted, their results are ignored.
func (c *Client) Terminate(ctx context.Context, instanceID string, reason string) error {
	ctx, span := c.backend.Options().Tracer().Start(ctx, "Terminate", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instanceID),
	))
	defer span.End()

	return c.controller.Terminate(ctx, instanceID, reason)
}

// WaitForOrchestration waits for the given instance to finish or until the given timeout has expired.
func (c *Client) WaitForOrchestration(ctx context.Context, instanceID string, timeout time.Duration) (*core.OrchestrationInstance, error) {
	if timeout == 0 {
		timeout = time.Second * 20
	}

	ctx, span := c.backend.Options().Tracer().Start(ctx, "WaitForOrchestration", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instanceID),
	))
	defer span.End()

	b := backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond * 1,
		MaxInterval:         time.Second * 1,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      timeout,
		Stop:                backoff.Stop,
		Clock:               c.clock,
	}
	b.Reset()

	ticker := backoff.NewTicker(&b)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, ok := <-ticker.C:
			if !ok {
				return nil, errors.New("orchestration did not finish in specified timeout")
			}

			i, err := c.controller.Status(ctx, instanceID)
			if err != nil {
				return nil, fmt.Errorf("getting orchestration status: %w", err)
			}

			if i.Status.Terminal() {
				return i, nil
			}
		}
	}
}

// GetResult waits for the instance to finish and returns its result. A failed instance returns its error, a
// terminated one ErrOrchestrationTerminated.
func GetResult[T any](ctx context.Context, c *Client, instanceID string, timeout time.Duration) (T, error) {
	bo := c.backend.Options()

	ctx, span := bo.Tracer().Start(ctx, "GetResult", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instanceID),
	))
	defer span.End()

	if _, err := c.WaitForOrchestration(ctx, instanceID, timeout); err != nil {
		return *new(T), fmt.Errorf("orchestration did not finish in time: %w", err)
	}

	events, err := c.backend.ReadAll(ctx, instanceID)
	if err != nil {
		return *new(T), fmt.Errorf("reading history: %w", err)
	}

	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != history.EventType_OrchestratorCompleted {
			continue
		}

		a := events[i].Attributes.(*history.OrchestratorCompletedAttributes)
		if a.Status == core.InstanceStatusTerminated {
			if a.Error != nil {
				return *new(T), fmt.Errorf("%w: %s", ErrOrchestrationTerminated, a.Error.Message)
			}

			return *new(T), ErrOrchestrationTerminated
		}

		if a.Error != nil {
			return *new(T), workflowerrors.ToError(a.Error)
		}

		var r T
		if err := bo.Converter.From(a.Result, &r); err != nil {
			return *new(T), fmt.Errorf("converting result: %w", err)
		}

		return r, nil
	}

	return *new(T), errors.New("orchestration finished, but could not find result event")
}
