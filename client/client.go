// Package client is the application-facing API for starting workflow
// instances and querying their status.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/learn-automated-testing/invoiceflow/backend"
	"github.com/learn-automated-testing/invoiceflow/backend/history"
	"github.com/learn-automated-testing/invoiceflow/backend/metrics"
	"github.com/learn-automated-testing/invoiceflow/core"
	"github.com/learn-automated-testing/invoiceflow/internal/log"
	"github.com/learn-automated-testing/invoiceflow/internal/metrickeys"
	"github.com/learn-automated-testing/invoiceflow/internal/workflowerrors"
)

type InstanceOptions struct {
	// InstanceID for the new instance. Empty generates a random id.
	InstanceID string
}

type Client struct {
	backend backend.Backend
	clock   clock.Clock
}

func New(backend backend.Backend) *Client {
	return NewWithClock(backend, clock.New())
}

// NewWithClock is New with an injectable time source, for tests that drive
// WaitForInstance's backoff with a mock clock.
func NewWithClock(backend backend.Backend, clock clock.Clock) *Client {
	return &Client{
		backend: backend,
		clock:   clock,
	}
}

// CreateInstance starts a new instance of the named workflow. The instance is
// durable once this returns; a worker picks it up asynchronously.
func (c *Client) CreateInstance(ctx context.Context, options InstanceOptions, workflowName string, input any) (*core.Instance, error) {
	instanceID := options.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	instance := core.NewInstance(instanceID)

	ctx, span := c.backend.Tracer().Start(ctx, fmt.Sprintf("CreateInstance: %s", workflowName), trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instance.InstanceID),
		attribute.String(log.WorkflowNameKey, workflowName),
	))
	defer span.End()

	inputPayload, err := c.backend.Converter().To(input)
	if err != nil {
		return nil, fmt.Errorf("converting workflow input: %w", err)
	}

	if err := c.backend.CreateInstance(ctx, instance, workflowName, inputPayload); err != nil {
		return nil, fmt.Errorf("creating workflow instance: %w", err)
	}

	c.backend.Logger().Debug(
		"Created workflow instance",
		log.InstanceIDKey, instance.InstanceID,
		log.WorkflowNameKey, workflowName,
	)

	c.backend.Metrics().Counter(metrickeys.InstanceCreated, metrics.Tags{}, 1)

	return instance, nil
}

// GetInstanceStatus returns the current status of an instance. Fails with
// backend.ErrInstanceNotFound for unknown ids.
func (c *Client) GetInstanceStatus(ctx context.Context, instanceID string) (*backend.InstanceStatus, error) {
	return c.backend.GetInstanceStatus(ctx, instanceID)
}

// WaitForInstance waits for the given instance to reach a terminal state or
// until the given timeout has expired.
func (c *Client) WaitForInstance(ctx context.Context, instance *core.Instance, timeout time.Duration) error {
	if timeout == 0 {
		timeout = time.Second * 20
	}

	ctx, span := c.backend.Tracer().Start(ctx, "WaitForInstance", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instance.InstanceID),
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

	for range ticker.C {
		status, err := c.backend.GetInstanceStatus(ctx, instance.InstanceID)
		if err != nil {
			return fmt.Errorf("getting instance status: %w", err)
		}

		if status.RuntimeStatus.Finished() {
			return nil
		}
	}

	return errors.New("workflow instance did not finish in specified timeout")
}

// GetResult waits for the instance to finish and returns its deserialized
// output. A failed instance returns the recorded workflow error.
func GetResult[T any](ctx context.Context, c *Client, instance *core.Instance, timeout time.Duration) (T, error) {
	b := c.backend

	ctx, span := b.Tracer().Start(ctx, "GetResult", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instance.InstanceID),
	))
	defer span.End()

	if err := c.WaitForInstance(ctx, instance, timeout); err != nil {
		return *new(T), fmt.Errorf("workflow instance did not finish in time: %w", err)
	}

	h, err := b.GetInstanceHistory(ctx, instance, nil)
	if err != nil {
		return *new(T), fmt.Errorf("getting workflow history: %w", err)
	}

	for i := len(h) - 1; i >= 0; i-- {
		event := h[i]
		if event.Type != history.EventType_OrchestratorCompleted {
			continue
		}

		a := event.Attributes.(*history.OrchestratorCompletedAttributes)
		if a.Error != nil {
			return *new(T), workflowerrors.ToError(a.Error)
		}

		var r T
		if err := b.Converter().From(a.Result, &r); err != nil {
			return *new(T), fmt.Errorf("converting result: %w", err)
		}

		return r, nil
	}

	return *new(T), errors.New("instance finished without a terminal event")
}
