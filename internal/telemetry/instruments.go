package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are the repository counters.
type Instruments struct {
	operations metric.Int64Counter
	tasks      metric.Int64UpDownCounter
}

// NewInstruments creates the instruments on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	ops, err := meter.Int64Counter("stagetasks.repository.operations",
		metric.WithDescription("Repository operations by name and outcome"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: operations counter: %w", err)
	}

	tasks, err := meter.Int64UpDownCounter("stagetasks.repository.tasks",
		metric.WithDescription("Tasks held by the repository"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: tasks counter: %w", err)
	}

	return &Instruments{operations: ops, tasks: tasks}, nil
}

// RecordOp counts one operation; err decides the outcome attribute.
func (i *Instruments) RecordOp(ctx context.Context, op string, err error) {
	if i == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	i.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

// AddTasks adjusts the task gauge by delta.
func (i *Instruments) AddTasks(ctx context.Context, delta int64) {
	if i == nil {
		return
	}
	i.tasks.Add(ctx, delta)
}
