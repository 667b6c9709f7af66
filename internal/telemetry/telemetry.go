// Package telemetry wires OpenTelemetry for stagetasks.
//
// Telemetry is off by default: Init installs no-op providers and every
// instrument created afterwards costs nothing. With Stdout set, spans and
// metrics are pretty-printed to the given writer.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "stagetasks"

// Settings controls Init.
type Settings struct {
	Enabled     bool
	Stdout      bool
	Writer      io.Writer // defaults to io.Discard when Stdout is false
	ServiceName string
	Version     string
}

// Init configures the global providers and returns a shutdown function that
// flushes exporters.
func Init(ctx context.Context, s Settings) (func(context.Context) error, error) {
	if !s.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}

	w := s.Writer
	if w == nil || !s.Stdout {
		w = io.Discard
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", s.ServiceName),
		attribute.String("service.version", s.Version),
	)

	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp),
	)

	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(30*time.Second))),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// Tracer returns the stagetasks tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationScope)
}

// Meter returns the stagetasks meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationScope)
}
