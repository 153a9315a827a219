// Package tracing holds OpenTelemetry helpers shaped like the teacher's
// internal/agentctl/tracing: a named tracer, a provider setup, and a span
// starter. No other package in this module calls them.
package tracing

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a named tracer from the global provider, mirroring
// tracing.Tracer("kandev-db") in the teacher.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Configure installs a global TracerProvider. When COORDINATOR_OTLP_ENDPOINT
// is unset, spans are recorded against the no-op provider (otel's default) —
// tracing stays a no-cost pass-through outside of environments that want it.
func Configure(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	endpoint := os.Getenv("COORDINATOR_OTLP_ENDPOINT")
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartSpan is a small convenience wrapper around Tracer(...).Start:
// ctx, span := tracing.StartSpan(ctx, "coordinator-db", "db.CreateTask")
func StartSpan(ctx context.Context, tracerName, spanName string) (context.Context, trace.Span) {
	return Tracer(tracerName).Start(ctx, spanName)
}
