// Package telemetry wraps OpenTelemetry tracing: one root span per task
// (StartTask..terminal state) and child spans named wrapper.<phase>; the
// orchestrator opens a child span for the vm_acquire phase only. Grounded on oriys-nova's
// internal/observability package, trimmed to the exporter hal9999 actually
// ships: a zerolog-backed span logger instead of an OTLP collector, since
// nothing in this stack runs a collector sidecar.
package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls Init.
type Config struct {
	Enabled     bool
	ServiceName string
	SampleRate  float64 // 0.0 .. 1.0, ignored if Enabled is false
	Logger      zerolog.Logger
}

type provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

var global = &provider{tracer: trace.NewNoopTracerProvider().Tracer("")}

// Init installs the global tracer provider. Nothing in cmd/hal calls it,
// so the no-op tracer set up below stays in place unless a caller does.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		global = &provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}
		return nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return err
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate > 0 && cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(&logExporter{log: cfg.Logger}),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	global = &provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName), enabled: true}
	return nil
}

// Shutdown flushes and stops the tracer provider, if one was installed.
func Shutdown(ctx context.Context) error {
	if global.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return global.tp.Shutdown(ctx)
}

// Tracer returns the process-wide tracer.
func Tracer() trace.Tracer {
	return global.tracer
}

// Enabled reports whether tracing is wired to a real exporter.
func Enabled() bool {
	return global.enabled
}

// logExporter writes finished spans to zerolog instead of an OTLP collector.
type logExporter struct {
	log zerolog.Logger
}

func (e *logExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		ev := e.log.Debug().
			Str("span", s.Name()).
			Str("trace_id", s.SpanContext().TraceID().String()).
			Str("span_id", s.SpanContext().SpanID().String()).
			Dur("duration", s.EndTime().Sub(s.StartTime()))
		for _, kv := range s.Attributes() {
			ev = ev.Str(string(kv.Key), kv.Value.Emit())
		}
		ev.Msg("span")
	}
	return nil
}

func (e *logExporter) Shutdown(ctx context.Context) error { return nil }
