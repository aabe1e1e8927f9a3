package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys used across task and VM spans.
var (
	AttrTaskID = attribute.Key("hal.task.id")
	AttrVMID   = attribute.Key("hal.vm.id")
	AttrSlot   = attribute.Key("hal.slot")
	AttrPhase  = attribute.Key("hal.wrapper.phase")
)

// StartTaskSpan opens the root span for one task's lifetime.
func StartTaskSpan(ctx context.Context, taskID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "task", trace.WithAttributes(AttrTaskID.String(taskID)))
}

// StartPhaseSpan opens a child span named wrapper.<phase> for one
// wrapper-protocol phase (phase names are the tasklog Phase* constants).
func StartPhaseSpan(ctx context.Context, phase string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{AttrPhase.String(phase)}, attrs...)
	return Tracer().Start(ctx, "wrapper."+phase, trace.WithAttributes(all...))
}

// Fail records err on span and marks it errored.
func Fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// OK marks span as successfully completed.
func OK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
