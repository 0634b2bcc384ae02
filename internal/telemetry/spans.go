package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer(meterName)

// StartOrchestrationSpan, CompleteOrchestrationSpan, CallSpan,
// EventReceiveSpan, StateSaveSpan, StateLoadSpan, StateRemoveSpan, and
// ClientSpan name the spans enumerated in §6.4. Each returns the usual
// (ctx, span) pair; callers defer span.End() and call EndWithError to
// record status.
func StartOrchestrationSpan(ctx context.Context, functionName, instanceID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestration.start",
		trace.WithAttributes(attribute.String("function_name", functionName), attribute.String("instance_id", instanceID)))
}

func CompleteOrchestrationSpan(ctx context.Context, functionName, instanceID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestration.complete",
		trace.WithAttributes(attribute.String("function_name", functionName), attribute.String("instance_id", instanceID)))
}

func CallSpan(ctx context.Context, kind, functionName, childID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestration.call",
		trace.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("function_name", functionName),
			attribute.String("child_instance_id", childID),
		))
}

func EventReceiveSpan(ctx context.Context, instanceID, eventName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestration.event_receive",
		trace.WithAttributes(attribute.String("instance_id", instanceID), attribute.String("event_name", eventName)))
}

func StateSaveSpan(ctx context.Context, instanceID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "state.save", trace.WithAttributes(attribute.String("instance_id", instanceID)))
}

func StateLoadSpan(ctx context.Context, instanceID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "state.load", trace.WithAttributes(attribute.String("instance_id", instanceID)))
}

func StateRemoveSpan(ctx context.Context, instanceID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "state.remove", trace.WithAttributes(attribute.String("instance_id", instanceID)))
}

// Client management spans (§4.6): start_new, get_status, raise_event,
// terminate, purge.
func ClientSpan(ctx context.Context, operation, instanceID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "client."+operation, trace.WithAttributes(attribute.String("instance_id", instanceID)))
}

// EndWithError records err on span (if non-nil) before the caller's own
// deferred span.End(). A nil err just sets Ok status.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
