package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for durable tracing.
const tracerName = "github.com/nexus-link/durable"

// Tracing returns middleware that wraps an activity invocation in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through.
//
// Span attributes include: durable.workflow_instance.id,
// durable.activity_instance.id, durable.activity.title,
// durable.activity.type, durable.activity.iteration,
// durable.activity.attempt and durable.outcome. A failed invocation sets
// the span status to codes.Error; a postponement does not.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, info *Info, next Handler) error {
		ctx, span := tracer.Start(ctx, "durable.activity.execute",
			trace.WithAttributes(
				attribute.String("durable.workflow_instance.id", info.WorkflowInstanceID.String()),
				attribute.String("durable.activity_instance.id", info.ActivityInstanceID.String()),
				attribute.String("durable.activity.title", info.Title),
				attribute.String("durable.activity.type", string(info.Type)),
				attribute.Int("durable.activity.iteration", info.Iteration),
				attribute.Int("durable.activity.attempt", info.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		outcome := Outcome(err)
		span.SetAttributes(attribute.String("durable.outcome", outcome))
		switch outcome {
		case "error":
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		default:
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
