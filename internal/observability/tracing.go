package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Uses the global provider; hosts install their own exporter.
var tracer = otel.Tracer("osb-tracker")

// StartDeliverySpan starts a client span for one collector upload.
func StartDeliverySpan(ctx context.Context, url string, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "osb.deliver",
		trace.WithAttributes(
			attribute.String("http.url", url),
			attribute.Int("payload.bytes", size),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartRecordSpan starts a span around building and enqueueing one hit.
func StartRecordSpan(ctx context.Context, hitType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "osb.record",
		trace.WithAttributes(attribute.String("hit.type", hitType)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
