package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/herald"

// Tracer provides OpenTelemetry tracing for Herald.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return NewTracerFrom(otel.GetTracerProvider())
}

// NewTracerFrom creates a tracer from an explicit provider.
func NewTracerFrom(tp trace.TracerProvider) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(tracerName),
	}
}

// StartAttemptSpan starts a span covering one dispatch-and-log cycle.
func (t *Tracer) StartAttemptSpan(ctx context.Context, attemptID, subscriptionID, eventID, kind string, attemptNumber int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "herald.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("herald.attempt_id", attemptID),
			attribute.String("herald.subscription_id", subscriptionID),
			attribute.String("herald.event_id", eventID),
			attribute.String("herald.event_kind", kind),
			attribute.Int("herald.attempt_number", attemptNumber),
		),
	)
}

// EndAttemptSpan ends an attempt span with result attributes.
func (t *Tracer) EndAttemptSpan(span trace.Span, outcome string, statusCode, latencyMs int, err string) {
	span.SetAttributes(
		attribute.String("herald.outcome", outcome),
		attribute.Int("http.response.status_code", statusCode),
		attribute.Int("herald.latency_ms", latencyMs),
	)
	if err != "" {
		span.SetStatus(codes.Error, err)
	}
	span.End()
}

// StartSweepSpan starts a span covering one retry sweep.
func (t *Tracer) StartSweepSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "herald.sweep")
}
