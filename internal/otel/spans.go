package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for Wolfpack spans.
var (
	AttrUserID    = attribute.Key("wolfpack.user.id")
	AttrTaskID    = attribute.Key("wolfpack.task.id")
	AttrRole      = attribute.Key("wolfpack.role")
	AttrWolfID    = attribute.Key("wolfpack.wolf.id")
	AttrIVPDelta  = attribute.Key("wolfpack.ivp.delta")
	AttrRoute     = attribute.Key("wolfpack.http.route")
	AttrStatus    = attribute.Key("wolfpack.http.status")
	AttrOperation = attribute.Key("wolfpack.operation")
)

// StartSpan starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// EndSpan records err on span (if any) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
