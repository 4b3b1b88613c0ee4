package logging

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agora"

// Span wraps an OTel span. Spans are no-ops unless a tracer provider is installed.
type Span struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan starts a child span of ctx. The span's attributes include the
// topic and round ids carried by ctx.
//
//	sp := logging.StartSpan(ctx, "round.advance")
//	defer sp.End()
//	ctx = sp.Context()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *Span {
	fields := GetFields(ctx)
	var attrs []attribute.KeyValue
	if fields.TopicID != "" {
		attrs = append(attrs, attribute.String("agora.topic_id", fields.TopicID))
	}
	if fields.RoundID != "" {
		attrs = append(attrs, attribute.String("agora.round_id", fields.RoundID))
	}
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	return &Span{ctx: ctx, span: span}
}

// Context returns the context carrying the span.
func (s *Span) Context() context.Context {
	return s.ctx
}

// End completes the span.
func (s *Span) End() {
	if s.span != nil {
		s.span.End()
	}
}

// RecordError records err on the span and marks it failed.
func (s *Span) RecordError(err error) {
	if s.span != nil && err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
}
