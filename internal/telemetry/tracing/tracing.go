// Package tracing wraps an OpenTelemetry Tracer so the evaluator loop can
// start one span per cycle without every call site importing the SDK
// directly, the way the teacher wraps its internal tracer behind a small
// StartSpan/End contract.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts spans for evaluator cycles and other session-level work.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span is the subset of trace.Span the session needs.
type Span interface {
	SetAttribute(key string, value any)
	End()
}

type otelTracer struct{ tracer trace.Tracer }

// New returns a Tracer backed by the global OTel TracerProvider (a noop
// provider until an exporter is configured; spans are still well-formed and
// propagate trace/span ids into the logging correlator).
func New(instrumentationName string) Tracer {
	return &otelTracer{tracer: otel.Tracer(instrumentationName)}
}

func (t *otelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, otelSpan{span: span}
}

type otelSpan struct{ span trace.Span }

func (s otelSpan) SetAttribute(key string, value any) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s otelSpan) End() { s.span.End() }
