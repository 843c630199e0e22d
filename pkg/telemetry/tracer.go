package telemetry

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// otelTracer is a Tracer backed by an OpenTelemetry span. Attributes set
// before Start are attached when the span is created.
type otelTracer struct {
	tracer     trace.Tracer
	span       trace.Span
	ctx        context.Context // parent context before Start, span context after
	name       string
	attributes *SpanAttributes
}

func newOtelTracer(ctx context.Context, tracer trace.Tracer, name string) *otelTracer {
	return &otelTracer{
		tracer:     tracer,
		ctx:        ctx,
		name:       name,
		attributes: NewSpanAttributes(Fuzzing),
	}
}

func (t *otelTracer) Start() {
	if t.span != nil {
		return
	}
	attrs := append(t.attributes.Attributes(), attribute.String("fuzz.action.name", t.name))
	t.ctx, t.span = t.tracer.Start(t.ctx, t.name, trace.WithAttributes(attrs...))
}

func (t *otelTracer) WithAttributes(attributes *SpanAttributes) Tracer {
	t.attributes.Merge(attributes)
	if t.span != nil {
		t.span.SetAttributes(t.attributes.Attributes()...)
	}
	return t
}

func (t *otelTracer) AddEvent(name string, e EventAttributes) {
	if t.span != nil {
		t.span.AddEvent(name, trace.WithAttributes(e...))
	}
}

func (t *otelTracer) SetStatus(code codes.Code, message string) {
	if t.span != nil {
		t.span.SetStatus(code, message)
	}
}

// Spawn creates a child span that inherits the attributes of t.
func (t *otelTracer) Spawn(name string) Tracer {
	return newOtelTracer(t.ctx, t.tracer, name).WithAttributes(t.attributes)
}

func (t *otelTracer) Export() string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(t.ctx, carrier)
	payload, err := json.Marshal(carrier)
	if err != nil {
		return ""
	}
	return string(payload)
}

func (t *otelTracer) End() {
	if t.span != nil {
		t.span.End()
	}
}
