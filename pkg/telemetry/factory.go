package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
)

// Tracer is a span under construction. Spans of a run form a tree: the run
// span is stored in the context under TracerKey and components Spawn their
// own children from it.
type Tracer interface {
	Start()
	WithAttributes(attributes *SpanAttributes) Tracer
	AddEvent(name string, attributes EventAttributes)
	SetStatus(code codes.Code, message string)
	Spawn(spanName string) Tracer
	// Export serializes the span context so other processes can continue
	// the trace.
	Export() string
	End()
}

type TracerKey struct{}

type TracerFactory struct {
	telemetry Telemetry
}

type TracerFactoryParams struct {
	fx.In
	Telemetry Telemetry `optional:"true"`
}

func NewTracerFactory(p TracerFactoryParams) *TracerFactory {
	return &TracerFactory{telemetry: p.Telemetry}
}

// NewTracer returns a root span, or a DummyTracer without telemetry.
func (t *TracerFactory) NewTracer(ctx context.Context, spanName string) Tracer {
	if t.telemetry == nil || t.telemetry.GetTracer() == nil {
		return &DummyTracer{}
	}
	return newOtelTracer(ctx, t.telemetry.GetTracer(), spanName)
}

// DummyTracer does nothing.
type DummyTracer struct{}

func (t *DummyTracer) Start()                                           {}
func (t *DummyTracer) WithAttributes(attributes *SpanAttributes) Tracer { return t }
func (t *DummyTracer) AddEvent(name string, attributes EventAttributes) {}
func (t *DummyTracer) SetStatus(code codes.Code, message string)        {}
func (t *DummyTracer) Spawn(spanName string) Tracer                     { return t }
func (t *DummyTracer) Export() string                                   { return "" }
func (t *DummyTracer) End()                                             {}

// TracerFrom returns the tracer stored in ctx, or a DummyTracer.
func TracerFrom(ctx context.Context) Tracer {
	if tracer, ok := ctx.Value(TracerKey{}).(Tracer); ok && tracer != nil {
		return tracer
	}
	return &DummyTracer{}
}
