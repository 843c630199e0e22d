package telemetry

import (
	"fmt"
	"maps"

	"go.opentelemetry.io/otel/attribute"
)

type ActionCategory int

const (
	Fuzzing ActionCategory = iota
	Replaying
	Reporting
)

func (a ActionCategory) String() string {
	switch a {
	case Fuzzing:
		return "fuzzing"
	case Replaying:
		return "replaying"
	case Reporting:
		return "reporting"
	default:
		return "unknown"
	}
}

type SpanAttributes struct {
	ActionCategory string

	runID          optional[string] // fuzz.run.id
	target         optional[string] // fuzz.target
	awareness      optional[string] // fuzz.awareness
	stateScheduler optional[string] // fuzz.state_scheduler
	state          optional[string] // fuzz.state
	corpusSize     optional[int]    // fuzz.corpus.size
	stateCount     optional[int]    // fuzz.state.count
	executions     optional[int64]  // fuzz.executions
	crashes        optional[int64]  // fuzz.crashes

	extraAttributes map[string]any
}

func NewSpanAttributes(actionCategory ActionCategory) *SpanAttributes {
	return &SpanAttributes{
		ActionCategory:  actionCategory.String(),
		extraAttributes: make(map[string]any),
	}
}

// returns an empty SpanAttributes instance with no action category.
func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{
		extraAttributes: make(map[string]any),
	}
}

// Merge updates the current SpanAttributes with values from another SpanAttributes.
// Values are only taken from other when they are unset here. ActionCategory is
// always overwritten when other carries one.
func (o *SpanAttributes) Merge(other *SpanAttributes) {
	if other == nil {
		return
	}
	if other.ActionCategory != "" {
		o.ActionCategory = other.ActionCategory
	}

	mergeOptional(&o.runID, &other.runID)
	mergeOptional(&o.target, &other.target)
	mergeOptional(&o.awareness, &other.awareness)
	mergeOptional(&o.stateScheduler, &other.stateScheduler)
	mergeOptional(&o.state, &other.state)
	mergeOptional(&o.corpusSize, &other.corpusSize)
	mergeOptional(&o.stateCount, &other.stateCount)
	mergeOptional(&o.executions, &other.executions)
	mergeOptional(&o.crashes, &other.crashes)

	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	for k, v := range other.extraAttributes {
		if _, exists := o.extraAttributes[k]; !exists {
			o.extraAttributes[k] = v
		}
	}
}

func (o *SpanAttributes) WithRunID(val string) *SpanAttributes {
	o.runID.Set(val)
	return o
}

func (o *SpanAttributes) WithTarget(val string) *SpanAttributes {
	o.target.Set(val)
	return o
}

func (o *SpanAttributes) WithAwareness(val string) *SpanAttributes {
	o.awareness.Set(val)
	return o
}

func (o *SpanAttributes) WithStateScheduler(val string) *SpanAttributes {
	o.stateScheduler.Set(val)
	return o
}

func (o *SpanAttributes) WithState(val string) *SpanAttributes {
	o.state.Set(val)
	return o
}

func (o *SpanAttributes) WithCorpusSize(val int) *SpanAttributes {
	o.corpusSize.Set(val)
	return o
}

func (o *SpanAttributes) WithStateCount(val int) *SpanAttributes {
	o.stateCount.Set(val)
	return o
}

func (o *SpanAttributes) WithExecutions(val int64) *SpanAttributes {
	o.executions.Set(val)
	return o
}

func (o *SpanAttributes) WithCrashes(val int64) *SpanAttributes {
	o.crashes.Set(val)
	return o
}

func (o *SpanAttributes) WithExtraAttribute(key string, val any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	o.extraAttributes[key] = val
	return o
}

func (o *SpanAttributes) WithExtraAttributes(attrs map[string]any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	maps.Copy(o.extraAttributes, attrs)
	return o
}

func (o SpanAttributes) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	attrs = append(attrs, attribute.String("fuzz.action.category", o.ActionCategory))
	if o.runID.set {
		attrs = append(attrs, attribute.String("fuzz.run.id", o.runID.val))
	}
	if o.target.set {
		attrs = append(attrs, attribute.String("fuzz.target", o.target.val))
	}
	if o.awareness.set {
		attrs = append(attrs, attribute.String("fuzz.awareness", o.awareness.val))
	}
	if o.stateScheduler.set {
		attrs = append(attrs, attribute.String("fuzz.state_scheduler", o.stateScheduler.val))
	}
	if o.state.set {
		attrs = append(attrs, attribute.String("fuzz.state", o.state.val))
	}
	if o.corpusSize.set {
		attrs = append(attrs, attribute.Int("fuzz.corpus.size", o.corpusSize.val))
	}
	if o.stateCount.set {
		attrs = append(attrs, attribute.Int("fuzz.state.count", o.stateCount.val))
	}
	if o.executions.set {
		attrs = append(attrs, attribute.Int64("fuzz.executions", o.executions.val))
	}
	if o.crashes.set {
		attrs = append(attrs, attribute.Int64("fuzz.crashes", o.crashes.val))
	}

	for k, v := range o.extraAttributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case uint64:
			attrs = append(attrs, attribute.Int64(k, int64(val)))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	return attrs
}

type EventAttributes []attribute.KeyValue

func NewEventAttributes(attributes map[string]string) EventAttributes {
	attrs := make(EventAttributes, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

type optional[T any] struct {
	val T
	set bool
}

func (o *optional[T]) Set(val T) { o.val = val; o.set = true }

func mergeOptional[T any](target, source *optional[T]) {
	if !target.set && source.set {
		target.val = source.val
		target.set = true
	}
}
