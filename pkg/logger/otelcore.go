package logger

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// otelCore tees every entry written to the wrapped core into an
// OpenTelemetry logger.
type otelCore struct {
	zapcore.Core
	ctx    context.Context
	out    log.Logger
	target string
	fields []zapcore.Field // accumulated through With
}

func newOtelCore(ctx context.Context, core zapcore.Core, out log.Logger, target string) *otelCore {
	return &otelCore{Core: core, ctx: ctx, out: out, target: target}
}

func (c *otelCore) With(fields []zapcore.Field) zapcore.Core {
	return &otelCore{
		Core:   c.Core.With(fields),
		ctx:    c.ctx,
		out:    c.out,
		target: c.target,
		fields: append(append([]zapcore.Field(nil), c.fields...), fields...),
	}
}

func (c *otelCore) Check(ent zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return checked.AddCore(ent, c)
	}
	return checked
}

func (c *otelCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if err := c.Core.Write(ent, fields); err != nil {
		return err
	}
	c.out.Emit(c.ctx, c.record(ent, fields))
	return nil
}

func (c *otelCore) record(ent zapcore.Entry, fields []zapcore.Field) log.Record {
	var rec log.Record
	rec.SetTimestamp(ent.Time)
	rec.SetBody(log.StringValue(ent.Message))
	rec.SetSeverity(severity(ent.Level))
	rec.SetSeverityText(ent.Level.String())
	rec.AddAttributes(log.String("fuzz.target", c.target))
	if ent.LoggerName != "" {
		rec.AddAttributes(log.String("logger", ent.LoggerName))
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	for k, v := range enc.Fields {
		rec.AddAttributes(log.KeyValue{Key: k, Value: logValue(v)})
	}
	return rec
}

func severity(l zapcore.Level) log.Severity {
	switch l {
	case zapcore.DebugLevel:
		return log.SeverityDebug
	case zapcore.InfoLevel:
		return log.SeverityInfo
	case zapcore.WarnLevel:
		return log.SeverityWarn
	case zapcore.ErrorLevel:
		return log.SeverityError
	default:
		return log.SeverityFatal
	}
}

// logValue converts a value produced by zap's map encoder.
func logValue(v any) log.Value {
	switch v := v.(type) {
	case string:
		return log.StringValue(v)
	case bool:
		return log.BoolValue(v)
	case int:
		return log.IntValue(v)
	case int8:
		return log.Int64Value(int64(v))
	case int16:
		return log.Int64Value(int64(v))
	case int32:
		return log.Int64Value(int64(v))
	case int64:
		return log.Int64Value(v)
	case uint8:
		return log.Int64Value(int64(v))
	case uint16:
		return log.Int64Value(int64(v))
	case uint32:
		return log.Int64Value(int64(v))
	case uint64:
		return log.Int64Value(int64(v))
	case float32:
		return log.Float64Value(float64(v))
	case float64:
		return log.Float64Value(v)
	case []byte:
		return log.BytesValue(v)
	case []any:
		vals := make([]log.Value, len(v))
		for i, e := range v {
			vals[i] = logValue(e)
		}
		return log.SliceValue(vals...)
	case map[string]any:
		kvs := make([]log.KeyValue, 0, len(v))
		for k, e := range v {
			kvs = append(kvs, log.KeyValue{Key: k, Value: logValue(e)})
		}
		return log.MapValue(kvs...)
	default:
		return log.StringValue(fmt.Sprint(v))
	}
}
