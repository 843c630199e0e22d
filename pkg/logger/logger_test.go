package logger

import (
	"context"
	"errors"
	"statefuzz/config"
	"testing"
	"time"

	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerLevels(t *testing.T) {
	for level, want := range map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"warn":  zapcore.WarnLevel,
		"bogus": zapcore.InfoLevel,
		"":      zapcore.InfoLevel,
	} {
		lg := NewLogger(LoggerParams{Lc: fxtest.NewLifecycle(t), AppConfig: &config.AppConfig{LogLevel: level}})
		if !lg.Core().Enabled(want) || (want > zapcore.DebugLevel && lg.Core().Enabled(want-1)) {
			t.Errorf("level %q: logger not at %v", level, want)
		}
	}
}

type recordingLogger struct {
	embedded.Logger
	records []log.Record
}

func (r *recordingLogger) Emit(ctx context.Context, rec log.Record) { r.records = append(r.records, rec) }
func (r *recordingLogger) Enabled(context.Context, log.EnabledParameters) bool { return true }

func TestOtelCoreEmitsFields(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	out := &recordingLogger{}
	lg := zap.New(newOtelCore(context.Background(), obs, out, "ftpd")).With(zap.String("run_id", "r1"))

	lg.Info("new state discovered", zap.String("state", "331"), zap.Int("states", 2), zap.Error(errors.New("x")))
	lg.Debug("tick", zap.Duration("elapsed", time.Second))

	if logs.Len() != 2 {
		t.Fatalf("wrapped core got %d entries", logs.Len())
	}
	if len(out.records) != 2 {
		t.Fatalf("emitted %d records", len(out.records))
	}
	rec := out.records[0]
	if rec.Body().AsString() != "new state discovered" || rec.Severity() != log.SeverityInfo {
		t.Errorf("record = %v / %v", rec.Body(), rec.Severity())
	}
	attrs := map[string]log.Value{}
	rec.WalkAttributes(func(kv log.KeyValue) bool {
		attrs[kv.Key] = kv.Value
		return true
	})
	if attrs["state"].AsString() != "331" || attrs["states"].AsInt64() != 2 {
		t.Errorf("attributes = %v", attrs)
	}
	if attrs["run_id"].AsString() != "r1" || attrs["fuzz.target"].AsString() != "ftpd" {
		t.Errorf("context attributes missing: %v", attrs)
	}
	if attrs["error"].AsString() != "x" {
		t.Errorf("error = %v", attrs["error"])
	}
}
