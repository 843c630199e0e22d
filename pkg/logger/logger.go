package logger

import (
	"context"
	"statefuzz/config"
	"statefuzz/pkg/telemetry"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerParams struct {
	fx.In
	Lc        fx.Lifecycle
	AppConfig *config.AppConfig
	Telemetry telemetry.Telemetry `optional:"true"`
}

// NewLogger builds the process logger: a development console logger at info
// and debug level, JSON above. With telemetry every record is also emitted
// through the OpenTelemetry log pipeline.
func NewLogger(p LoggerParams) *zap.Logger {
	level, err := zapcore.ParseLevel(p.AppConfig.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewDevelopmentConfig()
	if level > zapcore.InfoLevel {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	var opts []zap.Option
	if p.Telemetry != nil && p.Telemetry.GetLogger() != nil {
		emitCtx, cancel := context.WithCancel(context.Background())
		p.Lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				cancel()
				return nil
			},
		})
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return newOtelCore(emitCtx, core, p.Telemetry.GetLogger(), p.AppConfig.TargetName())
		}))
	}

	lg, err := cfg.Build(opts...)
	if err != nil {
		return zap.NewExample()
	}
	if len(opts) > 0 {
		lg.Debug("log export to telemetry enabled")
	}
	return lg
}
