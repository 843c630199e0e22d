package telemetry

import (
	"context"
	"errors"
	"statefuzz/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// Telemetry hands out the OTLP tracer and logger of the process. The logger
// may be nil when the log exporter could not be created.
type Telemetry interface {
	GetTracer() trace.Tracer
	GetLogger() log.Logger
}

type otlpTelemetry struct {
	tracer trace.Tracer
	logger log.Logger
}

func (t *otlpTelemetry) GetTracer() trace.Tracer { return t.tracer }
func (t *otlpTelemetry) GetLogger() log.Logger   { return t.logger }

type TelemetryParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.AppConfig
}

// NewTelemetry sets up OTLP trace and log export, configured through the
// standard OTEL_EXPORTER_OTLP_* variables. It returns nil unless
// TELEMETRY_ENABLED is set; the tracer factory then hands out DummyTracers.
func NewTelemetry(p TelemetryParams) (Telemetry, error) {
	if !p.Config.TelemetryEnabled {
		return nil, nil
	}
	exportCtx, cancel := context.WithCancel(context.Background())

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(p.Config.ServiceName),
		attribute.String("fuzz.target", p.Config.TargetName()),
	)

	traceExp, err := otlptracegrpc.New(exportCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &otlpTelemetry{tracer: traceProvider.Tracer(p.Config.ServiceName)}

	// the log exporter is optional, runs go on with traces only
	var logProvider *sdklog.LoggerProvider
	if logExp, err := otlploggrpc.New(exportCtx); err == nil {
		logProvider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
			sdklog.WithResource(res),
		)
		t.logger = logProvider.Logger(p.Config.ServiceName)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			defer cancel()
			err := traceProvider.Shutdown(ctx)
			if logProvider != nil {
				err = errors.Join(err, logProvider.Shutdown(ctx))
			}
			return err
		},
	})
	return t, nil
}
