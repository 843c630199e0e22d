package main

import (
	"os"
	"statefuzz/config"
	"statefuzz/internal/crash"
	"statefuzz/internal/fuzz/aflpp"
	"statefuzz/internal/replay"
	"statefuzz/internal/stats"
	"statefuzz/pkg/database"
	"statefuzz/pkg/logger"
	"statefuzz/pkg/mq"
	"statefuzz/pkg/telemetry"
	"statefuzz/pkg/watchdog"

	flags "github.com/jessevdk/go-flags"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts, err := config.ParseOptions(os.Args[1:])
	if err != nil {
		// go-flags already printed the message
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	app := fx.New(
		fx.Supply(opts),
		fx.Provide(
			config.LoadConfig,           // inject config
			database.NewDBConnection,    // inject db connection
			database.NewRedisClient,     // inject redis client
			logger.NewLogger,            // inject logger
			mq.NewRabbitMQ,              // inject rabbitmq service
			telemetry.NewTelemetry,      // inject telemetry
			telemetry.NewTracerFactory,  // inject telemetry tracer factory
			crash.NewCrashManager,       // inject crash manager
			stats.NewReporter,           // inject stats reporter
			watchdog.NewWatchDogFactory, // inject watchdog factory
		),
		aflpp.AFLModule,     // inject AFL++ network target launcher
		replay.ReplayModule, // run the replayer
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	app.Run()
}
