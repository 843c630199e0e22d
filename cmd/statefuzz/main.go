package main

import (
	"os"
	"statefuzz/config"
	"statefuzz/internal/corpus"
	"statefuzz/internal/crash"
	"statefuzz/internal/dict"
	"statefuzz/internal/fuzz"
	"statefuzz/internal/fuzz/aflpp"
	"statefuzz/internal/replay"
	"statefuzz/internal/seeds"
	"statefuzz/internal/stats"
	"statefuzz/pkg/database"
	"statefuzz/pkg/logger"
	"statefuzz/pkg/mq"
	"statefuzz/pkg/telemetry"

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
			config.LoadConfig,          // inject config
			database.NewDBConnection,   // inject db connection
			database.NewRedisClient,    // inject redis client
			logger.NewLogger,           // inject logger
			mq.NewRabbitMQ,             // inject rabbitmq service
			telemetry.NewTelemetry,     // inject telemetry
			telemetry.NewTracerFactory, // inject telemetry tracer factory
			dict.NewDictGrabber,        // inject dict grabber
			crash.NewCrashManager,      // inject crash manager
			seeds.NewSeedManager,       // inject seed manager
			stats.NewReporter,          // inject stats reporter
		),
		aflpp.AFLModule,             // inject AFL++ network target launcher
		corpus.CorpusGrabbersModule, // inject seed grabbers
		replay.CollectorModule,      // inject session trace collector
		fuzz.FuzzModule,             // run the fuzzer
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	app.Run()
}
