package replay

import (
	"context"
	"fmt"
	"os"
	"statefuzz/config"
	"statefuzz/internal/corpus"
	"statefuzz/internal/coverage"
	"statefuzz/internal/crash"
	"statefuzz/internal/fuzz"
	"statefuzz/internal/stategraph"
	"statefuzz/internal/stats"
	"statefuzz/internal/types"
	"statefuzz/pkg/telemetry"
	"statefuzz/pkg/watchdog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ReplayRunner replays IN_DIR against the target once the application has
// started and shuts the application down afterwards.
type ReplayRunner struct {
	logger        *zap.Logger
	appConfig     *config.AppConfig
	crashManager  *crash.CrashManager
	reporter      *stats.Reporter
	tracerFactory *telemetry.TracerFactory
	watchDogFac   *watchdog.WatchDogFactory
	launcher      fuzz.Launcher
	shutdowner    fx.Shutdowner

	done chan struct{}
}

type ReplayRunnerParams struct {
	fx.In

	Lc            fx.Lifecycle
	Logger        *zap.Logger
	AppConfig     *config.AppConfig
	CrashManager  *crash.CrashManager
	Reporter      *stats.Reporter
	TracerFactory *telemetry.TracerFactory
	WatchDogFac   *watchdog.WatchDogFactory
	Launcher      fuzz.Launcher
	Shutdowner    fx.Shutdowner
}

func NewReplayRunner(p ReplayRunnerParams) *ReplayRunner {
	r := &ReplayRunner{
		logger:        p.Logger,
		appConfig:     p.AppConfig,
		crashManager:  p.CrashManager,
		reporter:      p.Reporter,
		tracerFactory: p.TracerFactory,
		watchDogFac:   p.WatchDogFac,
		launcher:      p.Launcher,
		shutdowner:    p.Shutdowner,
		done:          make(chan struct{}),
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := os.MkdirAll(r.appConfig.OutDir, 0755); err != nil {
				cancel()
				return err
			}
			go r.start(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-r.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})
	return r
}

func (r *ReplayRunner) start(ctx context.Context) {
	defer close(r.done)

	exitCode := 0
	if err := r.RunReplay(ctx); err != nil {
		r.logger.Error("replay failed", zap.Error(err))
		exitCode = 1
	}
	if err := r.shutdowner.Shutdown(fx.ExitCode(exitCode)); err != nil {
		r.logger.Error("failed to shut down", zap.Error(err))
	}
}

// RunReplay replays IN_DIR into a fresh engine and flushes its statistics.
func (r *ReplayRunner) RunReplay(ctx context.Context) error {
	cfg := r.appConfig
	target := cfg.TargetName()
	runID := uuid.NewString()
	mode, layout := fuzz.Awareness(cfg.Fuzz.Awareness)
	logger := r.logger.With(zap.String("run_id", runID), zap.String("target", target))

	replayTracer := r.tracerFactory.NewTracer(ctx, fmt.Sprintf("statefuzz replay %s", target)).
		WithAttributes(
			telemetry.NewSpanAttributes(telemetry.Replaying).
				WithRunID(runID).
				WithTarget(target).
				WithAwareness(cfg.Fuzz.Awareness),
		)
	replayTracer.Start()
	defer replayTracer.End()
	ctx = context.WithValue(ctx, telemetry.TracerKey{}, replayTracer)

	crashChan := make(chan types.CrashMessage, 1024)
	r.crashManager.RegisterCrashChan(ctx, crashChan)

	engine := fuzz.NewEngine(fuzz.EngineParams{
		RunID:    runID,
		Graph:    stategraph.New(),
		Coverage: coverage.NewSet(layout, cfg.Target.MapSize),
		Store:    corpus.NewStore(mode, corpus.FromPredecessor, cfg.Fuzz.RandSeed, nil),
		Stats:    stats.New(),
		Crashes:  crashChan,
		Tracer:   replayTracer,
		Logger:   logger,
	})
	if err := r.reporter.Attach(engine.Run()); err != nil {
		logger.Warn("statistics will not be written", zap.Error(err))
	}

	driver := fuzz.NewDriver(fuzz.DriverParams{
		Engine:   engine,
		Launcher: r.launcher,
		Config: fuzz.DriverConfig{
			Timeout:           cfg.Fuzz.Timeout,
			RestartEvery:      cfg.Fuzz.RestartEvery,
			MaxRestartRetries: cfg.Fuzz.MaxRestartRetries,
		},
		Logger: logger,
	})
	replayer := NewReplayer(driver, r.watchDogFac, cfg.Follow, logger)
	runErr := replayer.Run(ctx, []string{cfg.InDir})

	close(crashChan)
	if err := r.reporter.Flush(context.Background()); err != nil {
		logger.Error("failed to flush statistics", zap.Error(err))
	}

	counters := engine.Stats().Counters()
	covered, total := engine.Coverage().Coverage()
	replayTracer.WithAttributes(telemetry.EmptySpanAttributes().
		WithStateCount(engine.Graph().Len()).
		WithExecutions(int64(counters.Executions)).
		WithCrashes(int64(counters.Crashes)))
	if runErr != nil {
		replayTracer.SetStatus(codes.Error, runErr.Error())
	}
	logger.Info("replay finished",
		zap.Int("sessions", replayer.Replayed()),
		zap.Uint64("execs", counters.Executions),
		zap.Int("states", engine.Graph().Len()),
		zap.String("coverage", fmt.Sprintf("%.2f%% (%d/%d)", coverage.Percent(covered, total), covered, total)),
		zap.Uint64("crashes", counters.Crashes))
	return runErr
}

var ReplayModule = fx.Options(
	fx.Provide(NewReplayRunner),
	fx.Invoke(func(*ReplayRunner) {}),
)
