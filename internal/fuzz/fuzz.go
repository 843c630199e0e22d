package fuzz

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"statefuzz/config"
	"statefuzz/internal/corpus"
	"statefuzz/internal/coverage"
	"statefuzz/internal/crash"
	"statefuzz/internal/dict"
	"statefuzz/internal/mutator"
	"statefuzz/internal/scheduler"
	"statefuzz/internal/seeds"
	"statefuzz/internal/stategraph"
	"statefuzz/internal/stats"
	"statefuzz/internal/types"
	"statefuzz/pkg/telemetry"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// FuzzRunner assembles one fuzzing run from the configuration and drives it
// to completion, then shuts the application down.
type FuzzRunner struct {
	logger        *zap.Logger
	appConfig     *config.AppConfig
	corpusGrabber *corpus.CorpusGrabber
	dictGrabber   *dict.DictGrabber
	crashManager  *crash.CrashManager
	seedManager   *seeds.SeedManager
	reporter      *stats.Reporter
	tracerFactory *telemetry.TracerFactory
	launcher      Launcher
	recorder      TraceRecorder
	shutdowner    fx.Shutdowner

	done chan struct{}
}

type FuzzRunnerParams struct {
	fx.In

	Lc            fx.Lifecycle
	Logger        *zap.Logger
	AppConfig     *config.AppConfig
	CorpusGrabber *corpus.CorpusGrabber
	DictGrabber   *dict.DictGrabber
	CrashManager  *crash.CrashManager
	SeedManager   *seeds.SeedManager
	Reporter      *stats.Reporter
	TracerFactory *telemetry.TracerFactory
	Launcher      Launcher
	Recorder      TraceRecorder `optional:"true"`
	Shutdowner    fx.Shutdowner
}

func NewFuzzRunner(params FuzzRunnerParams) *FuzzRunner {
	r := &FuzzRunner{
		logger:        params.Logger,
		appConfig:     params.AppConfig,
		corpusGrabber: params.CorpusGrabber,
		dictGrabber:   params.DictGrabber,
		crashManager:  params.CrashManager,
		seedManager:   params.SeedManager,
		reporter:      params.Reporter,
		tracerFactory: params.TracerFactory,
		launcher:      params.Launcher,
		recorder:      params.Recorder,
		shutdowner:    params.Shutdowner,
		done:          make(chan struct{}),
	}

	runCtx, cancel := context.WithCancel(context.Background())
	params.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := prepareOutDir(r.appConfig.OutDir); err != nil {
				cancel()
				return err
			}
			go r.start(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			r.logger.Info("stopping fuzz runner")
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

// prepareOutDir creates dir. An existing dir must be empty.
func prepareOutDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read output directory: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("output directory %s is not empty", dir)
	}
	return os.MkdirAll(dir, 0755)
}

func (r *FuzzRunner) start(ctx context.Context) {
	defer close(r.done)

	exitCode := 0
	if err := r.RunFuzz(ctx); err != nil {
		r.logger.Error("fuzzing failed", zap.Error(err))
		exitCode = 1
	}
	if err := r.shutdowner.Shutdown(fx.ExitCode(exitCode)); err != nil {
		r.logger.Error("failed to shut down", zap.Error(err))
	}
}

// RunFuzz performs one complete run: collects seeds and dictionaries, builds
// the engine, runs the driver and flushes statistics, even when the driver
// failed.
func (r *FuzzRunner) RunFuzz(ctx context.Context) error {
	cfg := r.appConfig
	target := cfg.TargetName()
	runID := uuid.NewString()

	mode, layout := Awareness(cfg.Fuzz.Awareness)
	policy, err := scheduler.ParsePolicy(cfg.Fuzz.StateScheduler)
	if err != nil {
		return err
	}
	rule, err := corpus.ParseSeedRule(cfg.Fuzz.SeedRule)
	if err != nil {
		return err
	}

	logger := r.logger.With(zap.String("run_id", runID), zap.String("target", target))
	logger.Info("starting fuzzing run",
		zap.String("awareness", cfg.Fuzz.Awareness),
		zap.String("state_scheduler", string(policy)),
		zap.String("seed_rule", rule.String()),
		zap.Int("loops", cfg.Fuzz.Loops),
		zap.Duration("timeout", cfg.Fuzz.Timeout))

	runTracer := r.tracerFactory.NewTracer(ctx, fmt.Sprintf("statefuzz run %s", target)).
		WithAttributes(
			telemetry.NewSpanAttributes(telemetry.Fuzzing).
				WithRunID(runID).
				WithTarget(target).
				WithAwareness(cfg.Fuzz.Awareness).
				WithStateScheduler(string(policy)),
		)
	runTracer.Start()
	defer runTracer.End()
	ctx = context.WithValue(ctx, telemetry.TracerKey{}, runTracer)

	initial, err := r.corpusGrabber.Collect(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to collect seeds: %w", err)
	}
	tokens := r.dictGrabber.GrabTokens(ctx, target)

	randSeed := cfg.Fuzz.RandSeed
	if randSeed == 0 {
		randSeed = time.Now().UnixNano()
	}
	logger.Info("seeds collected",
		zap.Int("inputs", len(initial.Inputs)),
		zap.Int("prefixes", len(initial.Prefixes)),
		zap.Int("tokens", len(tokens)),
		zap.Int64("rand_seed", randSeed))

	sched, err := scheduler.New(policy, rand.New(rand.NewSource(randSeed+1)), cfg.Fuzz.NoveltyWeighted)
	if err != nil {
		return err
	}

	crashChan := make(chan types.CrashMessage, 1024)
	seedChan := make(chan types.SeedMessage, 1024)
	r.crashManager.RegisterCrashChan(ctx, crashChan)
	r.seedManager.RegisterSeedChan(seedChan)

	engine := NewEngine(EngineParams{
		RunID:    runID,
		Graph:    stategraph.New(),
		Coverage: coverage.NewSet(layout, cfg.Target.MapSize),
		Store:    corpus.NewStore(mode, rule, randSeed, initial.Inputs),
		Stats:    stats.New(),
		Crashes:  crashChan,
		Seeds:    seedChan,
		Tracer:   runTracer,
		Logger:   logger,
	})
	if err := r.reporter.Attach(engine.Run()); err != nil {
		logger.Warn("statistics will not be written", zap.Error(err))
	}

	driver := NewDriver(DriverParams{
		Engine:    engine,
		Scheduler: sched,
		Mutator:   mutator.New(rand.New(rand.NewSource(randSeed+2)), tokens, cfg.Fuzz.MaxInputLen, cfg.Target.LineSuffix),
		Launcher:  r.launcher,
		Recorder:  r.recorder,
		Seeds:     initial,
		Config: DriverConfig{
			Loops:              cfg.Fuzz.Loops,
			IterationsPerState: cfg.Fuzz.IterationsPerState,
			Timeout:            cfg.Fuzz.Timeout,
			RestartEvery:       cfg.Fuzz.RestartEvery,
			MaxRestartRetries:  cfg.Fuzz.MaxRestartRetries,
		},
		Logger: logger,
	})
	runErr := driver.Run(ctx)

	close(crashChan)
	close(seedChan)
	if err := r.reporter.Flush(context.Background()); err != nil {
		logger.Error("failed to flush statistics", zap.Error(err))
	}

	counters := engine.Stats().Counters()
	covered, total := engine.Coverage().Coverage()
	runTracer.WithAttributes(telemetry.EmptySpanAttributes().
		WithStateCount(engine.Graph().Len()).
		WithCorpusSize(engine.Store().Total()).
		WithExecutions(int64(counters.Executions)).
		WithCrashes(int64(counters.Crashes)))
	if runErr != nil {
		runTracer.SetStatus(codes.Error, runErr.Error())
	}
	logger.Info("fuzzing run finished",
		zap.Uint64("execs", counters.Executions),
		zap.Int("states", engine.Graph().Len()),
		zap.Int("corpus", engine.Store().Total()),
		zap.String("coverage", fmt.Sprintf("%.2f%% (%d/%d)", coverage.Percent(covered, total), covered, total)),
		zap.Uint64("crashes", counters.Crashes),
		zap.Uint64("timeouts", counters.Timeouts))
	return runErr
}

// Awareness maps an awareness mode to its corpus mode and coverage layout.
func Awareness(mode string) (corpus.Mode, coverage.Layout) {
	switch mode {
	case config.AwarenessSingleCorpus:
		return corpus.Single, coverage.SingleMap
	case config.AwarenessMultiCorpusPerState:
		return corpus.PerState, coverage.MapPerState
	default:
		return corpus.PerState, coverage.SingleMap
	}
}

var FuzzModule = fx.Options(
	fx.Provide(NewFuzzRunner),
	fx.Invoke(func(*FuzzRunner) {}),
)
