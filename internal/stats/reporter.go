package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"statefuzz/config"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	StatsFile = "stats.json"
	InfoFile  = "total_stats_info.txt"

	SnapshotKeyTmpl = "statefuzz:%s:stats"  // statefuzz:<run_id>:stats
	EdgesKeyTmpl    = "statefuzz:%s:edges"  // statefuzz:<run_id>:edges
	StatesKeyTmpl   = "statefuzz:%s:states" // statefuzz:<run_id>:states
)

// Reporter writes periodic snapshots of the attached run to
// OUT_DIR/stats.json (JSON lines) and mirrors them to Redis when configured.
type Reporter struct {
	logger      *zap.Logger
	redisClient *redis.Client
	outDir      string
	cliOptions  string
	interval    time.Duration

	mu   sync.Mutex
	run  *Run
	file *os.File
	done chan struct{}
}

type ReporterParams struct {
	fx.In

	Lc          fx.Lifecycle
	Logger      *zap.Logger
	AppConfig   *config.AppConfig
	RedisClient *redis.Client `optional:"true"`
}

func NewReporter(p ReporterParams) *Reporter {
	r := &Reporter{
		logger:      p.Logger,
		redisClient: p.RedisClient,
		outDir:      p.AppConfig.OutDir,
		cliOptions:  p.AppConfig.CliOptions,
		interval:    p.AppConfig.Stats.Interval,
		done:        make(chan struct{}),
	}
	if r.interval <= 0 {
		r.interval = 15 * time.Second
	}

	reporterCtx, cancel := context.WithCancel(context.Background())
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go r.start(reporterCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			<-r.done
			return nil
		},
	})
	return r
}

// Attach starts reporting run. Snapshots go to outDir, which must exist.
func (r *Reporter) Attach(run *Run) error {
	f, err := os.OpenFile(filepath.Join(r.outDir, StatsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open stats file: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run = run
	r.file = f
	return nil
}

func (r *Reporter) start(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run == nil {
		return
	}
	snap := Collect(r.run)
	if err := r.writeSnapshot(snap); err != nil {
		r.logger.Error("failed to write stats snapshot", zap.Error(err))
	}
	r.mirror(ctx, snap)

	r.logger.Info("fuzzing status",
		zap.Uint64("execs", snap.Executions),
		zap.Float64("execs_per_sec", snap.ExecsPerSec),
		zap.Int("states", snap.StateCount),
		zap.Int("corpus", snap.CorpusSize),
		zap.String("coverage", fmt.Sprintf("%.2f%% (%d/%d)", snap.Coverage, snap.Covered, snap.MapSize)),
		zap.Uint64("crashes", snap.Crashes),
		zap.Uint64("timeouts", snap.Timeouts))
}

func (r *Reporter) writeSnapshot(snap Snapshot) error {
	line, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = r.file.Write(append(line, '\n'))
	return err
}

func (r *Reporter) mirror(ctx context.Context, snap Snapshot) {
	if r.redisClient == nil {
		return
	}
	pipe := r.redisClient.Pipeline()
	pipe.HSet(ctx, fmt.Sprintf(SnapshotKeyTmpl, snap.RunID), map[string]any{
		"timestamp":  snap.Timestamp.Unix(),
		"executions": snap.Executions,
		"covered":    snap.Covered,
		"map_size":   snap.MapSize,
		"states":     snap.StateCount,
		"edges":      snap.EdgeCount,
		"corpus":     snap.CorpusSize,
		"crashes":    snap.Crashes,
		"timeouts":   snap.Timeouts,
	})
	states := make(map[string]any, len(snap.States))
	for _, st := range snap.States {
		states[st.ID] = st.Execs
	}
	if len(states) > 0 {
		pipe.HSet(ctx, fmt.Sprintf(StatesKeyTmpl, snap.RunID), states)
	}
	edges := make(map[string]any)
	for e, n := range r.run.Graph.Edges() {
		edges[fmt.Sprintf("%s->%s", r.run.Graph.ID(e.From), r.run.Graph.ID(e.To))] = n
	}
	if len(edges) > 0 {
		pipe.HSet(ctx, fmt.Sprintf(EdgesKeyTmpl, snap.RunID), edges)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("failed to mirror stats to redis", zap.Error(err))
	}
}

// Flush writes the final snapshot and total_stats_info.txt, then detaches
// the run.
func (r *Reporter) Flush(ctx context.Context) error {
	r.mu.Lock()
	run := r.run
	r.mu.Unlock()
	if run == nil {
		return nil
	}

	r.report(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Collect(run)
	infoPath := filepath.Join(r.outDir, InfoFile)
	if err := WriteInfoFile(infoPath, r.cliOptions, snap, run.Coverage.Total()); err != nil {
		return fmt.Errorf("failed to write %s: %w", InfoFile, err)
	}
	r.run = nil
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}
