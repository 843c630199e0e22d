package crash

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"statefuzz/config"
	"statefuzz/internal/types"
	"statefuzz/pkg/database"
	"statefuzz/pkg/mq"
	"statefuzz/pkg/telemetry"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	CrashQueueName = "crash_queue"
	CrashesDir     = "crashes"
)

// Record is the metadata stored next to a crashing input.
type Record struct {
	RunID     string   `json:"run_id"`
	Target    string   `json:"target"`
	State     string   `json:"state"`
	Outcome   string   `json:"outcome"`
	Signature string   `json:"signature"`
	Exec      uint64   `json:"exec"`
	Ancestry  [][]byte `json:"ancestry"`
	Output    string   `json:"output,omitempty"`
}

type CrashManager struct {
	db        *gorm.DB
	publisher mq.Publisher
	logger    *zap.Logger

	target      string
	crashFolder string
	crashChan   chan types.CrashMessage
	wg          sync.WaitGroup
	done        chan struct{}

	mu   sync.Mutex
	seen map[string]int // signature -> sightings
}

type CrashManagerParams struct {
	fx.In

	Lc        fx.Lifecycle
	Logger    *zap.Logger
	AppConfig *config.AppConfig
	DB        *gorm.DB     `optional:"true"`
	Publisher mq.Publisher `optional:"true"`
}

func NewCrashManager(p CrashManagerParams) *CrashManager {
	c := &CrashManager{
		db:          p.DB,
		publisher:   p.Publisher,
		logger:      p.Logger,
		target:      p.AppConfig.TargetName(),
		crashFolder: filepath.Join(p.AppConfig.OutDir, CrashesDir),
		crashChan:   make(chan types.CrashMessage, 1024),
		done:        make(chan struct{}),
		seen:        make(map[string]int),
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.logger.Debug("starting crash manager")
			go c.start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.logger.Info("stopping crash manager")
			c.wg.Wait() // wait until all crash channels are closed
			close(c.crashChan)
			<-c.done // wait until all crashes are processed
			return nil
		},
	})

	return c
}

// RegisterCrashChan routes the crashes of rCh to the manager until rCh is
// closed.
func (c *CrashManager) RegisterCrashChan(ctx context.Context, rCh <-chan types.CrashMessage) {
	c.wg.Add(1)
	crashTracer := telemetry.TracerFrom(ctx).Spawn("crash manager")
	crashTracer.Start()
	go func() {
		defer c.wg.Done()
		defer crashTracer.End()

		exported := crashTracer.Export()
		crashCounter := 0
		for crash := range rCh {
			crashCounter++
			crash.Trace = exported
			c.crashChan <- crash
		}
		c.logger.Debug("crash channel closed", zap.Int("crashes", crashCounter))

		crashTracer.WithAttributes(telemetry.EmptySpanAttributes().
			WithCrashes(int64(crashCounter)).
			WithExtraAttribute("fuzz.crash.unique", c.Unique()))
	}()
	c.logger.Debug("new crash channel registered")
}

func (c *CrashManager) start() {
	defer close(c.done)
	for crash := range c.crashChan {
		if err := c.processCrash(crash); err != nil {
			c.logger.Error("failed to process crash", zap.Error(err))
		}
	}
}

// Unique is the number of distinct crash signatures seen so far.
func (c *CrashManager) Unique() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *CrashManager) firstSighting(signature string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[signature]++
	return c.seen[signature] == 1
}

// processCrash stores a crash the first time its signature shows up.
func (c *CrashManager) processCrash(msg types.CrashMessage) error {
	signature := Signature(msg.Output, msg.Input)
	if !c.firstSighting(signature) {
		c.logger.Debug("duplicate crash", zap.String("signature", signature), zap.String("state", string(msg.State)))
		return nil
	}

	crashStore := filepath.Join(c.crashFolder, msg.State.DirName())
	if err := os.MkdirAll(crashStore, 0755); err != nil {
		return fmt.Errorf("failed to create crash store directory: %w", err)
	}

	crashPath := filepath.Join(crashStore, digest(msg.Input))
	if err := os.WriteFile(crashPath, msg.Input, 0644); err != nil {
		return fmt.Errorf("failed to write crash file: %w", err)
	}

	record := Record{
		RunID:     msg.RunID,
		Target:    c.target,
		State:     string(msg.State),
		Outcome:   msg.Outcome.String(),
		Signature: signature,
		Exec:      msg.Exec,
		Ancestry:  msg.Ancestry,
		Output:    string(msg.Output),
	}
	recordBytes, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal crash record: %w", err)
	}
	if err := os.WriteFile(crashPath+".json", recordBytes, 0644); err != nil {
		return fmt.Errorf("failed to write crash record: %w", err)
	}
	c.logger.Info("new crash saved",
		zap.String("path", crashPath),
		zap.String("state", string(msg.State)),
		zap.String("signature", signature))

	// Use the global context for database and queue operations
	if c.db != nil {
		crash := database.NewCrash(msg.RunID, c.target, string(msg.State), msg.Outcome.String(), signature, crashPath, msg.Exec)
		if err := database.AddCrashes(context.Background(), c.db, []*database.Crash{crash}); err != nil {
			return fmt.Errorf("failed to add crash: %w", err)
		}
	}
	if c.publisher != nil {
		notification := types.CrashNotification{
			RunID:     msg.RunID,
			State:     string(msg.State),
			Outcome:   msg.Outcome.String(),
			Path:      crashPath,
			Signature: signature,
			Trace:     msg.Trace,
		}
		if err := c.publisher.Publish(context.Background(), CrashQueueName, notification); err != nil {
			return fmt.Errorf("failed to publish crash: %w", err)
		}
	}
	return nil
}
