package seeds

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"statefuzz/config"
	"statefuzz/internal/types"
	"statefuzz/internal/utils"
	"statefuzz/pkg/database"
	"statefuzz/pkg/mq"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	CorpusQueueName = "corpus_queue"
	QueueDir        = "queue"
	BundleDir       = "bundles"

	batchSize     = 1024
	flushInterval = 1 * time.Minute
)

// SeedManager exports admitted inputs to OUT_DIR/queue/<state>/<uuid> in
// batches, bundling each batch for other fuzzers when a database or a
// message queue is configured.
type SeedManager struct {
	publisher mq.Publisher
	db        *gorm.DB
	logger    *zap.Logger

	target     string
	seedFolder string
	seedChan   chan types.SeedMessage
	seedChanWg sync.WaitGroup
	done       chan struct{}
	interval   time.Duration
}

type SeedManagerParams struct {
	fx.In

	Lc        fx.Lifecycle
	Logger    *zap.Logger
	AppConfig *config.AppConfig
	DB        *gorm.DB     `optional:"true"`
	Publisher mq.Publisher `optional:"true"`
}

func NewSeedManager(p SeedManagerParams) *SeedManager {
	s := &SeedManager{
		publisher:  p.Publisher,
		db:         p.DB,
		logger:     p.Logger,
		target:     p.AppConfig.TargetName(),
		seedFolder: p.AppConfig.OutDir,
		seedChan:   make(chan types.SeedMessage, 1024),
		done:       make(chan struct{}),
		interval:   flushInterval,
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.logger.Debug("starting seed manager")
			go s.start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.logger.Debug("stopping seed manager")
			s.seedChanWg.Wait() // wait until all seed channels are closed
			close(s.seedChan)
			<-s.done
			return nil
		},
	})

	return s
}

// RegisterSeedChan forwards everything received on rCh to the exporter
// until rCh is closed. OnStop waits for all registered channels.
func (s *SeedManager) RegisterSeedChan(rCh <-chan types.SeedMessage) {
	s.seedChanWg.Add(1)
	go func() {
		defer s.seedChanWg.Done()
		for msg := range rCh {
			s.seedChan <- msg
		}
	}()
}

func (s *SeedManager) start() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var pending []types.SeedMessage
	flush := func() {
		if len(pending) == 0 {
			return
		}
		s.processSeedMessages(pending)
		pending = nil
	}
	defer flush()

	for {
		select {
		case msg, ok := <-s.seedChan:
			if !ok {
				return
			}
			if pending = append(pending, msg); len(pending) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

type runState struct {
	runID string
	state types.StateID
}

func (s *SeedManager) processSeedMessages(msgs []types.SeedMessage) {
	// group the seeds by (run, state) pair
	grouped := make(map[runState][]types.SeedMessage)
	for _, msg := range msgs {
		key := runState{msg.RunID, msg.State}
		grouped[key] = append(grouped[key], msg)
	}

	for key, group := range grouped {
		queueDir := filepath.Join(s.seedFolder, QueueDir, key.state.DirName())
		if err := os.MkdirAll(queueDir, 0755); err != nil {
			s.logger.Error("failed to create queue dir", zap.Error(err))
			continue
		}
		newBits := 0
		for _, msg := range group {
			if err := os.WriteFile(filepath.Join(queueDir, uuid.New().String()), msg.Input, 0644); err != nil {
				s.logger.Error("failed to write seed", zap.Error(err))
			}
			newBits += msg.NewBits
		}
		s.logger.Debug("seeds exported",
			zap.String("state", string(key.state)),
			zap.Int("seeds_count", len(group)))

		if s.db == nil && s.publisher == nil {
			continue
		}
		if err := s.publishBundle(key, group, newBits); err != nil {
			s.logger.Error("failed to publish seed bundle", zap.Error(err), zap.String("state", string(key.state)))
		}
	}
}

// publishBundle packs a group into a tar.gz bundle, records it and announces
// it on the corpus queue.
func (s *SeedManager) publishBundle(key runState, group []types.SeedMessage, newBits int) error {
	staging, err := os.MkdirTemp("", "statefuzz-bundle-*")
	if err != nil {
		return fmt.Errorf("failed to create tmp dir for seed bundle: %w", err)
	}
	defer os.RemoveAll(staging)

	for _, msg := range group {
		if err := os.WriteFile(filepath.Join(staging, uuid.New().String()), msg.Input, 0644); err != nil {
			return err
		}
	}

	bundleDir := filepath.Join(s.seedFolder, BundleDir)
	if err := os.MkdirAll(bundleDir, 0755); err != nil {
		return err
	}
	bundlePath := filepath.Join(bundleDir, key.state.DirName()+"-"+uuid.New().String()+".tar.gz")
	if err := utils.CompressTarGz(staging, bundlePath); err != nil {
		return err
	}

	if s.publisher != nil {
		bundleMsg := types.CorpusBundleMessage{
			RunID:      key.runID,
			State:      string(key.state),
			BundlePath: bundlePath,
			Count:      len(group),
		}
		if err := s.publisher.Publish(context.Background(), CorpusQueueName, bundleMsg); err != nil {
			return fmt.Errorf("failed to publish bundle: %w", err)
		}
	}

	if s.db != nil {
		row := database.NewSeed(key.runID, bundlePath, s.target, string(key.state),
			database.OriginFuzzer, len(group), database.Metric{"new_bits": newBits})
		if err := database.AddSeed(context.Background(), s.db, row); err != nil {
			return fmt.Errorf("failed to save seed bundle to database: %w", err)
		}
	}
	return nil
}
