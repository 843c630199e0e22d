package replay

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"statefuzz/internal/fuzz"
	"statefuzz/internal/utils"
	"statefuzz/pkg/watchdog"
	"strings"

	"go.uber.org/zap"
)

// Replayer feeds recorded inputs through a driver instead of mutating seeds.
type Replayer struct {
	driver      *fuzz.Driver
	watchDogFac *watchdog.WatchDogFactory
	follow      bool
	logger      *zap.Logger

	seen     map[string]bool
	replayed int
}

func NewReplayer(driver *fuzz.Driver, watchDogFac *watchdog.WatchDogFactory, follow bool, logger *zap.Logger) *Replayer {
	return &Replayer{
		driver:      driver,
		watchDogFac: watchDogFac,
		follow:      follow && watchDogFac != nil,
		logger:      logger,
		seen:        make(map[string]bool),
	}
}

// Replayed is the number of sessions replayed so far.
func (r *Replayer) Replayed() int {
	return r.replayed
}

// Run replays every file under paths in name order: .cbor traces as one
// session each, .tar.gz bundles by their content and any other file as a
// single message session. In follow mode it keeps replaying files created
// in the given directories until ctx is done.
func (r *Replayer) Run(ctx context.Context, paths []string) error {
	defer r.driver.Close()

	var dirs []string
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			dirs = append(dirs, p)
		}
	}

	var notify chan string
	if r.follow && len(dirs) > 0 {
		notify = make(chan string, 1024)
		wd := r.watchDogFac.New(ctx, notify, watchdog.SuffixFilter())
		for _, dir := range dirs {
			wd.AddDir(dir)
		}
	}

	for _, p := range paths {
		files, err := listFiles(p)
		if err != nil {
			return err
		}
		for _, file := range files {
			if err := r.replayFile(ctx, file); err != nil {
				return err
			}
		}
	}
	r.logger.Info("replayed input directory", zap.Int("sessions", r.replayed))

	if notify == nil {
		return nil
	}
	r.logger.Info("following input directories", zap.Strings("dirs", dirs))
	for {
		select {
		case <-ctx.Done():
			return nil
		case file, ok := <-notify:
			if !ok {
				return nil
			}
			if err := r.replayFile(ctx, file); err != nil {
				return err
			}
		}
	}
}

// replayFile returns an error only when the target can no longer be run.
func (r *Replayer) replayFile(ctx context.Context, path string) error {
	if r.seen[path] {
		return nil
	}
	r.seen[path] = true
	if ctx.Err() != nil {
		return nil
	}

	switch {
	case strings.HasSuffix(path, ".cbor"):
		msgs, err := ReadTraceFile(path)
		if err != nil {
			r.logger.Warn("skipping unreadable trace", zap.String("path", path), zap.Error(err))
			return nil
		}
		return r.replay(ctx, path, msgs)

	case utils.IsTarGz(path):
		tmpDir, err := os.MkdirTemp("", "replay-bundle-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmpDir)
		if err := utils.UnpackTarGz(path, tmpDir); err != nil {
			r.logger.Warn("skipping broken bundle", zap.String("path", path), zap.Error(err))
			return nil
		}
		files, err := listFiles(tmpDir)
		if err != nil {
			return err
		}
		for _, file := range files {
			if err := r.replayFile(ctx, file); err != nil {
				return err
			}
		}
		return nil

	default:
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("skipping unreadable input", zap.String("path", path), zap.Error(err))
			return nil
		}
		return r.replay(ctx, path, [][]byte{data})
	}
}

func (r *Replayer) replay(ctx context.Context, path string, msgs [][]byte) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := r.driver.Replay(ctx, msgs); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	r.replayed++
	r.logger.Debug("session replayed", zap.String("path", path), zap.Int("messages", len(msgs)))
	return nil
}

// listFiles returns the regular, non-hidden files under path in name order.
func listFiles(path string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && p != path {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}
