package watchdog

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// settleDelay is how long a file must go without writes before it is
// reported. Traces are written in one go but not atomically.
const settleDelay = 100 * time.Millisecond

// FilterFunc decides whether a file is forwarded.
type FilterFunc func(string) bool

// SuffixFilter accepts files ending in one of suffixes. With no suffixes it
// accepts every file that is not hidden.
func SuffixFilter(suffixes ...string) FilterFunc {
	return func(name string) bool {
		base := filepath.Base(name)
		if strings.HasPrefix(base, ".") {
			return false
		}
		if len(suffixes) == 0 {
			return true
		}
		for _, suffix := range suffixes {
			if strings.HasSuffix(base, suffix) {
				return true
			}
		}
		return false
	}
}

type WatchDogFactory struct {
	logger *zap.Logger
}

func NewWatchDogFactory(logger *zap.Logger) *WatchDogFactory {
	return &WatchDogFactory{logger: logger}
}

// WatchDog reports files that appear below the watched directories,
// including ones created inside subdirectories made after AddDir. Each file
// is sent once, after its writes have settled.
type WatchDog struct {
	ctx    context.Context
	notify chan<- string
	filter FilterFunc
	logger *zap.Logger

	watcher *fsnotify.Watcher
	dirs    chan string

	// owned by the watch goroutine
	pending  map[string]time.Time
	reported map[string]bool
}

// New starts a watcher that stops when ctx is done and then closes notify.
// A nil filter forwards every file.
func (f *WatchDogFactory) New(ctx context.Context, notify chan<- string, filter FilterFunc) *WatchDog {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.logger.Fatal("failed to create watcher", zap.Error(err))
	}
	w := &WatchDog{
		ctx:      ctx,
		notify:   notify,
		filter:   filter,
		logger:   f.logger,
		watcher:  watcher,
		dirs:     make(chan string, 16),
		pending:  make(map[string]time.Time),
		reported: make(map[string]bool),
	}
	go w.watch()
	return w
}

// AddDir watches dir and its subdirectories. Files already present are not
// reported; only those created afterwards.
func (w *WatchDog) AddDir(dir string) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		w.logger.Error("failed to resolve directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	if st, err := os.Stat(abs); err != nil || !st.IsDir() {
		w.logger.Error("not a directory", zap.String("dir", abs), zap.Error(err))
		return
	}
	if err := w.addTree(abs, false); err != nil {
		w.logger.Error("failed to watch directory", zap.String("dir", abs), zap.Error(err))
		return
	}
	w.logger.Debug("watching directory", zap.String("dir", abs))
}

// addTree registers root and every directory below it. With queue set the
// regular files found are scheduled for reporting, which covers files
// written into a new directory before its watch was in place.
func (w *WatchDog) addTree(root string, queue bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		if queue {
			select {
			case w.dirs <- path:
			default:
				w.logger.Warn("dropping file found in new directory", zap.String("file", path))
			}
		}
		return nil
	})
}

func (w *WatchDog) watch() {
	defer w.watcher.Close()
	defer close(w.notify)

	ticker := time.NewTicker(settleDelay / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case path := <-w.dirs:
			w.touch(path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", zap.Error(err))
		case now := <-ticker.C:
			if !w.flush(now) {
				return
			}
		}
	}
}

func (w *WatchDog) handleEvent(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		st, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if st.IsDir() {
			// the watch goroutine must not block on its own queue
			go func() {
				if err := w.addTree(event.Name, true); err != nil {
					w.logger.Warn("failed to watch new directory", zap.String("dir", event.Name), zap.Error(err))
				}
			}()
			return
		}
		w.touch(event.Name)
	case event.Has(fsnotify.Write):
		if _, seen := w.pending[event.Name]; seen {
			w.touch(event.Name)
		}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		delete(w.pending, event.Name)
	}
}

func (w *WatchDog) touch(path string) {
	if w.reported[path] {
		return
	}
	if w.filter != nil && !w.filter(path) {
		w.logger.Debug("file ignored by filter", zap.String("file", path))
		return
	}
	w.pending[path] = time.Now()
}

// flush sends every pending file that has been quiet for settleDelay. It
// returns false once the context is done.
func (w *WatchDog) flush(now time.Time) bool {
	for path, last := range w.pending {
		if now.Sub(last) < settleDelay {
			continue
		}
		select {
		case w.notify <- path:
		case <-w.ctx.Done():
			return false
		}
		delete(w.pending, path)
		w.reported[path] = true
		w.logger.Debug("file settled", zap.String("file", path))
	}
	return true
}
