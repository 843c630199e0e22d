package replay

import (
	"fmt"
	"os"
	"path/filepath"
	"statefuzz/config"
	"statefuzz/internal/fuzz"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Collector records the request/response pairs of every session and keeps
// the sessions worth keeping as TRACE_DIR/trace_N.cbor.
type Collector struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	next  int
	pairs []Pair
}

type CollectorParams struct {
	fx.In

	Logger    *zap.Logger
	AppConfig *config.AppConfig
}

// NewCollector returns nil when no trace directory is configured.
func NewCollector(p CollectorParams) *Collector {
	dir := p.AppConfig.TraceDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		p.Logger.Fatal("failed to create trace directory", zap.Error(err))
		return nil
	}
	return &Collector{dir: dir, logger: p.Logger}
}

func (c *Collector) Record(req []byte, resp *fuzz.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairs = append(c.pairs, Pair{
		ExitKind: resp.Outcome.String(),
		Request:  append([]byte(nil), req...),
		Response: append([]byte(nil), resp.Output...),
	})
}

func (c *Collector) EndSession(keep bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	pairs := c.pairs
	c.pairs = nil
	if !keep || len(pairs) == 0 {
		return nil
	}

	path := filepath.Join(c.dir, fmt.Sprintf("trace_%d.cbor", c.next))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTrace(f, pairs); err != nil {
		f.Close()
		return err
	}
	c.next++
	c.logger.Debug("session trace stored", zap.String("path", path), zap.Int("pairs", len(pairs)))
	return f.Close()
}

// Written is the number of trace files stored so far.
func (c *Collector) Written() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// RecorderResult provides the session recorder. Recorder stays nil when no
// trace directory is configured.
type RecorderResult struct {
	fx.Out

	Recorder fuzz.TraceRecorder
}

func NewRecorder(p CollectorParams) RecorderResult {
	if c := NewCollector(p); c != nil {
		return RecorderResult{Recorder: c}
	}
	return RecorderResult{}
}

var CollectorModule = fx.Options(
	fx.Provide(NewRecorder),
)
