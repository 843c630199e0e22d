package seeds

import (
	"context"
	"os"
	"path/filepath"
	"statefuzz/config"
	"statefuzz/internal/types"
	"statefuzz/internal/utils"
	"sync"
	"testing"

	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

type published struct {
	queue string
	body  any
}

type memPublisher struct {
	mu   sync.Mutex
	sent []published
}

func (m *memPublisher) Publish(ctx context.Context, queue string, body any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, published{queue, body})
	return nil
}

func newTestManager(t *testing.T, out string, pub *memPublisher) (*SeedManager, *fxtest.Lifecycle) {
	lc := fxtest.NewLifecycle(t)
	p := SeedManagerParams{
		Lc:        lc,
		Logger:    zaptest.NewLogger(t),
		AppConfig: &config.AppConfig{OutDir: out},
	}
	if pub != nil {
		p.Publisher = pub
	}
	return NewSeedManager(p), lc
}

func TestSeedsAreExportedPerState(t *testing.T) {
	out := t.TempDir()
	sm, lc := newTestManager(t, out, nil)
	lc.RequireStart()

	ch := make(chan types.SeedMessage, 8)
	sm.RegisterSeedChan(ch)
	ch <- types.SeedMessage{RunID: "r", Input: []byte("USER a"), State: "331", NewBits: 3}
	ch <- types.SeedMessage{RunID: "r", Input: []byte("USER b"), State: "331", NewBits: 1}
	ch <- types.SeedMessage{RunID: "r", Input: []byte("PASS c"), State: "230", NewBits: 2}
	close(ch)
	lc.RequireStop()

	for state, want := range map[string]int{"331": 2, "230": 1} {
		entries, err := os.ReadDir(filepath.Join(out, QueueDir, state))
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != want {
			t.Errorf("state %s: %d seeds, want %d", state, len(entries), want)
		}
	}
	if _, err := os.Stat(filepath.Join(out, BundleDir)); !os.IsNotExist(err) {
		t.Errorf("bundles written without a database or queue")
	}
}

func TestSeedBundleIsPacked(t *testing.T) {
	out := t.TempDir()
	pub := &memPublisher{}
	sm, lc := newTestManager(t, out, pub)
	lc.RequireStart()

	ch := make(chan types.SeedMessage, 2)
	sm.RegisterSeedChan(ch)
	ch <- types.SeedMessage{RunID: "r", Input: []byte("HELO"), State: "READY"}
	ch <- types.SeedMessage{RunID: "r", Input: []byte("HELP"), State: "READY"}
	close(ch)
	lc.RequireStop()

	bundles, err := filepath.Glob(filepath.Join(out, BundleDir, "READY-*.tar.gz"))
	if err != nil {
		t.Fatal(err)
	}
	if len(bundles) != 1 {
		t.Fatalf("bundles = %v", bundles)
	}
	if !utils.IsTarGz(bundles[0]) {
		t.Fatalf("%s is not a gzip tarball", bundles[0])
	}
	dst := t.TempDir()
	if err := utils.UnpackTarGz(bundles[0], dst); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("bundle holds %d seeds, want 2", len(entries))
	}

	if len(pub.sent) != 1 || pub.sent[0].queue != CorpusQueueName {
		t.Fatalf("published = %+v", pub.sent)
	}
	msg, ok := pub.sent[0].body.(types.CorpusBundleMessage)
	if !ok || msg.BundlePath != bundles[0] || msg.Count != 2 || msg.State != "READY" {
		t.Errorf("bundle message = %+v", pub.sent[0].body)
	}
}
