package crash

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"statefuzz/config"
	"statefuzz/internal/types"
	"sync"
	"testing"

	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

type memPublisher struct {
	mu   sync.Mutex
	sent map[string][]any
}

func (m *memPublisher) Publish(ctx context.Context, queue string, body any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = make(map[string][]any)
	}
	m.sent[queue] = append(m.sent[queue], body)
	return nil
}

func TestCrashManagerStoresUniqueCrashes(t *testing.T) {
	out := t.TempDir()
	lc := fxtest.NewLifecycle(t)
	pub := &memPublisher{}
	cm := NewCrashManager(CrashManagerParams{
		Lc:        lc,
		Logger:    zaptest.NewLogger(t),
		Publisher: pub,
		AppConfig: &config.AppConfig{
			OutDir: out,
			Target: config.TargetConfig{Command: []string{"/usr/bin/ftpd"}},
		},
	})
	lc.RequireStart()

	report := []byte("==1==ERROR: AddressSanitizer\n    #0 0x1 in parse /a.c:1\n")
	ch := make(chan types.CrashMessage, 4)
	cm.RegisterCrashChan(context.Background(), ch)
	ch <- types.CrashMessage{RunID: "r", Input: []byte("A"), State: "230", Outcome: types.OutcomeCrash, Output: report, Ancestry: [][]byte{[]byte("USER x")}}
	ch <- types.CrashMessage{RunID: "r", Input: []byte("B"), State: "230", Outcome: types.OutcomeCrash, Output: report}
	ch <- types.CrashMessage{RunID: "r", Input: []byte("C"), State: "331/x", Outcome: types.OutcomeCrash}
	close(ch)
	lc.RequireStop()

	if cm.Unique() != 2 {
		t.Fatalf("unique = %d, want 2", cm.Unique())
	}

	files, err := filepath.Glob(filepath.Join(out, CrashesDir, "230", "*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("crash files = %v, want input and record", files)
	}
	raw, err := os.ReadFile(filepath.Join(out, CrashesDir, "230", digest([]byte("A"))+".json"))
	if err != nil {
		t.Fatal(err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Target != "ftpd" || rec.Outcome != "Cr" || len(rec.Ancestry) != 1 {
		t.Errorf("record = %+v", rec)
	}

	if _, err := os.Stat(filepath.Join(out, CrashesDir, "331_x", digest([]byte("C")))); err != nil {
		t.Errorf("state directory not sanitized: %v", err)
	}

	notes := pub.sent[CrashQueueName]
	if len(notes) != 2 {
		t.Fatalf("notifications = %d, want one per unique crash", len(notes))
	}
	if n, ok := notes[0].(types.CrashNotification); !ok || n.State != "230" || n.Signature == "" {
		t.Errorf("notification = %+v", notes[0])
	}
}
