package watchdog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestSuffixFilter(t *testing.T) {
	filter := SuffixFilter(".cbor", ".tar.gz")
	cases := map[string]bool{
		"/x/trace_1.cbor":  true,
		"/x/bundle.tar.gz": true,
		"/x/readme.txt":    false,
		"/x/.trace_2.cbor": false,
	}
	for name, want := range cases {
		if got := filter(name); got != want {
			t.Errorf("filter(%q) = %v, want %v", name, got, want)
		}
	}
	if !SuffixFilter()("/x/anything") {
		t.Errorf("empty filter should accept visible files")
	}
}

func receive(t *testing.T, notify <-chan string) string {
	t.Helper()
	select {
	case got := <-notify:
		return got
	case <-time.After(5 * time.Second):
		t.Fatal("no notification received")
	}
	return ""
}

func TestWatchDogReportsCreatedFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notify := make(chan string, 4)
	wd := NewWatchDogFactory(zaptest.NewLogger(t)).New(ctx, notify, SuffixFilter(".cbor"))
	wd.AddDir(dir)

	if err := os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "trace_0.cbor")
	f, err := os.Create(want)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte("part"))
	f.Write([]byte("rest"))
	f.Close()

	if got := receive(t, notify); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	select {
	case extra := <-notify:
		t.Fatalf("file reported twice: %q", extra)
	case <-time.After(3 * settleDelay):
	}

	cancel()
	for range notify {
	}
}

func TestWatchDogFollowsNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notify := make(chan string, 4)
	wd := NewWatchDogFactory(zaptest.NewLogger(t)).New(ctx, notify, nil)
	wd.AddDir(dir)

	sub := filepath.Join(dir, "run1")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	// give the watcher time to pick up the new directory
	time.Sleep(3 * settleDelay)
	want := filepath.Join(sub, "trace_0.cbor")
	if err := os.WriteFile(want, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if got := receive(t, notify); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	cancel()
	for range notify {
	}
}
