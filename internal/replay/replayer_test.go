package replay

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"statefuzz/internal/corpus"
	"statefuzz/internal/coverage"
	"statefuzz/internal/fuzz"
	"statefuzz/internal/stategraph"
	"statefuzz/internal/stats"
	"statefuzz/internal/types"
	"testing"

	"go.uber.org/zap/zaptest"
)

const testMapSize = 64

// echoTarget reaches the state named by the first word of each message and
// crashes on BOOM.
type echoTarget struct {
	sessions int
}

func (e *echoTarget) Launch(ctx context.Context) (fuzz.Transport, error) {
	return &echoTransport{target: e}, nil
}

type echoTransport struct {
	target *echoTarget
}

func (t *echoTransport) Reset(ctx context.Context) error {
	t.target.sessions++
	return nil
}

func (t *echoTransport) Execute(ctx context.Context, input []byte) (*fuzz.Response, error) {
	if bytes.HasPrefix(input, []byte("BOOM")) {
		return &fuzz.Response{Outcome: types.OutcomeCrash}, nil
	}
	word, _, _ := bytes.Cut(input, []byte(" "))
	trace := make([]byte, testMapSize)
	trace[len(word)%testMapSize] = 1
	return &fuzz.Response{Trace: trace, StateHint: types.StateID(word), Output: word}, nil
}

func (t *echoTransport) Close() error { return nil }

func newTestReplayer(t *testing.T) (*Replayer, *fuzz.Engine, *echoTarget) {
	e := fuzz.NewEngine(fuzz.EngineParams{
		RunID:    "replay",
		Graph:    stategraph.New(),
		Coverage: coverage.NewSet(coverage.MapPerState, testMapSize),
		Store:    corpus.NewStore(corpus.PerState, corpus.FromPredecessor, 1, nil),
		Stats:    stats.New(),
		Logger:   zaptest.NewLogger(t),
	})
	target := &echoTarget{}
	d := fuzz.NewDriver(fuzz.DriverParams{
		Engine:   e,
		Launcher: target,
		Logger:   zaptest.NewLogger(t),
	})
	return NewReplayer(d, nil, false, zaptest.NewLogger(t)), e, target
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestReplayerReplaysDirectory(t *testing.T) {
	dir := t.TempDir()
	var trace bytes.Buffer
	if err := WriteTrace(&trace, []Pair{
		{ExitKind: "Ok", Request: []byte("USER a")},
		{ExitKind: "Ok", Request: []byte("PASS b")},
		{ExitKind: "Ok", Request: []byte("LIST")},
	}); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "a", "trace_0.cbor"), trace.Bytes())
	writeFile(t, filepath.Join(dir, "b", "raw_input"), []byte("QUIT now"))
	writeFile(t, filepath.Join(dir, "c", "crash"), []byte("BOOM"))
	writeFile(t, filepath.Join(dir, ".hidden", "skipped"), []byte("HIDDEN"))
	writeFile(t, filepath.Join(dir, "broken.cbor"), []byte{0xff})

	r, e, target := newTestReplayer(t)
	if err := r.Run(context.Background(), []string{dir}); err != nil {
		t.Fatal(err)
	}

	if r.Replayed() != 3 {
		t.Errorf("replayed = %d, want 3", r.Replayed())
	}
	if got := e.Stats().Executions(); got != 5 {
		t.Errorf("executions = %d, want 5", got)
	}
	if e.Stats().Counters().Crashes != 1 {
		t.Errorf("crashes = %d, want 1", e.Stats().Counters().Crashes)
	}
	for _, id := range []types.StateID{"USER", "PASS", "LIST", "QUIT"} {
		ref, ok := e.Graph().Lookup(id)
		if !ok {
			t.Errorf("%s not discovered", id)
			continue
		}
		if e.Store().Len(ref) == 0 {
			t.Errorf("%s has an empty corpus", id)
		}
	}
	if _, ok := e.Graph().Lookup("HIDDEN"); ok {
		t.Errorf("hidden directory replayed")
	}
	if target.sessions != 3 {
		t.Errorf("sessions = %d, want 3", target.sessions)
	}
}

func TestListFilesIsSorted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b"), nil)
	writeFile(t, filepath.Join(dir, "a", "z"), nil)
	writeFile(t, filepath.Join(dir, ".git", "HEAD"), nil)

	files, err := listFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "a", "z"), filepath.Join(dir, "b")}
	if len(files) != len(want) || files[0] != want[0] || files[1] != want[1] {
		t.Errorf("files = %v, want %v", files, want)
	}
}
