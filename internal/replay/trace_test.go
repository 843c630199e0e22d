package replay

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"statefuzz/config"
	"statefuzz/internal/fuzz"
	"statefuzz/internal/types"
	"testing"

	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

func TestTraceRoundTrip(t *testing.T) {
	pairs := []Pair{
		{ExitKind: "Ok", Request: []byte("USER a\r\n"), Response: []byte("331 ok\r\n")},
		{ExitKind: "Cr", Request: []byte("BOOM\r\n")},
	}
	var buf bytes.Buffer
	if err := WriteTrace(&buf, pairs); err != nil {
		t.Fatal(err)
	}
	got, err := ReadTrace(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].ExitKind != "Cr" || string(got[0].Response) != "331 ok\r\n" {
		t.Errorf("pairs = %+v", got)
	}
}

func TestReadTraceRejectsUnknownExitKind(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTrace(&buf, []Pair{{ExitKind: "Ok"}, {ExitKind: "??"}}); err != nil {
		t.Fatal(err)
	}
	pairs, err := ReadTrace(&buf)
	if !errors.Is(err, types.ErrProtocolViolation) {
		t.Fatalf("err = %v, want ErrProtocolViolation", err)
	}
	if len(pairs) != 1 {
		t.Errorf("pairs before the bad one = %d", len(pairs))
	}
}

func TestReadTraceRejectsGarbage(t *testing.T) {
	if _, err := ReadTrace(bytes.NewReader([]byte{0xff, 0x00, 0x13})); !errors.Is(err, types.ErrProtocolViolation) {
		t.Fatalf("err = %v, want ErrProtocolViolation", err)
	}
}

func TestCollectorKeepsInterestingSessions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "traces")
	c := NewCollector(CollectorParams{
		Logger:    zaptest.NewLogger(t),
		AppConfig: &config.AppConfig{TraceDir: dir},
	})

	c.Record([]byte("HELO"), &fuzz.Response{Output: []byte("READY")})
	if err := c.EndSession(false); err != nil {
		t.Fatal(err)
	}
	c.Record([]byte("HELO"), &fuzz.Response{Output: []byte("READY")})
	c.Record([]byte("BOOM"), &fuzz.Response{Outcome: types.OutcomeCrash})
	if err := c.EndSession(true); err != nil {
		t.Fatal(err)
	}
	if err := c.EndSession(true); err != nil {
		t.Fatal(err)
	}

	if c.Written() != 1 {
		t.Fatalf("written = %d, want 1", c.Written())
	}
	msgs, err := ReadTraceFile(filepath.Join(dir, "trace_0.cbor"))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || string(msgs[1]) != "BOOM" {
		t.Errorf("messages = %q", msgs)
	}
	if _, err := os.Stat(filepath.Join(dir, "trace_1.cbor")); !os.IsNotExist(err) {
		t.Errorf("empty session stored")
	}
}

func TestNewCollectorDisabled(t *testing.T) {
	if c := NewCollector(CollectorParams{Logger: zaptest.NewLogger(t), AppConfig: &config.AppConfig{}}); c != nil {
		t.Errorf("collector created without a trace directory")
	}
}

type recorderConsumer struct {
	fx.In

	Recorder fuzz.TraceRecorder `optional:"true"`
}

func TestCollectorModuleProvidesRecorder(t *testing.T) {
	tests := []struct {
		name     string
		traceDir string
		want     bool
	}{
		{"disabled", "", false},
		{"enabled", t.TempDir(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got fuzz.TraceRecorder
			app := fxtest.New(t,
				fx.Supply(&config.AppConfig{TraceDir: tt.traceDir}, zaptest.NewLogger(t)),
				CollectorModule,
				fx.Invoke(func(in recorderConsumer) { got = in.Recorder }),
			)
			app.RequireStart().RequireStop()

			if (got != nil) != tt.want {
				t.Fatalf("recorder = %#v, want present: %v", got, tt.want)
			}
			if _, ok := got.(*Collector); tt.want && !ok {
				t.Errorf("recorder is %T, want *Collector", got)
			}
		})
	}
}
