package config

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestDefaultsAreValidOnceDirsAreSet(t *testing.T) {
	c := defaults()
	if err := c.Validate(); err == nil {
		t.Fatalf("expected missing IN_DIR/OUT_DIR to be rejected")
	}
	c.InDir, c.OutDir = "in", "out"
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Fuzz.Loops != 100 || c.Fuzz.Timeout != 1200*time.Millisecond || c.Target.MapSize != 65536 {
		t.Errorf("unexpected defaults: %+v", c.Fuzz)
	}
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{"awareness", func(c *AppConfig) { c.Fuzz.Awareness = "both" }, "AWARENESS"},
		{"scheduler", func(c *AppConfig) { c.Fuzz.StateScheduler = "random" }, "STATE_SCHEDULER"},
		{"seed rule", func(c *AppConfig) { c.Fuzz.SeedRule = "sibling" }, "SEED_RULE"},
		{"negative loops", func(c *AppConfig) { c.Fuzz.Loops = -1 }, "LOOPS"},
		{"zero timeout", func(c *AppConfig) { c.Fuzz.Timeout = 0 }, "TIMEOUT"},
		{"port", func(c *AppConfig) { c.Target.Command = []string{"./server"}; c.Target.Port = 0 }, "TARGET_PORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := defaults()
			c.InDir, c.OutDir = "in", "out"
			tt.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestLayering(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "statefuzz.yaml")
	yamlBody := "in_dir: from-yaml\nout_dir: out-yaml\nfuzz:\n  loops: 7\n  awareness: single-corpus\n"
	if err := os.WriteFile(yamlPath, []byte(yamlBody), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STATEFUZZ_CONFIG", yamlPath)
	t.Setenv("LOOPS", "9")
	t.Setenv("TIMEOUT", "300")
	t.Setenv("LINE_SUFFIX", `\r\n`)
	t.Setenv("KILL_SIGNAL", "term")
	t.Setenv("TARGET_ENV", "A=1,B=2")

	opts, err := ParseOptions([]string{"-i", "from-flag", "-p", "2121", "--", "./server", "--port", "2121"})
	if err != nil {
		t.Fatal(err)
	}
	c := LoadConfig(opts)

	if c.InDir != "from-flag" {
		t.Errorf("flag should override yaml, got %q", c.InDir)
	}
	if c.OutDir != "out-yaml" {
		t.Errorf("yaml value lost, got %q", c.OutDir)
	}
	if c.Fuzz.Loops != 9 {
		t.Errorf("env should override yaml, got %d", c.Fuzz.Loops)
	}
	if c.Fuzz.Awareness != AwarenessSingleCorpus {
		t.Errorf("awareness = %q", c.Fuzz.Awareness)
	}
	if c.Fuzz.Timeout != 300*time.Millisecond {
		t.Errorf("timeout = %v", c.Fuzz.Timeout)
	}
	if c.Target.LineSuffix != "\r\n" {
		t.Errorf("line suffix = %q", c.Target.LineSuffix)
	}
	if c.Target.KillSignal != syscall.SIGTERM {
		t.Errorf("kill signal = %v", c.Target.KillSignal)
	}
	if c.Target.Env["B"] != "2" {
		t.Errorf("env = %v", c.Target.Env)
	}
	if len(c.Target.Command) != 3 || c.Target.Command[0] != "./server" {
		t.Errorf("command = %v", c.Target.Command)
	}
	if c.Target.Port != 2121 {
		t.Errorf("port = %d", c.Target.Port)
	}
}

func TestParseHelpers(t *testing.T) {
	if got := parseMillis("1.5s", time.Second); got != 1500*time.Millisecond {
		t.Errorf("parseMillis duration = %v", got)
	}
	if got := parseMillis("junk", time.Second); got != time.Second {
		t.Errorf("parseMillis fallback = %v", got)
	}
	if got := parseSignal("9", syscall.SIGTERM); got != syscall.SIGKILL {
		t.Errorf("parseSignal numeric = %v", got)
	}
	if got := parseSignal("SIGBOGUS", syscall.SIGTERM); got != syscall.SIGTERM {
		t.Errorf("parseSignal fallback = %v", got)
	}
	if got := splitList(" a, ,b "); len(got) != 2 || got[1] != "b" {
		t.Errorf("splitList = %v", got)
	}
}
