package corpus

import (
	"context"
	"os"
	"path/filepath"
	"statefuzz/config"
	"testing"

	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDirSeedGrabberLoadsSeedsAndPrefixes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "seed_a"), "USER anonymous\r\n")
	writeFile(t, filepath.Join(dir, "seed_b"), "PASS x\r\n")
	writeFile(t, filepath.Join(dir, ".hidden"), "skip")
	writeFile(t, filepath.Join(dir, "logged_in", "0"), "USER a\r\n")
	writeFile(t, filepath.Join(dir, "logged_in", "1"), "PASS b\r\n")
	writeFile(t, filepath.Join(dir, "logged_in", MetadataFile), "3\n")
	writeFile(t, filepath.Join(dir, "notes", "readme"), "not a prefix")

	g := NewDirSeedGrabber(&config.AppConfig{InDir: dir}, zaptest.NewLogger(t))
	seeds, err := g.GrabSeeds(context.Background(), "ftpd")
	if err != nil {
		t.Fatal(err)
	}
	if len(seeds.Inputs) != 2 || string(seeds.Inputs[0]) != "USER anonymous\r\n" {
		t.Fatalf("inputs = %q", seeds.Inputs)
	}
	if len(seeds.Prefixes) != 1 {
		t.Fatalf("prefixes = %+v", seeds.Prefixes)
	}
	p := seeds.Prefixes[0]
	if p.Name != "logged_in" || p.OutDegree != 3 || len(p.Messages) != 2 || string(p.Messages[1]) != "PASS b\r\n" {
		t.Errorf("prefix = %+v", p)
	}
}

func TestDirSeedGrabberRejectsEmptyDir(t *testing.T) {
	g := NewDirSeedGrabber(&config.AppConfig{InDir: t.TempDir()}, zaptest.NewLogger(t))
	if _, err := g.GrabSeeds(context.Background(), "x"); err == nil {
		t.Fatal("expected an error for an empty input directory")
	}
}

func TestLoadPrefixRejectsMalformedMetadata(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, MetadataFile), "many")
	if _, err := LoadPrefix(dir); err == nil {
		t.Fatal("expected malformed metadata error")
	}
}

func TestCorpusGrabberMergesAndFallsBack(t *testing.T) {
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "HELO")
	writeFile(t, filepath.Join(dir, "b"), "HELO")

	g := NewCorpusGrabber(CorpusGrabberParams{
		Logger:            logger,
		DirSeedGrabber:    NewDirSeedGrabber(&config.AppConfig{InDir: dir}, logger),
		RandomSeedGrabber: NewRandomSeedGrabber(),
	})
	seeds, err := g.Collect(context.Background(), "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(seeds.Inputs) != 1 {
		t.Fatalf("duplicates should be merged, got %d inputs", len(seeds.Inputs))
	}

	empty := NewCorpusGrabber(CorpusGrabberParams{
		Logger:            logger,
		DirSeedGrabber:    NewDirSeedGrabber(&config.AppConfig{InDir: t.TempDir()}, logger),
		RandomSeedGrabber: NewRandomSeedGrabber(),
	})
	seeds, err = empty.Collect(context.Background(), "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(seeds.Inputs) != randomSeedCount {
		t.Fatalf("expected random fallback, got %d inputs", len(seeds.Inputs))
	}
	for _, in := range seeds.Inputs {
		if in[len(in)-1] != '\n' {
			t.Fatalf("random seed not line terminated: %q", in)
		}
	}
}
