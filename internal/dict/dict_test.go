package dict

import (
	"context"
	"os"
	"path/filepath"
	"statefuzz/config"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestParseDict(t *testing.T) {
	content := []byte(`
# ftp verbs
user="USER "
"PASS"
crlf="\x0d\x0a"
quote="say \"hi\"\\"
empty=""
`)
	tokens, err := ParseDict(content)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"USER ", "PASS", "\r\n", `say "hi"\`}
	if len(tokens) != len(want) {
		t.Fatalf("got %q", tokens)
	}
	for i, w := range want {
		if string(tokens[i]) != w {
			t.Errorf("token %d = %q, want %q", i, tokens[i], w)
		}
	}
}

func TestParseDictErrors(t *testing.T) {
	for _, bad := range []string{`kw=USER`, `kw="\x4"`, `kw="\q"`, `kw="abc\"`} {
		if _, err := ParseDict([]byte(bad)); err == nil {
			t.Errorf("expected error for %s", bad)
		}
	}
}

func TestGrabTokensMergesFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.dict")
	b := filepath.Join(dir, "b.dict")
	os.WriteFile(a, []byte("\"USER\"\n\"PASS\"\n"), 0644)
	os.WriteFile(b, []byte("\"PASS\"\n\"QUIT\"\n"), 0644)

	cfg := &config.AppConfig{}
	cfg.Fuzz.DictPaths = []string{a, b, filepath.Join(dir, "missing.dict")}
	g := NewDictGrabber(DictGrabberParams{Logger: zaptest.NewLogger(t), AppConfig: cfg})

	tokens := g.GrabTokens(context.Background(), "ftpd")
	if len(tokens) != 3 || string(tokens[2]) != "QUIT" {
		t.Fatalf("tokens = %q", tokens)
	}
}
