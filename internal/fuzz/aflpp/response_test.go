package aflpp

import (
	"statefuzz/internal/types"
	"strings"
	"testing"
)

func TestReplyCode(t *testing.T) {
	tests := []struct {
		reply string
		want  types.StateID
	}{
		{"220 ProFTPD ready\r\n", "220"},
		{"230-Welcome\r\n230-more text\r\n230 Login ok\r\n", "230"},
		{"211-Features:\r\n MDTM\r\n211 End\r\n", "211"},
		{"250\r\n", "250"},
		{"hello world\r\n", ""},
		{"2200 not a code\r\n", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ReplyCode([]byte(tt.reply)); got != tt.want {
			t.Errorf("ReplyCode(%q) = %q, want %q", tt.reply, got, tt.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := FirstLine([]byte("\r\n  READY  \r\nmore\r\n")); got != "READY" {
		t.Errorf("FirstLine = %q", got)
	}
	long := strings.Repeat("x", 100)
	if got := FirstLine([]byte(long)); len(got) != maxStateIDLen {
		t.Errorf("FirstLine length = %d, want %d", len(got), maxStateIDLen)
	}
	if got := FirstLine([]byte("\n\n")); got != "" {
		t.Errorf("FirstLine of blank reply = %q", got)
	}
}

func TestNewExtractor(t *testing.T) {
	for _, name := range []string{"", "reply-code", "first-line"} {
		if _, err := NewExtractor(name); err != nil {
			t.Errorf("NewExtractor(%q): %v", name, err)
		}
	}
	if _, err := NewExtractor("regex"); err == nil {
		t.Errorf("unknown extractor accepted")
	}
}
