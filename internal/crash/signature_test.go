package crash

import (
	"strings"
	"testing"
)

const goDump = `panic: unexpected DATA command

goroutine 7 [running]:
main.(*server).handle(0xc000010000, 0xc00001a0c0)
	/src/mock/main.go:%d +0x65
main.(*server).serve(0xc000010000)
	/src/mock/main.go:88 +0x25
created by main.main
	/src/mock/main.go:40 +0x1c5
`

func TestSignatureGoPanic(t *testing.T) {
	a := Signature([]byte(strings.Replace(goDump, "%d", "120", 1)), []byte("BOOM"))
	b := Signature([]byte(strings.Replace(goDump, "%d", "121", 1)), []byte("BOOM2"))
	if !strings.HasPrefix(a, "go:") {
		t.Fatalf("signature = %q, want a stack based one", a)
	}
	if a != b {
		t.Errorf("same frames produced different signatures: %q, %q", a, b)
	}
}

func TestSignatureSanitizer(t *testing.T) {
	report := `==12==ERROR: AddressSanitizer: heap-buffer-overflow on address 0x602000000011
READ of size 1 at 0x602000000011 thread T0
    #0 0x4f1a2b in parse_command /src/ftp/cmd.c:42
    #1 0x4f1c00 in handle_client /src/ftp/server.c:100
    #2 0x4f2000 in main /src/ftp/main.c:12
`
	a := Signature([]byte(report), []byte("one"))
	b := Signature([]byte(strings.ReplaceAll(report, "0x4f", "0x5f")), []byte("two"))
	if !strings.HasPrefix(a, "san:") || a != b {
		t.Errorf("signatures %q and %q should match", a, b)
	}
	c := Signature([]byte(strings.Replace(report, "parse_command", "parse_reply", 1)), []byte("one"))
	if a == c {
		t.Errorf("different frames share signature %q", a)
	}
}

func TestSignatureFallsBackToInput(t *testing.T) {
	a := Signature([]byte("Segmentation fault"), []byte("x"))
	b := Signature(nil, []byte("x"))
	if a != b || !strings.HasPrefix(a, "md5:") {
		t.Errorf("signatures = %q, %q", a, b)
	}
	if a == Signature(nil, []byte("y")) {
		t.Errorf("different inputs share a signature")
	}
}
