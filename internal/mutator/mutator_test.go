package mutator

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestHavocDoesNotModifyInput(t *testing.T) {
	h := NewHavoc(rand.New(rand.NewSource(1)), [][]byte{[]byte("USER")}, 0)
	input := []byte("HELO example.org\r\n")
	orig := append([]byte(nil), input...)
	for i := 0; i < 500; i++ {
		out := h.Mutate(input)
		if len(out) == 0 {
			t.Fatalf("iteration %d produced an empty input", i)
		}
		if !bytes.Equal(input, orig) {
			t.Fatalf("iteration %d modified the seed", i)
		}
	}
}

func TestHavocRespectsMaxLen(t *testing.T) {
	h := NewHavoc(rand.New(rand.NewSource(2)), [][]byte{bytes.Repeat([]byte("A"), 64)}, 10)
	for i := 0; i < 500; i++ {
		if out := h.Mutate([]byte("0123456789")); len(out) > 10 {
			t.Fatalf("len %d exceeds limit", len(out))
		}
	}
}

func TestHavocHandlesEmptyInput(t *testing.T) {
	h := NewHavoc(rand.New(rand.NewSource(3)), nil, 0)
	for i := 0; i < 100; i++ {
		if out := h.Mutate(nil); len(out) == 0 {
			t.Fatal("empty output")
		}
	}
}

func TestHavocIsDeterministic(t *testing.T) {
	a := NewHavoc(rand.New(rand.NewSource(9)), nil, 0)
	b := NewHavoc(rand.New(rand.NewSource(9)), nil, 0)
	for i := 0; i < 100; i++ {
		if !bytes.Equal(a.Mutate([]byte("seed")), b.Mutate([]byte("seed"))) {
			t.Fatalf("iteration %d diverged", i)
		}
	}
}

func TestHavocUsesTokens(t *testing.T) {
	h := NewHavoc(rand.New(rand.NewSource(4)), [][]byte{[]byte("STOR")}, 0)
	for i := 0; i < 2000; i++ {
		if bytes.Contains(h.Mutate([]byte("xxxxxxxx")), []byte("STOR")) {
			return
		}
	}
	t.Fatal("dictionary token never used")
}

type identity struct{}

func (identity) Mutate(input []byte) []byte { return append([]byte(nil), input...) }

func TestSuffixedFramesOutput(t *testing.T) {
	m := WithSuffix(identity{}, "\r\n")
	if got := m.Mutate([]byte("NOOP")); string(got) != "NOOP\r\n" {
		t.Errorf("got %q", got)
	}
	if got := m.Mutate([]byte("NOOP\r\n")); string(got) != "NOOP\r\n" {
		t.Errorf("suffix duplicated: %q", got)
	}
	if WithSuffix(identity{}, "") != (identity{}) {
		t.Errorf("empty suffix should return the inner mutator")
	}
}
