package mutator

import (
	"bytes"
	"math/rand"
)

// Mutator turns a seed into a new test input. Implementations must not
// modify their argument.
type Mutator interface {
	Mutate(input []byte) []byte
}

// Suffixed makes every produced input end in suffix, for line based
// protocols such as FTP or SMTP.
type Suffixed struct {
	inner  Mutator
	suffix []byte
}

func WithSuffix(inner Mutator, suffix string) Mutator {
	if suffix == "" {
		return inner
	}
	return &Suffixed{inner, []byte(suffix)}
}

func (s *Suffixed) Mutate(input []byte) []byte {
	out := s.inner.Mutate(bytes.TrimSuffix(input, s.suffix))
	if !bytes.HasSuffix(out, s.suffix) {
		out = append(out, s.suffix...)
	}
	return out
}

// New builds the default mutator: havoc with dictionary tokens, optionally
// framed by a line suffix.
func New(rng *rand.Rand, tokens [][]byte, maxLen int, suffix string) Mutator {
	return WithSuffix(NewHavoc(rng, tokens, maxLen), suffix)
}
