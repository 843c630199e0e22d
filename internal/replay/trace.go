package replay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"statefuzz/internal/types"

	"github.com/fxamacker/cbor/v2"
)

// Pair is one request/response exchange of a recorded session.
type Pair struct {
	ExitKind string `cbor:"ek"`
	Request  []byte `cbor:"req"`
	Response []byte `cbor:"resp"`
}

// WriteTrace encodes pairs as a CBOR sequence.
func WriteTrace(w io.Writer, pairs []Pair) error {
	enc := cbor.NewEncoder(w)
	for _, p := range pairs {
		if err := enc.Encode(p); err != nil {
			return err
		}
	}
	return nil
}

// ReadTrace decodes a CBOR sequence of pairs until EOF.
func ReadTrace(r io.Reader) ([]Pair, error) {
	dec := cbor.NewDecoder(r)
	var pairs []Pair
	for {
		var p Pair
		err := dec.Decode(&p)
		if errors.Is(err, io.EOF) {
			return pairs, nil
		}
		if err != nil {
			return pairs, fmt.Errorf("%w: trace pair %d: %w", types.ErrProtocolViolation, len(pairs), err)
		}
		if _, ok := types.ParseOutcome(p.ExitKind); !ok {
			return pairs, fmt.Errorf("%w: trace pair %d: unknown exit kind %q", types.ErrProtocolViolation, len(pairs), p.ExitKind)
		}
		pairs = append(pairs, p)
	}
}

// ReadTraceFile reads the requests of a recorded session in order.
func ReadTraceFile(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pairs, err := ReadTrace(f)
	if err != nil {
		return nil, err
	}
	msgs := make([][]byte, len(pairs))
	for i, p := range pairs {
		msgs[i] = p.Request
	}
	return msgs, nil
}
