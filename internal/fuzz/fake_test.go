package fuzz

import (
	"context"
	"errors"
	"hash/fnv"
	"statefuzz/internal/types"
)

const testMapSize = 256

// stepFunc is the protocol of a scripted target: the reply state and outcome
// for input sent while the session is in from ("" after a reset).
type stepFunc func(from types.StateID, input []byte) (types.StateID, types.Outcome)

// fakeTarget launches in-memory transports running step.
type fakeTarget struct {
	step       stepFunc
	launches   int
	resets     int
	executions int
	failLaunch int // launches left to fail, -1 fails forever
	dropAt     int // the execution that loses the connection once, 0 never
}

func (f *fakeTarget) Launch(ctx context.Context) (Transport, error) {
	f.launches++
	if f.failLaunch != 0 {
		if f.failLaunch > 0 {
			f.failLaunch--
		}
		return nil, errors.New("target binary missing")
	}
	return &fakeTransport{target: f}, nil
}

type fakeTransport struct {
	target *fakeTarget
	state  types.StateID
	closed bool
}

func (t *fakeTransport) Reset(ctx context.Context) error {
	t.target.resets++
	t.state = ""
	return nil
}

func (t *fakeTransport) Execute(ctx context.Context, input []byte) (*Response, error) {
	if t.closed {
		return nil, types.ErrTransportFailure
	}
	if t.target.dropAt > 0 && t.target.executions+1 == t.target.dropAt {
		t.target.dropAt = 0
		t.closed = true
		return nil, types.ErrTransportFailure
	}
	t.target.executions++
	next, outcome := t.target.step(t.state, input)
	if outcome != types.OutcomeNormal {
		return &Response{Outcome: outcome, Diagnostics: []byte("boom")}, nil
	}
	trace := make([]byte, testMapSize)
	trace[edgeIndex(string(t.state), string(next))]++
	if len(input) > 0 {
		trace[edgeIndex(string(next), string(input[:1]))]++
	}
	t.state = next
	return &Response{Trace: trace, StateHint: next, Output: []byte(next)}, nil
}

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

func edgeIndex(a, b string) int {
	h := fnv.New32a()
	h.Write([]byte(a + "->" + b))
	return int(h.Sum32() % testMapSize)
}

// countingMutator appends a counter byte so every input differs.
type countingMutator struct {
	n byte
}

func (m *countingMutator) Mutate(input []byte) []byte {
	m.n++
	return append(append([]byte(nil), input...), m.n)
}

type memRecorder struct {
	pairs    int
	sessions int
	kept     int
}

func (r *memRecorder) Record(req []byte, resp *Response) { r.pairs++ }

func (r *memRecorder) EndSession(keep bool) error {
	r.sessions++
	if keep {
		r.kept++
	}
	return nil
}
