package fuzz

import (
	"context"
	"statefuzz/internal/mutator"
	"statefuzz/internal/types"
)

// Response is what the transport observed for one sent message.
type Response struct {
	Trace       []byte        // raw edge hit counts of this message, map sized
	StateHint   types.StateID // "" when no state could be extracted
	Outcome     types.Outcome
	Output      []byte // raw reply bytes
	Diagnostics []byte // tail of the target's stderr, set on crashes
}

// Transport talks to one live target process.
//
// Execute must respect the deadline of ctx: a target that does not answer in
// time is reported as OutcomeTimeout, not as an error. Errors wrap
// types.ErrTransportFailure (process or connection gone) or
// types.ErrProtocolViolation (unusable reply).
type Transport interface {
	// Reset starts a fresh protocol session against the running target.
	Reset(ctx context.Context) error
	Execute(ctx context.Context, input []byte) (*Response, error)
	// Close terminates the target process and releases its resources.
	Close() error
}

// Launcher starts target processes.
type Launcher interface {
	Launch(ctx context.Context) (Transport, error)
}

type Mutator = mutator.Mutator

// TraceRecorder receives every request/response pair of a session.
type TraceRecorder interface {
	Record(req []byte, resp *Response)
	// EndSession finishes the current session, keeping its trace when keep
	// is set.
	EndSession(keep bool) error
}

type nopRecorder struct{}

func (nopRecorder) Record([]byte, *Response) {}
func (nopRecorder) EndSession(bool) error    { return nil }
