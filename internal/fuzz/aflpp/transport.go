package aflpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"statefuzz/internal/fuzz"
	"statefuzz/internal/types"
	"syscall"
	"time"
)

const (
	// replyIdle ends a reply once the server went quiet for this long.
	replyIdle = 20 * time.Millisecond
	// greetingWait bounds the wait for a banner after connecting.
	greetingWait = 50 * time.Millisecond
	// exitGrace is how long a dropped connection waits for the process to die.
	exitGrace = 100 * time.Millisecond
)

type coverageSource interface {
	reset()
	trace() []byte
}

type processMonitor interface {
	status(grace time.Duration) exitStatus
	diagnostics() []byte
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// session is a TCP protocol session with a running target.
type session struct {
	addr     string
	dial     dialFunc
	conn     net.Conn
	coverage coverageSource
	process  processMonitor
	extract  Extractor
	limit    int
	closer   func() error
}

func (s *session) Reset(ctx context.Context) error {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	conn, err := s.dial(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrTransportFailure, err)
	}
	s.conn = conn
	// drain the greeting so it is not taken for the reply to the first message
	s.readReply(ctx, greetingWait)
	return nil
}

func (s *session) Execute(ctx context.Context, input []byte) (*fuzz.Response, error) {
	if s.conn == nil {
		if err := s.Reset(ctx); err != nil {
			return nil, err
		}
	}
	s.coverage.reset()

	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
	}
	if _, err := s.conn.Write(input); err != nil {
		if resp := s.crashed(); resp != nil {
			return resp, nil
		}
		if isTimeout(err) {
			return &fuzz.Response{Outcome: types.OutcomeTimeout}, nil
		}
		s.drop()
		return nil, fmt.Errorf("%w: write: %w", types.ErrTransportFailure, err)
	}

	reply, err := s.readReply(ctx, 0)
	switch {
	case err == nil:
	case isTimeout(err) && len(reply) == 0:
		if resp := s.crashed(); resp != nil {
			return resp, nil
		}
		return &fuzz.Response{Outcome: types.OutcomeTimeout}, nil
	case isTimeout(err):
		// partial reply before the deadline
	case errors.Is(err, io.EOF) || isConnReset(err):
		if resp := s.crashed(); resp != nil {
			return resp, nil
		}
		s.drop()
		if len(reply) == 0 {
			return nil, fmt.Errorf("%w: connection closed by target", types.ErrTransportFailure)
		}
	default:
		s.drop()
		return nil, fmt.Errorf("%w: read: %w", types.ErrTransportFailure, err)
	}

	return &fuzz.Response{
		Trace:     s.coverage.trace(),
		StateHint: s.extract(reply),
		Outcome:   types.OutcomeNormal,
		Output:    reply,
	}, nil
}

// readReply reads until the server stays quiet for replyIdle after the first
// bytes, the reply limit is reached or ctx expires. With a positive wait the
// first read also gives up after wait.
func (s *session) readReply(ctx context.Context, wait time.Duration) ([]byte, error) {
	deadline, hasDeadline := ctx.Deadline()
	if wait > 0 {
		if d := time.Now().Add(wait); !hasDeadline || d.Before(deadline) {
			deadline, hasDeadline = d, true
		}
	}

	buf := make([]byte, s.limit)
	n := 0
	for n < len(buf) {
		readDeadline := time.Time{}
		if hasDeadline {
			readDeadline = deadline
		}
		idle := false
		if n > 0 {
			if d := time.Now().Add(replyIdle); !hasDeadline || d.Before(deadline) {
				readDeadline, idle = d, true
			}
		}
		s.conn.SetReadDeadline(readDeadline)

		m, err := s.conn.Read(buf[n:])
		n += m
		if err != nil {
			if idle && isTimeout(err) {
				return buf[:n], nil
			}
			return buf[:n], err
		}
	}
	return buf[:n], nil
}

// crashed returns the crash response when the target died.
func (s *session) crashed() *fuzz.Response {
	if s.process.status(exitGrace) != exitedCrashed {
		return nil
	}
	s.drop()
	return &fuzz.Response{
		Outcome:     types.OutcomeCrash,
		Diagnostics: s.process.diagnostics(),
	}
}

func (s *session) drop() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *session) Close() error {
	s.drop()
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func isConnReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ENOTCONN) ||
		errors.Is(err, net.ErrClosed)
}
