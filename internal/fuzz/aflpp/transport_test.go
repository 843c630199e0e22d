package aflpp

import (
	"bufio"
	"context"
	"errors"
	"net"
	"statefuzz/internal/types"
	"strings"
	"testing"
	"time"
)

type fakeCoverage struct {
	resets int
	bits   []byte
}

func (c *fakeCoverage) reset()        { c.resets++ }
func (c *fakeCoverage) trace() []byte { return append([]byte(nil), c.bits...) }

type fakeProcess struct {
	state exitStatus
}

func (p *fakeProcess) status(time.Duration) exitStatus { return p.state }
func (p *fakeProcess) diagnostics() []byte             { return []byte("panic: boom") }

// lineServer answers every line with reply(line). A nil reply keeps quiet,
// a reply of "" closes the connection.
type lineServer struct {
	greeting string
	reply    func(line string) *string
	dials    int
}

func (ls *lineServer) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	ls.dials++
	client, server := net.Pipe()
	go ls.serve(server)
	return client, nil
}

func (ls *lineServer) serve(conn net.Conn) {
	defer conn.Close()
	if ls.greeting != "" {
		if _, err := conn.Write([]byte(ls.greeting)); err != nil {
			return
		}
	}
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		reply := ls.reply(strings.TrimRight(line, "\r\n"))
		if reply == nil {
			continue
		}
		if *reply == "" {
			return
		}
		if _, err := conn.Write([]byte(*reply)); err != nil {
			return
		}
	}
}

func str(s string) *string { return &s }

func newTestSession(ls *lineServer, proc *fakeProcess) (*session, *fakeCoverage) {
	cov := &fakeCoverage{bits: []byte{0, 1, 0, 2}}
	return &session{
		addr:     "pipe",
		dial:     ls.dial,
		coverage: cov,
		process:  proc,
		extract:  ReplyCode,
		limit:    4096,
	}, cov
}

func execCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func TestSessionExecute(t *testing.T) {
	ls := &lineServer{
		greeting: "220 ready\r\n",
		reply: func(line string) *string {
			if strings.HasPrefix(line, "USER") {
				return str("331 password required\r\n")
			}
			return str("500 unknown\r\n")
		},
	}
	s, cov := newTestSession(ls, &fakeProcess{})
	defer s.Close()

	if err := s.Reset(context.Background()); err != nil {
		t.Fatal(err)
	}
	resp, err := s.Execute(execCtx(t), []byte("USER anonymous\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Outcome != types.OutcomeNormal {
		t.Fatalf("outcome = %v", resp.Outcome)
	}
	if resp.StateHint != "331" {
		t.Errorf("state = %q, the greeting must not be taken for the reply", resp.StateHint)
	}
	if len(resp.Trace) != 4 || resp.Trace[3] != 2 {
		t.Errorf("trace = %v", resp.Trace)
	}

	resp, err = s.Execute(execCtx(t), []byte("NOOP\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StateHint != "500" {
		t.Errorf("state = %q", resp.StateHint)
	}
	if cov.resets != 2 {
		t.Errorf("coverage resets = %d, want one per execution", cov.resets)
	}
	if ls.dials != 1 {
		t.Errorf("dials = %d, want 1", ls.dials)
	}
}

func TestSessionTimeout(t *testing.T) {
	ls := &lineServer{reply: func(string) *string { return nil }}
	s, _ := newTestSession(ls, &fakeProcess{})
	defer s.Close()
	if err := s.Reset(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	resp, err := s.Execute(ctx, []byte("HELO\n"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Outcome != types.OutcomeTimeout {
		t.Errorf("outcome = %v, want timeout", resp.Outcome)
	}
}

func TestSessionCrash(t *testing.T) {
	ls := &lineServer{reply: func(string) *string { return str("") }}
	s, _ := newTestSession(ls, &fakeProcess{state: exitedCrashed})
	defer s.Close()

	resp, err := s.Execute(execCtx(t), []byte("BOOM\n"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Outcome != types.OutcomeCrash {
		t.Fatalf("outcome = %v, want crash", resp.Outcome)
	}
	if string(resp.Diagnostics) != "panic: boom" {
		t.Errorf("diagnostics = %q", resp.Diagnostics)
	}
	if s.conn != nil {
		t.Errorf("connection kept after crash")
	}
}

func TestSessionClosedWithoutCrash(t *testing.T) {
	ls := &lineServer{reply: func(string) *string { return str("") }}
	s, _ := newTestSession(ls, &fakeProcess{state: running})
	defer s.Close()

	_, err := s.Execute(execCtx(t), []byte("QUIT\n"))
	if !errors.Is(err, types.ErrTransportFailure) {
		t.Fatalf("err = %v, want ErrTransportFailure", err)
	}

	// the next execution reconnects
	ls.reply = func(string) *string { return str("200 ok\r\n") }
	resp, err := s.Execute(execCtx(t), []byte("NOOP\n"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StateHint != "200" || ls.dials != 2 {
		t.Errorf("state = %q, dials = %d", resp.StateHint, ls.dials)
	}
}

func TestSessionDialFailure(t *testing.T) {
	s := &session{
		dial: func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	}
	if err := s.Reset(context.Background()); !errors.Is(err, types.ErrTransportFailure) {
		t.Fatalf("err = %v, want ErrTransportFailure", err)
	}
}
