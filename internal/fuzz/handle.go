package fuzz

import (
	"context"
	"fmt"
	"statefuzz/internal/types"

	"go.uber.org/zap"
)

// transportHandle owns the live target process of a driver. It tracks the
// session the process is in and restarts the process after restartEvery
// iterations.
type transportHandle struct {
	launcher     Launcher
	transport    Transport
	recorder     TraceRecorder
	restartEvery int
	iterations   int
	logger       *zap.Logger

	current types.StateRef // session state, NoState right after a reset
	sent    [][]byte       // messages sent since the last reset
	keep    bool           // whether the session trace is worth keeping
}

func newTransportHandle(launcher Launcher, recorder TraceRecorder, restartEvery int, logger *zap.Logger) *transportHandle {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &transportHandle{
		launcher:     launcher,
		recorder:     recorder,
		restartEvery: restartEvery,
		logger:       logger,
		current:      types.NoState,
	}
}

func (h *transportHandle) alive() bool {
	return h.transport != nil
}

func (h *transportHandle) acquire(ctx context.Context) error {
	if h.transport != nil {
		return nil
	}
	t, err := h.launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("%w: launch: %w", types.ErrTransportFailure, err)
	}
	h.transport = t
	h.iterations = 0
	h.beginSession()
	return nil
}

// release tears the process down. It is safe to call on every exit path.
func (h *transportHandle) release() {
	h.endSession()
	if h.transport == nil {
		return
	}
	if err := h.transport.Close(); err != nil {
		h.logger.Debug("failed to close transport", zap.Error(err))
	}
	h.transport = nil
	h.current = types.NoState
}

func (h *transportHandle) restart(ctx context.Context) error {
	h.release()
	return h.acquire(ctx)
}

// reset starts a fresh session on the running process.
func (h *transportHandle) reset(ctx context.Context) error {
	if err := h.acquire(ctx); err != nil {
		return err
	}
	h.endSession()
	if err := h.transport.Reset(ctx); err != nil {
		return fmt.Errorf("%w: reset: %w", types.ErrTransportFailure, err)
	}
	h.beginSession()
	return nil
}

func (h *transportHandle) execute(ctx context.Context, input []byte) (*Response, error) {
	if err := h.acquire(ctx); err != nil {
		return nil, err
	}
	resp, err := h.transport.Execute(ctx, input)
	if err != nil {
		return nil, err
	}
	h.recorder.Record(input, resp)
	h.sent = append(h.sent, input)
	return resp, nil
}

// ancestry copies the messages sent since the last reset.
func (h *transportHandle) ancestry() [][]byte {
	return append([][]byte(nil), h.sent...)
}

// tick counts an iteration and reports whether a restart is due.
func (h *transportHandle) tick() bool {
	h.iterations++
	return h.restartEvery > 0 && h.iterations >= h.restartEvery
}

func (h *transportHandle) beginSession() {
	h.current = types.NoState
	h.sent = nil
	h.keep = false
}

func (h *transportHandle) endSession() {
	if len(h.sent) == 0 {
		return
	}
	if err := h.recorder.EndSession(h.keep); err != nil {
		h.logger.Warn("failed to store session trace", zap.Error(err))
	}
	h.sent = nil
	h.keep = false
}
