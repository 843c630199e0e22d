package aflpp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"statefuzz/config"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	stderrTail  = 16 << 10
	stopTimeout = 2 * time.Second
)

type exitStatus int

const (
	running exitStatus = iota
	exitedClean
	exitedCrashed
)

// crashMarkers in the stderr of a target that exited on its own mark the
// exit as a crash: Go panics and sanitizer reports exit instead of raising a
// signal.
var crashMarkers = [][]byte{
	[]byte("panic: "),
	[]byte("fatal error: "),
	[]byte("ERROR: AddressSanitizer"),
	[]byte("ERROR: UndefinedBehaviorSanitizer"),
	[]byte("ERROR: MemorySanitizer"),
}

// crashSignals are the terminating signals that count as a target crash.
var crashSignals = map[syscall.Signal]bool{
	syscall.SIGSEGV: true,
	syscall.SIGABRT: true,
	syscall.SIGBUS:  true,
	syscall.SIGILL:  true,
	syscall.SIGFPE:  true,
	syscall.SIGTRAP: true,
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.buf...)
}

// targetProcess is one running instance of the instrumented server.
type targetProcess struct {
	cmd        *exec.Cmd
	stderr     *tailBuffer
	killSignal syscall.Signal
	exited     chan struct{}
	waitErr    error
	logger     *zap.Logger
}

func startTarget(cfg config.TargetConfig, shmID int, logger *zap.Logger) (*targetProcess, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("no target command configured")
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Env = append(os.Environ(), targetEnv(cfg, shmID)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p := &targetProcess{
		cmd:        cmd,
		stderr:     &tailBuffer{max: stderrTail},
		killSignal: cfg.KillSignal,
		exited:     make(chan struct{}),
		logger:     logger,
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = p.stderr
	if cfg.DebugChild {
		cmd.Stdout = os.Stdout
		cmd.Stderr = io.MultiWriter(p.stderr, os.Stderr)
	}

	logger.Debug("starting target", zap.String("command", cmd.String()))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start target: %w", err)
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

// targetEnv builds the extra environment of the target in a stable order.
func targetEnv(cfg config.TargetConfig, shmID int) []string {
	env := []string{
		fmt.Sprintf("__AFL_SHM_ID=%d", shmID),
		fmt.Sprintf("AFL_MAP_SIZE=%d", cfg.MapSize),
	}
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+cfg.Env[k])
	}
	return env
}

// status reports whether the process is gone, waiting up to grace for it to
// exit.
func (p *targetProcess) status(grace time.Duration) exitStatus {
	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-p.exited:
		case <-timer.C:
			return running
		}
	} else {
		select {
		case <-p.exited:
		default:
			return running
		}
	}

	if ws, ok := p.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		if crashSignals[ws.Signal()] {
			return exitedCrashed
		}
		return exitedClean
	}
	if p.cmd.ProcessState.ExitCode() != 0 {
		tail := p.stderr.Bytes()
		for _, marker := range crashMarkers {
			if bytes.Contains(tail, marker) {
				return exitedCrashed
			}
		}
	}
	return exitedClean
}

func (p *targetProcess) diagnostics() []byte {
	return p.stderr.Bytes()
}

// stop sends the kill signal to the process group and waits for the exit,
// escalating to SIGKILL after stopTimeout.
func (p *targetProcess) stop() error {
	select {
	case <-p.exited:
		return nil
	default:
	}

	pid := p.cmd.Process.Pid
	_ = syscall.Kill(-pid, p.killSignal)

	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-timer.C:
		p.logger.Warn("target ignored kill signal, sending SIGKILL", zap.Int("pid", pid))
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		<-p.exited
		return nil
	}
}
