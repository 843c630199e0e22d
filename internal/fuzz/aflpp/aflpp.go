package aflpp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"statefuzz/config"
	"statefuzz/internal/fuzz"
	"statefuzz/internal/types"
	"strconv"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const connectRetryInterval = 50 * time.Millisecond

// AFLLauncher starts AFL++ instrumented network servers. Each launch gets a
// fresh coverage segment and a fresh process.
type AFLLauncher struct {
	logger    *zap.Logger
	target    config.TargetConfig
	extractor Extractor
	dialer    net.Dialer
}

type AFLLauncherParams struct {
	fx.In

	Logger    *zap.Logger
	AppConfig *config.AppConfig
}

func NewAFLLauncher(params AFLLauncherParams) *AFLLauncher {
	target := params.AppConfig.Target
	extractor, err := NewExtractor(target.StateExtractor)
	if err != nil {
		params.Logger.Fatal("invalid state extractor", zap.Error(err))
		return nil
	}
	if len(target.Command) == 0 {
		params.Logger.Fatal("no target command given")
		return nil
	}

	return &AFLLauncher{
		logger:    params.Logger,
		target:    target,
		extractor: extractor,
	}
}

func (l *AFLLauncher) addr() string {
	return net.JoinHostPort(l.target.Host, strconv.Itoa(l.target.Port))
}

// Launch starts the target and waits until it accepts connections.
func (l *AFLLauncher) Launch(ctx context.Context) (fuzz.Transport, error) {
	bm, err := newBitmap(l.target.MapSize)
	if err != nil {
		return nil, err
	}
	proc, err := startTarget(l.target, bm.id, l.logger)
	if err != nil {
		bm.Close()
		return nil, err
	}
	cleanup := func() error {
		return errors.Join(proc.stop(), bm.Close())
	}

	if err := l.waitReady(ctx, proc); err != nil {
		cleanup()
		return nil, err
	}
	l.logger.Debug("target ready", zap.String("addr", l.addr()), zap.Int("pid", proc.cmd.Process.Pid))

	return &session{
		addr:     l.addr(),
		dial:     l.dialer.DialContext,
		coverage: bm,
		process:  proc,
		extract:  l.extractor,
		limit:    l.target.ResponseLimit,
		closer:   cleanup,
	}, nil
}

// waitReady polls the target port until a connection succeeds, the process
// exits or ConnectTimeout passes.
func (l *AFLLauncher) waitReady(ctx context.Context, proc *targetProcess) error {
	readyCtx, cancel := context.WithTimeout(ctx, l.target.ConnectTimeout)
	defer cancel()

	for {
		conn, err := l.dialer.DialContext(readyCtx, "tcp", l.addr())
		if err == nil {
			conn.Close()
			return nil
		}
		if proc.status(0) != running {
			return fmt.Errorf("%w: target exited before accepting connections", types.ErrTransportFailure)
		}
		select {
		case <-readyCtx.Done():
			return fmt.Errorf("%w: target not listening on %s: %w", types.ErrTransportFailure, l.addr(), err)
		case <-time.After(connectRetryInterval):
		}
	}
}

var AFLModule = fx.Options(
	fx.Provide(fx.Annotate(NewAFLLauncher, fx.As(new(fuzz.Launcher)))),
)
