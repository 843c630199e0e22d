package fuzz

import (
	"context"
	"errors"
	"fmt"
	"statefuzz/internal/corpus"
	"statefuzz/internal/scheduler"
	"statefuzz/internal/types"
	"statefuzz/pkg/telemetry"
	"time"

	"go.uber.org/zap"
)

// errPrefixDiverged means the prefix of a state did not replay cleanly; the
// state is skipped for this iteration.
var errPrefixDiverged = errors.New("prefix replay diverged")

// maxPrefixDivergences bounds consecutive prefix failures before Run gives
// up on the target.
const maxPrefixDivergences = 100

type DriverConfig struct {
	Loops              int // executions before Run returns, 0 runs until ctx is done
	IterationsPerState int
	Timeout            time.Duration
	RestartEvery       int
	MaxRestartRetries  int
}

// Driver runs the select, mutate, execute, observe loop against one target
// process.
type Driver struct {
	engine    *Engine
	scheduler scheduler.StateScheduler
	mutator   Mutator
	handle    *transportHandle
	seeds     *corpus.Seeds
	cfg       DriverConfig
	logger    *zap.Logger

	failures int // consecutive transport failures
	diverged int // consecutive prefix replays that diverged
}

type DriverParams struct {
	Engine    *Engine
	Scheduler scheduler.StateScheduler
	Mutator   Mutator
	Launcher  Launcher
	Recorder  TraceRecorder // optional
	Seeds     *corpus.Seeds
	Config    DriverConfig
	Logger    *zap.Logger
}

func NewDriver(p DriverParams) *Driver {
	cfg := p.Config
	if cfg.IterationsPerState <= 0 {
		cfg.IterationsPerState = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 1200 * time.Millisecond
	}
	if cfg.MaxRestartRetries < 0 {
		cfg.MaxRestartRetries = 0
	}
	seeds := p.Seeds
	if seeds == nil {
		seeds = &corpus.Seeds{}
	}
	return &Driver{
		engine:    p.Engine,
		scheduler: p.Scheduler,
		mutator:   p.Mutator,
		handle:    newTransportHandle(p.Launcher, p.Recorder, cfg.RestartEvery, p.Logger),
		seeds:     seeds,
		cfg:       cfg,
		logger:    p.Logger,
	}
}

// Run fuzzes until the loop budget is spent or ctx is done. It returns an
// error wrapping types.ErrTransportFailure when the target could not be
// restarted or no state could be entered through its prefix, or
// types.ErrNoStatesAvailable when no seed reached any state.
func (d *Driver) Run(ctx context.Context) error {
	defer d.handle.release()

	tracer := telemetry.TracerFrom(ctx)
	if err := d.handle.acquire(ctx); err != nil {
		if err := d.recover(ctx, err); err != nil {
			return err
		}
	}
	if err := d.bootstrap(ctx); err != nil {
		return err
	}

	rebootstrapped := false
	stats := d.engine.Stats()
	for d.cfg.Loops == 0 || stats.Executions() < uint64(d.cfg.Loops) {
		if ctx.Err() != nil {
			return nil
		}

		ref, err := d.scheduler.Next(d.candidates())
		if errors.Is(err, types.ErrNoStatesAvailable) {
			if rebootstrapped {
				return err
			}
			d.logger.Warn("no state reachable, bootstrapping again")
			rebootstrapped = true
			if err := d.bootstrap(ctx); err != nil {
				return err
			}
			continue
		} else if err != nil {
			return err
		}

		d.engine.Graph().MarkSelected(ref, time.Now())
		stats.RecordCycle(ref)
		cycleTracer := tracer.Spawn("fuzz cycle")
		cycleTracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Fuzzing).
			WithState(string(d.engine.Graph().ID(ref))).
			WithCorpusSize(d.engine.Store().Len(ref)))
		cycleTracer.Start()

		for i := 0; i < d.cfg.IterationsPerState; i++ {
			if d.cfg.Loops > 0 && stats.Executions() >= uint64(d.cfg.Loops) {
				break
			}
			if ctx.Err() != nil {
				break
			}
			err := d.fuzzOne(ctx, ref)
			if err == nil {
				d.failures = 0
				d.diverged = 0
				continue
			}
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, errPrefixDiverged) {
				d.diverged++
				if d.diverged >= maxPrefixDivergences {
					cycleTracer.End()
					return fmt.Errorf("%w: %d prefix replays in a row failed", types.ErrTransportFailure, d.diverged)
				}
				d.logger.Debug("skipping state", zap.String("state", string(d.engine.Graph().ID(ref))), zap.Error(err))
				break
			}
			if errors.Is(err, types.ErrTransportFailure) {
				if err := d.recover(ctx, err); err != nil {
					cycleTracer.End()
					return err
				}
				break
			}
			d.logger.Warn("iteration failed", zap.Error(err))
		}
		cycleTracer.End()
	}
	return nil
}

// recover restarts the target after a transport failure. It gives up once
// MaxRestartRetries consecutive restarts did not lead to a good execution.
func (d *Driver) recover(ctx context.Context, cause error) error {
	for {
		d.failures++
		if d.failures > d.cfg.MaxRestartRetries {
			return fmt.Errorf("giving up after %d restarts: %w", d.failures-1, cause)
		}
		d.logger.Warn("restarting target",
			zap.Int("attempt", d.failures),
			zap.Error(cause))
		d.engine.Stats().RecordRestart()
		err := d.handle.restart(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cause = err
	}
}

// bootstrap replays the prefix directories and runs every seed from a fresh
// session, registering the states they reach.
func (d *Driver) bootstrap(ctx context.Context) error {
	for _, p := range d.seeds.Prefixes {
		ref, err := d.calibrate(ctx, p.Messages)
		if err != nil {
			if err := d.handleCalibrationError(ctx, err); err != nil {
				return err
			}
			continue
		}
		if ref == types.NoState {
			continue
		}
		d.engine.Graph().Add(d.engine.Graph().ID(ref), p.OutDegree)
		d.logger.Debug("prefix loaded",
			zap.String("prefix", p.Name),
			zap.String("state", string(d.engine.Graph().ID(ref))))
	}
	for _, input := range d.seeds.Inputs {
		if _, err := d.calibrate(ctx, [][]byte{input}); err != nil {
			if err := d.handleCalibrationError(ctx, err); err != nil {
				return err
			}
		}
	}
	d.logger.Info("bootstrap finished",
		zap.Int("states", d.engine.Graph().Len()),
		zap.Int("seeds", len(d.seeds.Inputs)),
		zap.Int("prefixes", len(d.seeds.Prefixes)))
	return nil
}

func (d *Driver) handleCalibrationError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, types.ErrTransportFailure) {
		return d.recover(ctx, err)
	}
	d.logger.Debug("calibration input rejected", zap.Error(err))
	return nil
}

// calibrate sends msgs from a fresh session. Coverage is merged but nothing
// is admitted and no execution is counted. It returns the state reached by
// the last message.
func (d *Driver) calibrate(ctx context.Context, msgs [][]byte) (types.StateRef, error) {
	if err := d.handle.reset(ctx); err != nil {
		return types.NoState, err
	}
	for _, msg := range msgs {
		ancestry := d.handle.ancestry()
		resp, err := d.send(ctx, msg)
		if err != nil {
			return types.NoState, err
		}
		d.engine.Stats().RecordCalibration()
		obs, err := d.engine.Evaluate(Execution{
			From:     d.handle.current,
			Target:   types.NoState,
			Input:    msg,
			Ancestry: ancestry,
			Response: resp,
		})
		if err := d.settle(ctx, obs, err); err != nil {
			return types.NoState, err
		}
		if obs.State == types.NoState {
			return types.NoState, nil
		}
	}
	d.failures = 0
	return d.handle.current, nil
}

// settle moves the session to the observed state, or restarts the target
// after a crash or a timeout.
func (d *Driver) settle(ctx context.Context, obs Observation, err error) error {
	if obs.NewCoverage || obs.Outcome == types.OutcomeCrash {
		d.handle.keep = true
	}
	if obs.Outcome != types.OutcomeNormal {
		d.engine.Stats().RecordRestart()
		return d.handle.restart(ctx)
	}
	if err != nil && !IsRecoverable(err) {
		return err
	}
	if err != nil {
		d.logger.Debug("execution discarded", zap.Error(err))
	}
	d.handle.current = obs.State
	return nil
}

// enter brings the session into ref by replaying its prefix, unless the
// session is already there.
func (d *Driver) enter(ctx context.Context, ref types.StateRef) error {
	if d.handle.alive() && d.handle.current == ref {
		return nil
	}
	if err := d.handle.reset(ctx); err != nil {
		return err
	}
	for _, msg := range d.engine.Prefix(ref) {
		resp, err := d.send(ctx, msg)
		if err != nil {
			return err
		}
		d.engine.Stats().RecordPrefixExec()
		if resp.Outcome != types.OutcomeNormal {
			d.engine.Stats().RecordRestart()
			if err := d.handle.restart(ctx); err != nil {
				return err
			}
			return fmt.Errorf("%w: %s during prefix", errPrefixDiverged, resp.Outcome)
		}
	}
	d.handle.current = ref
	return nil
}

func (d *Driver) fuzzOne(ctx context.Context, ref types.StateRef) error {
	if err := d.enter(ctx, ref); err != nil {
		return err
	}
	seed, err := d.engine.Store().SeedFor(ref)
	if err != nil {
		return err
	}
	input := d.mutator.Mutate(seed.Data)

	ancestry := d.handle.ancestry()
	resp, err := d.send(ctx, input)
	if errors.Is(err, types.ErrProtocolViolation) {
		d.engine.Stats().RecordExec(ref)
		d.engine.Stats().RecordViolation()
		d.handle.current = types.NoState
		return nil
	}
	if err != nil {
		return err
	}

	obs, err := d.engine.Evaluate(Execution{
		From:     d.handle.current,
		Target:   ref,
		Input:    input,
		Ancestry: ancestry,
		Response: resp,
		Admit:    true,
	})
	d.engine.Stats().RecordExec(ref)
	d.engine.Graph().MarkFuzzed(ref)
	if err := d.settle(ctx, obs, err); err != nil {
		return err
	}

	if d.handle.tick() {
		d.logger.Debug("periodic target restart", zap.Uint64("execs", d.engine.Stats().Executions()))
		d.engine.Stats().RecordRestart()
		return d.handle.restart(ctx)
	}
	return nil
}

func (d *Driver) send(ctx context.Context, input []byte) (*Response, error) {
	execCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	return d.handle.execute(execCtx, input)
}

// candidates lists the states with a non-empty corpus in discovery order.
func (d *Driver) candidates() []scheduler.Candidate {
	var out []scheduler.Candidate
	for _, st := range d.engine.Graph().Snapshot() {
		if d.engine.Store().Len(st.Ref) == 0 {
			continue
		}
		out = append(out, scheduler.Candidate{
			Ref:       st.Ref,
			OutDegree: st.OutDegree,
			Novel:     st.Novel,
			Covered:   d.engine.Credited(st.Ref),
		})
	}
	return out
}

// Replay sends msgs as one session from a fresh connection instead of
// mutating seeds. Every message counts as an execution and is admitted to
// the state it reached when it found new coverage. The session ends early
// on crashes and timeouts. When the target fails mid-session it is restarted
// and the session is sent again from the start, up to MaxRestartRetries
// times; past that the transport error is returned.
func (d *Driver) Replay(ctx context.Context, msgs [][]byte) error {
	for {
		err := d.replaySession(ctx, msgs)
		if err == nil {
			d.failures = 0
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := d.recover(ctx, err); err != nil {
			return err
		}
		d.logger.Debug("replaying session again", zap.Int("messages", len(msgs)))
	}
}

func (d *Driver) replaySession(ctx context.Context, msgs [][]byte) error {
	if err := d.handle.reset(ctx); err != nil {
		return err
	}
	for _, msg := range msgs {
		from := d.handle.current
		ancestry := d.handle.ancestry()
		resp, err := d.send(ctx, msg)
		if errors.Is(err, types.ErrProtocolViolation) {
			d.engine.Stats().RecordExec(from)
			d.engine.Stats().RecordViolation()
			return nil
		}
		if err != nil {
			return err
		}

		obs, err := d.engine.Evaluate(Execution{
			From:     from,
			Target:   types.NoState,
			Input:    msg,
			Ancestry: ancestry,
			Response: resp,
			Admit:    true,
		})
		if obs.State != types.NoState {
			d.engine.Stats().RecordExec(obs.State)
		} else {
			d.engine.Stats().RecordExec(from)
		}
		if err := d.settle(ctx, obs, err); err != nil {
			return err
		}
		if obs.Outcome != types.OutcomeNormal {
			return nil
		}
	}
	return nil
}

// Close stops the target process.
func (d *Driver) Close() {
	d.handle.release()
}
