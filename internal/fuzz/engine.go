package fuzz

import (
	"errors"
	"statefuzz/internal/corpus"
	"statefuzz/internal/coverage"
	"statefuzz/internal/stategraph"
	"statefuzz/internal/stats"
	"statefuzz/internal/types"
	"statefuzz/pkg/telemetry"
	"sync"

	"go.uber.org/zap"
)

// Execution is one executed message and where it was sent from.
type Execution struct {
	From     types.StateRef // session state before the message, NoState after a reset
	Target   types.StateRef // state the input was generated for, NoState when replaying
	Input    []byte
	Ancestry [][]byte // messages sent earlier in the same session
	Response *Response
	Admit    bool // whether new coverage may add Input to the corpus
}

// Observation is what the engine learned from an execution.
type Observation struct {
	State       types.StateRef // destination state, NoState on timeouts and crashes
	NewState    bool
	NewCoverage bool
	NewBits     int
	Admitted    bool
	Outcome     types.Outcome
}

// Engine owns the run state shared by the driver and the replayer: state
// graph, coverage maps, corpora and statistics. Evaluate is atomic with
// respect to other Evaluate calls.
type Engine struct {
	mu       sync.Mutex
	runID    string
	graph    *stategraph.Graph
	coverage *coverage.Set
	store    *corpus.Store
	stats    *stats.Stats
	prefixes map[types.StateRef][][]byte
	credited map[types.StateRef]int

	crashes chan<- types.CrashMessage
	seeds   chan<- types.SeedMessage
	tracer  telemetry.Tracer
	logger  *zap.Logger
}

type EngineParams struct {
	RunID    string
	Graph    *stategraph.Graph
	Coverage *coverage.Set
	Store    *corpus.Store
	Stats    *stats.Stats
	Crashes  chan<- types.CrashMessage // optional
	Seeds    chan<- types.SeedMessage  // optional
	Tracer   telemetry.Tracer          // optional
	Logger   *zap.Logger
}

func NewEngine(p EngineParams) *Engine {
	tracer := p.Tracer
	if tracer == nil {
		tracer = &telemetry.DummyTracer{}
	}
	return &Engine{
		runID:    p.RunID,
		graph:    p.Graph,
		coverage: p.Coverage,
		store:    p.Store,
		stats:    p.Stats,
		prefixes: make(map[types.StateRef][][]byte),
		credited: make(map[types.StateRef]int),
		crashes:  p.Crashes,
		seeds:    p.Seeds,
		tracer:   tracer,
		logger:   p.Logger,
	}
}

func (e *Engine) RunID() string                { return e.runID }
func (e *Engine) Graph() *stategraph.Graph     { return e.graph }
func (e *Engine) Coverage() *coverage.Set      { return e.coverage }
func (e *Engine) Store() *corpus.Store         { return e.store }
func (e *Engine) Stats() *stats.Stats          { return e.stats }

func (e *Engine) Run() *stats.Run {
	return &stats.Run{ID: e.runID, Stats: e.stats, Graph: e.graph, Coverage: e.coverage, Store: e.store}
}

// Prefix returns the messages that lead a fresh session into ref.
func (e *Engine) Prefix(ref types.StateRef) [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prefixes[ref]
}

// Credited is the number of coverage bits admitted inputs contributed to ref.
func (e *Engine) Credited(ref types.StateRef) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.credited[ref]
}

// Evaluate updates the run with the outcome of one execution: it records
// timeouts and crashes, registers the transition, merges coverage into the
// map of the destination state and admits the input when the merge found new
// coverage.
func (e *Engine) Evaluate(x Execution) (Observation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	resp := x.Response
	obs := Observation{State: types.NoState, Outcome: resp.Outcome}
	recordRef := x.Target
	if recordRef == types.NoState {
		recordRef = x.From
	}

	switch resp.Outcome {
	case types.OutcomeTimeout:
		n := e.stats.RecordTimeout(recordRef)
		if n < 20 || n%20 == 0 {
			e.logger.Warn("execution timed out",
				zap.String("state", string(e.graph.ID(recordRef))),
				zap.Uint64("timeouts", n))
		}
		return obs, types.ErrExecutionTimeout
	case types.OutcomeCrash:
		e.reportCrash(x, recordRef)
		return obs, nil
	}

	dst, created := e.graph.ObserveTransition(x.From, resp.StateHint)
	obs.State = dst
	obs.NewState = created
	if created {
		e.onNewState(x, dst)
	}

	m := e.coverage.For(dst)
	before := m.Covered()
	fresh, err := e.coverage.Merge(dst, resp.Trace)
	if err != nil {
		e.stats.RecordViolation()
		return obs, err
	}
	if !fresh {
		return obs, nil
	}
	obs.NewCoverage = true
	obs.NewBits = max(m.Covered()-before, 1)

	if !x.Admit {
		return obs, nil
	}
	owner := x.Target
	if owner == types.NoState {
		owner = dst
	}
	obs.Admitted = e.store.Admit(corpus.Entry{Data: x.Input, NewBits: obs.NewBits}, owner)
	if obs.Admitted {
		e.credited[owner] += obs.NewBits
		e.stats.RecordAdmit(owner)
		e.publishSeed(x.Input, owner, obs.NewBits)
	}
	return obs, nil
}

func (e *Engine) onNewState(x Execution, dst types.StateRef) {
	prefix := append([][]byte(nil), e.prefixes[x.From]...)
	e.prefixes[dst] = append(prefix, append([]byte(nil), x.Input...))

	// states reached from a fresh session start from the initial seeds when
	// there are any
	executing := &corpus.Entry{Data: x.Input}
	if x.From == types.NoState && e.store.PoolSize() > 0 {
		executing = nil
	}
	e.store.Discover(dst, executing)

	id := e.graph.ID(dst)
	e.logger.Info("new state discovered",
		zap.String("state", string(id)),
		zap.String("from", string(e.graph.ID(x.From))),
		zap.Int("states", e.graph.Len()))
	e.tracer.AddEvent("new_state", telemetry.NewEventAttributes(map[string]string{
		"fuzz.state": string(id),
	}))
}

func (e *Engine) reportCrash(x Execution, ref types.StateRef) {
	e.stats.RecordCrash(ref)
	counters := e.stats.Counters()
	if counters.Crashes == 1 {
		e.tracer.AddEvent("first_crash_found", telemetry.NewEventAttributes(map[string]string{
			"fuzz.state": string(e.graph.ID(ref)),
		}))
	}
	e.logger.Info("target crashed",
		zap.String("state", string(e.graph.ID(ref))),
		zap.Uint64("crashes", counters.Crashes))
	if e.crashes == nil {
		return
	}

	ancestry := make([][]byte, len(x.Ancestry))
	for i, msg := range x.Ancestry {
		ancestry[i] = append([]byte(nil), msg...)
	}
	e.crashes <- types.CrashMessage{
		RunID:    e.runID,
		Input:    append([]byte(nil), x.Input...),
		Ancestry: ancestry,
		State:    e.graph.ID(ref),
		Outcome:  x.Response.Outcome,
		Output:   append([]byte(nil), x.Response.Diagnostics...),
		Exec:     counters.Executions,
	}
}

func (e *Engine) publishSeed(input []byte, ref types.StateRef, newBits int) {
	if e.seeds == nil {
		return
	}
	e.seeds <- types.SeedMessage{
		RunID:   e.runID,
		Input:   append([]byte(nil), input...),
		State:   e.graph.ID(ref),
		NewBits: newBits,
	}
}

// SetPrefix records a known path into ref unless one exists.
func (e *Engine) SetPrefix(ref types.StateRef, msgs [][]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.prefixes[ref]; ok {
		return
	}
	e.prefixes[ref] = msgs
}

// IsRecoverable tells whether err from Evaluate leaves the run intact.
func IsRecoverable(err error) bool {
	return err == nil || errors.Is(err, types.ErrExecutionTimeout) || errors.Is(err, types.ErrProtocolViolation)
}
