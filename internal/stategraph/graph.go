package stategraph

import (
	"statefuzz/internal/types"
	"sync"
	"time"
)

// State is a node of the inferred protocol state machine.
type State struct {
	Ref          types.StateRef
	ID           types.StateID
	OutDegree    int
	Novel        bool // true until the state was fuzzed once
	Selections   uint64
	LastSelected time.Time
	Parent       types.StateRef // first predecessor, NoState for roots
}

// Edge is an observed transition.
type Edge struct {
	From types.StateRef
	To   types.StateRef
}

// Graph is an arena of states addressed by StateRef. States and edges are
// never removed. All methods are safe for concurrent use.
type Graph struct {
	mu      sync.RWMutex
	states  []*State
	index   map[types.StateID]types.StateRef
	edges   map[Edge]uint64
	unknown types.StateRef
}

func New() *Graph {
	return &Graph{
		index:   make(map[types.StateID]types.StateRef),
		edges:   make(map[Edge]uint64),
		unknown: types.NoState,
	}
}

// ObserveTransition registers (or looks up) the destination state and the
// edge from -> to. The source's out-degree grows on the first sighting of
// each distinct edge. An empty id is attributed to the unknown sink.
// The boolean reports whether the destination was discovered by this call.
func (g *Graph) ObserveTransition(from types.StateRef, to types.StateID) (types.StateRef, bool) {
	if to == "" {
		to = types.UnknownState
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	dst, created := g.lookupOrAdd(to, from)
	if from == types.NoState || !g.valid(from) {
		return dst, created
	}

	e := Edge{from, dst}
	if g.edges[e] == 0 {
		g.states[from].OutDegree++
	}
	g.edges[e]++
	return dst, created
}

// Add registers a state without an edge, e.g. one loaded from disk. A
// positive outDegree hint raises the initial out-degree.
func (g *Graph) Add(id types.StateID, outDegree int) (types.StateRef, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, created := g.lookupOrAdd(id, types.NoState)
	if outDegree > g.states[ref].OutDegree {
		g.states[ref].OutDegree = outDegree
	}
	return ref, created
}

func (g *Graph) lookupOrAdd(id types.StateID, parent types.StateRef) (types.StateRef, bool) {
	if ref, ok := g.index[id]; ok {
		return ref, false
	}
	ref := types.StateRef(len(g.states))
	g.states = append(g.states, &State{
		Ref:    ref,
		ID:     id,
		Novel:  true,
		Parent: parent,
	})
	g.index[id] = ref
	if id == types.UnknownState {
		g.unknown = ref
	}
	return ref, true
}

func (g *Graph) valid(ref types.StateRef) bool {
	return ref >= 0 && int(ref) < len(g.states)
}

// MarkSelected records a scheduler pick.
func (g *Graph) MarkSelected(ref types.StateRef, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.valid(ref) {
		return
	}
	g.states[ref].Selections++
	g.states[ref].LastSelected = at
}

// MarkFuzzed clears the novelty flag.
func (g *Graph) MarkFuzzed(ref types.StateRef) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.valid(ref) {
		g.states[ref].Novel = false
	}
}

func (g *Graph) OutDegree(ref types.StateRef) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.valid(ref) {
		return 0
	}
	return g.states[ref].OutDegree
}

func (g *Graph) IsNovel(ref types.StateRef) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.valid(ref) && g.states[ref].Novel
}

// Lookup finds the handle of a known state.
func (g *Graph) Lookup(id types.StateID) (types.StateRef, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ref, ok := g.index[id]
	return ref, ok
}

// ID returns the identifier of ref, or "" for an invalid handle.
func (g *Graph) ID(ref types.StateRef) types.StateID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.valid(ref) {
		return ""
	}
	return g.states[ref].ID
}

// Unknown returns the sink state handle, NoState if it was never needed.
func (g *Graph) Unknown() types.StateRef {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.unknown
}

func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.states)
}

// Snapshot copies all states in discovery order.
func (g *Graph) Snapshot() []State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]State, len(g.states))
	for i, s := range g.states {
		out[i] = *s
	}
	return out
}

// EdgeCount returns how often from -> to was observed.
func (g *Graph) EdgeCount(from, to types.StateRef) uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[Edge{from, to}]
}

// Edges copies the edge table.
func (g *Graph) Edges() map[Edge]uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[Edge]uint64, len(g.edges))
	for e, n := range g.edges {
		out[e] = n
	}
	return out
}
