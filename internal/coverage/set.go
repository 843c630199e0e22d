package coverage

import (
	"fmt"
	"statefuzz/internal/types"
	"sync"
)

// Layout selects how coverage is partitioned across states.
type Layout int

const (
	// SingleMap shares one map across the whole run.
	SingleMap Layout = iota
	// MapPerState attributes a transition's coverage to its destination state.
	MapPerState
)

func (l Layout) String() string {
	if l == MapPerState {
		return "map-per-state"
	}
	return "single-map"
}

// Set owns every coverage map of a run.
type Set struct {
	mu       sync.Mutex
	layout   Layout
	size     int
	global   *Map
	perState map[types.StateRef]*Map
}

func NewSet(layout Layout, size int) *Set {
	if size <= 0 {
		size = DefaultMapSize
	}
	s := &Set{
		layout:   layout,
		size:     size,
		perState: make(map[types.StateRef]*Map),
	}
	if layout == SingleMap {
		s.global = NewMap(size)
	}
	return s
}

func (s *Set) Layout() Layout { return s.layout }

func (s *Set) MapSize() int { return s.size }

// For returns the map coverage for ref is merged into, creating it lazily.
func (s *Set) For(ref types.StateRef) *Map {
	if s.layout == SingleMap {
		return s.global
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.perState[ref]
	if !ok {
		m = NewMap(s.size)
		s.perState[ref] = m
	}
	return m
}

// Merge merges trace into the map responsible for ref.
func (s *Set) Merge(ref types.StateRef, trace []byte) (bool, error) {
	if s.layout == MapPerState && ref == types.NoState {
		return false, fmt.Errorf("%w: coverage for a transition without destination", types.ErrProtocolViolation)
	}
	return s.For(ref).Merge(trace)
}

// Total is the element-wise max over all maps.
func (s *Set) Total() []byte {
	if s.layout == SingleMap {
		return s.global.Snapshot()
	}
	s.mu.Lock()
	maps := make([]*Map, 0, len(s.perState))
	for _, m := range s.perState {
		maps = append(maps, m)
	}
	s.mu.Unlock()

	total := make([]byte, s.size)
	for _, m := range maps {
		for i, b := range m.Snapshot() {
			if b > total[i] {
				total[i] = b
			}
		}
	}
	return total
}

// Coverage returns (covered edges, map size) over the whole run.
func (s *Set) Coverage() (int, int) {
	if s.layout == SingleMap {
		return s.global.Covered(), s.size
	}
	covered := 0
	for _, b := range s.Total() {
		if b != 0 {
			covered++
		}
	}
	return covered, s.size
}

// StateCoverage returns the covered edges of ref's own map. In the single
// map layout this is the run-wide figure.
func (s *Set) StateCoverage(ref types.StateRef) int {
	if s.layout == SingleMap {
		return s.global.Covered()
	}
	s.mu.Lock()
	m, ok := s.perState[ref]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return m.Covered()
}

// Percent formats covered/total as a percentage.
func Percent(covered, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total) * 100
}
