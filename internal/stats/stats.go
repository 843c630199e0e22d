package stats

import (
	"statefuzz/internal/types"
	"sync"
	"time"
)

// StateCounters are the per-state counters of a run.
type StateCounters struct {
	Execs    uint64 `json:"execs"`
	Cycles   uint64 `json:"cycles"`
	Admitted uint64 `json:"admitted"`
	Crashes  uint64 `json:"crashes"`
	Timeouts uint64 `json:"timeouts"`
}

// Counters are the run-wide counters.
type Counters struct {
	Executions   uint64 `json:"total_executions"`
	Crashes      uint64 `json:"crashes"`
	Timeouts     uint64 `json:"timeouts"`
	Violations   uint64 `json:"protocol_violations"`
	Admitted     uint64 `json:"admitted"`
	Restarts     uint64 `json:"restarts"`
	PrefixExecs  uint64 `json:"prefix_executions"`
	Calibrations uint64 `json:"calibrations"`
}

// Stats is the statistics handle of one run. The driver records, reporters
// read copies.
type Stats struct {
	mu       sync.Mutex
	start    time.Time
	counters Counters
	perState map[types.StateRef]*StateCounters
}

func New() *Stats {
	return &Stats{
		start:    time.Now(),
		perState: make(map[types.StateRef]*StateCounters),
	}
}

func (s *Stats) state(ref types.StateRef) *StateCounters {
	c, ok := s.perState[ref]
	if !ok {
		c = &StateCounters{}
		s.perState[ref] = c
	}
	return c
}

func (s *Stats) RecordExec(ref types.StateRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Executions++
	s.state(ref).Execs++
}

func (s *Stats) RecordCycle(ref types.StateRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(ref).Cycles++
}

func (s *Stats) RecordAdmit(ref types.StateRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Admitted++
	s.state(ref).Admitted++
}

func (s *Stats) RecordCrash(ref types.StateRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Crashes++
	s.state(ref).Crashes++
}

// RecordTimeout returns the running timeout count.
func (s *Stats) RecordTimeout(ref types.StateRef) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Timeouts++
	s.state(ref).Timeouts++
	return s.counters.Timeouts
}

func (s *Stats) RecordViolation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Violations++
}

func (s *Stats) RecordRestart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Restarts++
}

func (s *Stats) RecordPrefixExec() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.PrefixExecs++
}

func (s *Stats) RecordCalibration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Calibrations++
}

func (s *Stats) Executions() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters.Executions
}

func (s *Stats) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// PerState copies the per-state counters.
func (s *Stats) PerState() map[types.StateRef]StateCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[types.StateRef]StateCounters, len(s.perState))
	for ref, c := range s.perState {
		out[ref] = *c
	}
	return out
}

func (s *Stats) Started() time.Time {
	return s.start
}
