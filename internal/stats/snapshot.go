package stats

import (
	"statefuzz/internal/corpus"
	"statefuzz/internal/coverage"
	"statefuzz/internal/stategraph"
	"statefuzz/internal/types"
	"time"
)

// StateSnapshot describes one state at snapshot time.
type StateSnapshot struct {
	Ref        types.StateRef `json:"ref"`
	ID         string         `json:"id"`
	OutDegree  int            `json:"out_degree"`
	Novel      bool           `json:"novel"`
	CorpusSize int            `json:"corpus_size"`
	Covered    int            `json:"covered"`
	Coverage   float64        `json:"coverage"`
	StateCounters
}

// Snapshot is one point of the stats.json time series.
type Snapshot struct {
	Timestamp   time.Time       `json:"timestamp"`
	RunID       string          `json:"run_id"`
	Elapsed     float64         `json:"elapsed_seconds"`
	ExecsPerSec float64         `json:"execs_per_sec"`
	Covered     int             `json:"covered"`
	MapSize     int             `json:"map_size"`
	Coverage    float64         `json:"coverage"`
	StateCount  int             `json:"state_count"`
	EdgeCount   int             `json:"edge_count"`
	CorpusSize  int             `json:"corpus_size"`
	States      []StateSnapshot `json:"states"`
	Counters
}

// Run bundles the components a snapshot is taken from.
type Run struct {
	ID       string
	Stats    *Stats
	Graph    *stategraph.Graph
	Coverage *coverage.Set
	Store    *corpus.Store
}

// Collect takes a snapshot of r. States are listed in discovery order.
func Collect(r *Run) Snapshot {
	now := time.Now()
	counters := r.Stats.Counters()
	perState := r.Stats.PerState()
	covered, total := r.Coverage.Coverage()
	sizes := r.Store.Sizes()

	snap := Snapshot{
		Timestamp:  now,
		RunID:      r.ID,
		Elapsed:    now.Sub(r.Stats.Started()).Seconds(),
		Covered:    covered,
		MapSize:    total,
		Coverage:   coverage.Percent(covered, total),
		StateCount: r.Graph.Len(),
		EdgeCount:  len(r.Graph.Edges()),
		CorpusSize: r.Store.Total(),
		Counters:   counters,
	}
	if snap.Elapsed > 0 {
		snap.ExecsPerSec = float64(counters.Executions) / snap.Elapsed
	}

	for _, st := range r.Graph.Snapshot() {
		stateCovered := r.Coverage.StateCoverage(st.Ref)
		corpusSize := r.Store.Len(st.Ref)
		if r.Store.Mode() == corpus.Single {
			corpusSize = sizes[st.Ref]
		}
		snap.States = append(snap.States, StateSnapshot{
			Ref:           st.Ref,
			ID:            string(st.ID),
			OutDegree:     st.OutDegree,
			Novel:         st.Novel,
			CorpusSize:    corpusSize,
			Covered:       stateCovered,
			Coverage:      coverage.Percent(stateCovered, total),
			StateCounters: perState[st.Ref],
		})
	}
	return snap
}
