package scheduler

import (
	"fmt"
	"math/rand"
	"statefuzz/internal/types"
)

// Policy names a state selection algorithm.
type Policy string

const (
	Cycler        Policy = "cycler"
	OutgoingEdges Policy = "outgoing-edges"
	NoveltySearch Policy = "novelty-search"
	NoveltyOE     Policy = "novelty+outgoing-edges"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case Cycler, OutgoingEdges, NoveltySearch, NoveltyOE:
		return p, nil
	}
	return "", fmt.Errorf("unknown state scheduler %q", s)
}

// Candidate is the scheduler's view of one state: a snapshot of graph
// metadata taken by the driver. Only states with a non-empty corpus are
// offered, in discovery order.
type Candidate struct {
	Ref       types.StateRef
	OutDegree int
	Novel     bool
	Covered   int // coverage bits credited to the state
}

// StateScheduler picks the state to fuzz next. Implementations hold only
// policy-local counters and perform no I/O.
type StateScheduler interface {
	Next(candidates []Candidate) (types.StateRef, error)
	Policy() Policy
}

// New builds the scheduler for policy. weighted switches the explored pool of
// novelty-search from uniform to coverage-gain weighting.
func New(policy Policy, rng *rand.Rand, weighted bool) (StateScheduler, error) {
	switch policy {
	case Cycler:
		return newCycler(), nil
	case OutgoingEdges:
		return newOutgoingEdges(rng), nil
	case NoveltySearch:
		return newNovelty(policy, rng, weighted), nil
	case NoveltyOE:
		return newNovelty(policy, rng, weighted), nil
	}
	return nil, fmt.Errorf("unknown state scheduler %q", policy)
}
