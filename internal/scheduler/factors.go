package scheduler

import "statefuzz/internal/types"

// OutDegreeFactor favours states with many observed successors. The +1 keeps
// states without observed successors reachable.
type OutDegreeFactor struct{}

func (f *OutDegreeFactor) Score(candidates []Candidate) []float64 {
	score := make([]float64, len(candidates))
	for idx, c := range candidates {
		score[idx] = float64(c.OutDegree + 1)
	}
	return score
}

// CoverageGainFactor favours states whose coverage grew since they were last
// selected.
type CoverageGainFactor struct {
	lastCovered map[types.StateRef]int
}

func newCoverageGainFactor() *CoverageGainFactor {
	return &CoverageGainFactor{lastCovered: make(map[types.StateRef]int)}
}

func (f *CoverageGainFactor) Score(candidates []Candidate) []float64 {
	score := make([]float64, len(candidates))
	for idx, c := range candidates {
		gain := c.Covered - f.lastCovered[c.Ref]
		if gain < 0 {
			gain = 0
		}
		score[idx] = float64(1 + gain)
	}
	return score
}

func (f *CoverageGainFactor) selected(c Candidate) {
	f.lastCovered[c.Ref] = c.Covered
}

// UniformFactor scores every candidate the same.
type UniformFactor struct{}

func (f *UniformFactor) Score(candidates []Candidate) []float64 {
	score := make([]float64, len(candidates))
	for idx := range score {
		score[idx] = 1
	}
	return score
}
