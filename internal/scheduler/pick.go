package scheduler

import (
	"math/rand"
	"statefuzz/internal/types"
)

// Candidates are scored by factors. Each factor returns one raw score per
// candidate; the picker balances them to sum 1 before weighting.
type factor interface {
	Score(candidates []Candidate) []float64
}

type weightedFactor struct {
	factor factor
	weight float64
}

type picker struct {
	factors []weightedFactor // fixed order keeps picks reproducible
	rng     *rand.Rand
}

func newPicker(rng *rand.Rand, factors ...weightedFactor) *picker {
	return &picker{factors, rng}
}

// pick samples one candidate proportionally to its combined score. Scores
// are laid out in discovery order, which breaks ties.
func (p *picker) pick(candidates []Candidate) types.StateRef {
	finalScores := make([]float64, len(candidates))

	for _, wf := range p.factors {
		balancedScores := balance(wf.factor.Score(candidates))
		for i, score := range balancedScores {
			finalScores[i] += score * wf.weight
		}
	}

	normalScores := balance(finalScores)

	randomNum := p.rng.Float64()
	cumulativeScore := 0.0
	for i, score := range normalScores {
		cumulativeScore += score
		if randomNum < cumulativeScore {
			return candidates[i].Ref
		}
	}
	// rounding left the cumulative sum just below 1
	return candidates[len(candidates)-1].Ref
}

// a helper function to return a group of balanced score. An all-zero input
// balances to the uniform distribution.
func balance(ubScore []float64) []float64 {
	balancedScore := make([]float64, len(ubScore))
	sum := 0.0
	for _, score := range ubScore {
		sum += score
	}
	for idx, score := range ubScore {
		if sum == 0 {
			balancedScore[idx] = 1 / float64(len(ubScore))
			continue
		}
		balancedScore[idx] = score / sum
	}
	return balancedScore
}
