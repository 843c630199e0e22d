package scheduler

import (
	"math/rand"
	"statefuzz/internal/types"
)

type cycler struct {
	next types.StateRef
}

func newCycler() *cycler {
	return &cycler{}
}

func (c *cycler) Policy() Policy { return Cycler }

// Next returns the first candidate at or after the cursor and wraps to the
// start when the cursor ran past the last one. States discovered later get
// higher refs and so join the end of the cycle.
func (c *cycler) Next(candidates []Candidate) (types.StateRef, error) {
	if len(candidates) == 0 {
		return types.NoState, types.ErrNoStatesAvailable
	}
	chosen := candidates[0].Ref
	for _, cand := range candidates {
		if cand.Ref >= c.next {
			chosen = cand.Ref
			break
		}
	}
	c.next = chosen + 1
	return chosen, nil
}

type outgoingEdges struct {
	picker *picker
}

func newOutgoingEdges(rng *rand.Rand) *outgoingEdges {
	return &outgoingEdges{newPicker(rng, weightedFactor{&OutDegreeFactor{}, 1.0})}
}

func (o *outgoingEdges) Policy() Policy { return OutgoingEdges }

func (o *outgoingEdges) Next(candidates []Candidate) (types.StateRef, error) {
	if len(candidates) == 0 {
		return types.NoState, types.ErrNoStatesAvailable
	}
	return o.picker.pick(candidates), nil
}

// novelty drains never-selected states in discovery order, then falls back
// to the explored pool.
type novelty struct {
	policy   Policy
	selected map[types.StateRef]bool
	gain     *CoverageGainFactor
	explored *picker
}

func newNovelty(policy Policy, rng *rand.Rand, weighted bool) *novelty {
	n := &novelty{
		policy:   policy,
		selected: make(map[types.StateRef]bool),
		gain:     newCoverageGainFactor(),
	}
	var factors []weightedFactor
	if policy == NoveltyOE {
		factors = append(factors, weightedFactor{&OutDegreeFactor{}, 1.0})
	} else {
		factors = append(factors, weightedFactor{&UniformFactor{}, 1.0})
	}
	if weighted {
		factors = []weightedFactor{{n.gain, 1.0}}
		if policy == NoveltyOE {
			factors = append(factors, weightedFactor{&OutDegreeFactor{}, 1.0})
		}
	}
	n.explored = newPicker(rng, factors...)
	return n
}

func (n *novelty) Policy() Policy { return n.policy }

func (n *novelty) Next(candidates []Candidate) (types.StateRef, error) {
	if len(candidates) == 0 {
		return types.NoState, types.ErrNoStatesAvailable
	}

	for _, c := range candidates {
		if c.Novel && !n.selected[c.Ref] {
			n.mark(c)
			return c.Ref, nil
		}
	}

	ref := n.explored.pick(candidates)
	for _, c := range candidates {
		if c.Ref == ref {
			n.mark(c)
			break
		}
	}
	return ref, nil
}

func (n *novelty) mark(c Candidate) {
	n.selected[c.Ref] = true
	n.gain.selected(c)
}
