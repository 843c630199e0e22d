package corpus

import (
	"errors"
	"fmt"
	"math/rand"
	"statefuzz/internal/types"
	"sync"
)

// Mode selects how corpora are partitioned.
type Mode int

const (
	// Single keeps one corpus shared by all states.
	Single Mode = iota
	// PerState keeps one corpus per discovered state.
	PerState
)

// SeedRule decides how a newly discovered state gets its first entries in
// PerState mode.
type SeedRule int

const (
	// FromPredecessor clones the entry that was executing when the state was
	// first observed.
	FromPredecessor SeedRule = iota
	// FromSeedPool clones the initial seed set.
	FromSeedPool
)

func ParseSeedRule(s string) (SeedRule, error) {
	switch s {
	case "", "predecessor":
		return FromPredecessor, nil
	case "seed-pool":
		return FromSeedPool, nil
	}
	return FromPredecessor, fmt.Errorf("unknown seed rule %q", s)
}

func (r SeedRule) String() string {
	if r == FromSeedPool {
		return "seed-pool"
	}
	return "predecessor"
}

// Origin tells how an entry entered the corpus.
type Origin int

const (
	OriginSeed Origin = iota
	OriginAdmitted
	OriginCloned
)

// Entry is an immutable test case. Mutation works on a copy of Data.
type Entry struct {
	ID      uint64
	Data    []byte
	State   types.StateRef // state the entry was generated or accepted for
	NewBits int            // coverage delta credited when accepted
	Origin  Origin
}

// Clone returns an entry with its own copy of Data.
func (e Entry) Clone() Entry {
	e.Data = append([]byte(nil), e.Data...)
	return e
}

var ErrEmptyCorpus = errors.New("corpus is empty")

// Store holds the corpora of a run.
type Store struct {
	mu       sync.Mutex
	mode     Mode
	rule     SeedRule
	rng      *rand.Rand
	nextID   uint64
	pool     []Entry // initial seed set
	shared   []Entry
	perState map[types.StateRef][]Entry
}

// NewStore creates a store. seed fixes the selection PRNG.
func NewStore(mode Mode, rule SeedRule, seed int64, initial [][]byte) *Store {
	s := &Store{
		mode:     mode,
		rule:     rule,
		rng:      rand.New(rand.NewSource(seed)),
		perState: make(map[types.StateRef][]Entry),
	}
	for _, data := range initial {
		e := s.newEntry(data, types.NoState, 0, OriginSeed)
		s.pool = append(s.pool, e)
		if mode == Single {
			s.shared = append(s.shared, e)
		}
	}
	return s
}

func (s *Store) Mode() Mode { return s.mode }

func (s *Store) newEntry(data []byte, ref types.StateRef, newBits int, origin Origin) Entry {
	s.nextID++
	return Entry{
		ID:      s.nextID,
		Data:    append([]byte(nil), data...),
		State:   ref,
		NewBits: newBits,
		Origin:  origin,
	}
}

// SeedFor picks an entry to mutate for ref, uniformly at random from the
// state's corpus, or from the shared corpus in Single mode.
func (s *Store) SeedFor(ref types.StateRef) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.corpusOf(ref)
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("%w: state %s", ErrEmptyCorpus, ref)
	}
	return entries[s.rng.Intn(len(entries))].Clone(), nil
}

// Admit appends entry to the corpus of ref. It must only be called after a
// coverage merge reported new coverage for the same execution.
func (s *Store) Admit(entry Entry, ref types.StateRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.newEntry(entry.Data, ref, entry.NewBits, OriginAdmitted)
	if s.mode == Single {
		s.shared = append(s.shared, e)
		return true
	}
	s.perState[ref] = append(s.perState[ref], e)
	return true
}

// Discover applies the seeding rule to a newly observed state. executing is
// the entry whose execution first reached ref; it may be nil when nothing
// was executing (states loaded from disk). Without initial seeds executing is
// cloned whatever the rule, so a state reached by a message always starts
// with one seed. It reports whether entries were added.
func (s *Store) Discover(ref types.StateRef, executing *Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == Single {
		// prefix-only inputs leave the shared corpus empty until now
		if len(s.shared) > 0 || executing == nil {
			return false
		}
		s.shared = append(s.shared, s.newEntry(executing.Data, ref, 0, OriginCloned))
		return true
	}
	if len(s.perState[ref]) > 0 {
		return false
	}

	if executing != nil && (s.rule == FromPredecessor || len(s.pool) == 0) {
		s.perState[ref] = append(s.perState[ref], s.newEntry(executing.Data, ref, 0, OriginCloned))
		return true
	}
	for _, seed := range s.pool {
		s.perState[ref] = append(s.perState[ref], s.newEntry(seed.Data, ref, 0, OriginCloned))
	}
	return len(s.pool) > 0
}

func (s *Store) corpusOf(ref types.StateRef) []Entry {
	if s.mode == Single {
		return s.shared
	}
	return s.perState[ref]
}

// Len is the number of entries SeedFor(ref) selects from.
func (s *Store) Len(ref types.StateRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.corpusOf(ref))
}

// Total counts every stored entry.
func (s *Store) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == Single {
		return len(s.shared)
	}
	n := 0
	for _, entries := range s.perState {
		n += len(entries)
	}
	return n
}

// Entries copies the corpus of ref in insertion order. In Single mode the
// shared corpus is filtered by originating state.
func (s *Store) Entries(ref types.StateRef) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	if s.mode == Single {
		for _, e := range s.shared {
			if e.State == ref {
				out = append(out, e.Clone())
			}
		}
		return out
	}
	for _, e := range s.perState[ref] {
		out = append(out, e.Clone())
	}
	return out
}

// Sizes reports corpus sizes per state. In Single mode entries are
// attributed to the state recorded on them.
func (s *Store) Sizes() map[types.StateRef]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sizes := make(map[types.StateRef]int)
	if s.mode == Single {
		for _, e := range s.shared {
			sizes[e.State]++
		}
		return sizes
	}
	for ref, entries := range s.perState {
		sizes[ref] = len(entries)
	}
	return sizes
}

// PoolSize is the number of initial seeds.
func (s *Store) PoolSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pool)
}
