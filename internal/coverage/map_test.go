package coverage

import (
	"errors"
	"math/rand"
	"statefuzz/internal/types"
	"testing"
)

func TestMergeReportsNewBits(t *testing.T) {
	m := NewMap(8)

	found, err := m.Merge([]byte{0, 1, 0, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatalf("first merge should report new coverage")
	}

	found, _ = m.Merge([]byte{0, 1, 0, 0, 0, 0, 0, 0})
	if found {
		t.Errorf("merging the same trace twice must not report new coverage")
	}

	// a different hit-count class on the same edge is new
	found, _ = m.Merge([]byte{0, 4, 0, 0, 0, 0, 0, 0})
	if !found {
		t.Errorf("new hit-count class should be reported")
	}
	if m.Covered() != 1 {
		t.Errorf("expected 1 covered edge, got %d", m.Covered())
	}
}

func TestMergeRejectsMalformedTrace(t *testing.T) {
	m := NewMap(16)
	_, err := m.Merge(make([]byte, 15))
	if !errors.Is(err, types.ErrProtocolViolation) {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
}

func TestMergeIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := NewMap(256)
	prev := m.Snapshot()

	for round := 0; round < 200; round++ {
		trace := make([]byte, 256)
		for i := 0; i < 10; i++ {
			trace[rng.Intn(len(trace))] = byte(rng.Intn(256))
		}
		if _, err := m.Merge(trace); err != nil {
			t.Fatalf("merge failed: %v", err)
		}
		cur := m.Snapshot()
		for i := range cur {
			if prev[i]&^cur[i] != 0 {
				t.Fatalf("round %d: bit cleared at index %d (%08b -> %08b)", round, i, prev[i], cur[i])
			}
		}
		prev = cur
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := NewMap(4)
	m.Merge([]byte{1, 0, 0, 0})
	snap := m.Snapshot()
	snap[0] = 0
	if m.Snapshot()[0] == 0 {
		t.Errorf("mutating a snapshot changed the map")
	}
}

func TestExtendsDoesNotMutate(t *testing.T) {
	m := NewMap(4)
	if !m.Extends([]byte{0, 0, 2, 0}) {
		t.Fatalf("expected trace to extend empty map")
	}
	if m.Covered() != 0 {
		t.Fatalf("Extends must not merge")
	}
}

func TestSetLayouts(t *testing.T) {
	single := NewSet(SingleMap, 4)
	single.Merge(0, []byte{1, 0, 0, 0})
	single.Merge(1, []byte{0, 1, 0, 0})
	if covered, total := single.Coverage(); covered != 2 || total != 4 {
		t.Errorf("single map: got %d/%d, want 2/4", covered, total)
	}
	if single.For(0) != single.For(1) {
		t.Errorf("single map layout must share one map")
	}

	multi := NewSet(MapPerState, 4)
	multi.Merge(0, []byte{1, 0, 0, 0})
	multi.Merge(1, []byte{3, 1, 0, 0})
	if multi.For(0) == multi.For(1) {
		t.Fatalf("map-per-state layout must keep independent maps")
	}
	if got := multi.StateCoverage(0); got != 1 {
		t.Errorf("state 0 coverage = %d, want 1", got)
	}
	total := multi.Total()
	if total[0] != 4 {
		t.Errorf("total[0] = %08b, want element-wise max", total[0])
	}
	if covered, _ := multi.Coverage(); covered != 2 {
		t.Errorf("complete coverage = %d, want 2", covered)
	}

	if _, err := multi.Merge(types.NoState, make([]byte, 4)); !errors.Is(err, types.ErrProtocolViolation) {
		t.Errorf("expected protocol violation for NoState in map-per-state layout")
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(1, 4); got != 25 {
		t.Errorf("Percent(1,4) = %v", got)
	}
	if got := Percent(1, 0); got != 0 {
		t.Errorf("Percent(1,0) = %v", got)
	}
}
