package coverage

import (
	"fmt"
	"statefuzz/internal/types"
	"sync"
)

// DefaultMapSize matches the AFL++ default edge map.
const DefaultMapSize = 1 << 16

// bucketLUT folds raw hit counts into AFL hit-count classes, one bit per class.
var bucketLUT = func() [256]byte {
	var lut [256]byte
	for i := 1; i < 256; i++ {
		switch {
		case i == 1:
			lut[i] = 1
		case i == 2:
			lut[i] = 2
		case i == 3:
			lut[i] = 4
		case i <= 7:
			lut[i] = 8
		case i <= 15:
			lut[i] = 16
		case i <= 31:
			lut[i] = 32
		case i <= 127:
			lut[i] = 64
		default:
			lut[i] = 128
		}
	}
	return lut
}()

// Map is a fixed-size coverage bitmap. Bits are only ever set.
type Map struct {
	mu      sync.RWMutex
	bits    []byte
	covered int // number of non-zero bytes
}

func NewMap(size int) *Map {
	if size <= 0 {
		size = DefaultMapSize
	}
	return &Map{bits: make([]byte, size)}
}

// Merge ORs the classified trace into the map and reports whether any
// previously unset bit became set.
func (m *Map) Merge(trace []byte) (bool, error) {
	if len(trace) != len(m.bits) {
		return false, fmt.Errorf("%w: trace length %d, map length %d", types.ErrProtocolViolation, len(trace), len(m.bits))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	for i, raw := range trace {
		if raw == 0 {
			continue
		}
		class := bucketLUT[raw]
		old := m.bits[i]
		if old&class == class {
			continue
		}
		if old == 0 {
			m.covered++
		}
		m.bits[i] = old | class
		found = true
	}
	return found, nil
}

// Extends reports whether merging trace would set a new bit, without
// changing the map.
func (m *Map) Extends(trace []byte) bool {
	if len(trace) != len(m.bits) {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, raw := range trace {
		if raw == 0 {
			continue
		}
		class := bucketLUT[raw]
		if m.bits[i]&class != class {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the map.
func (m *Map) Snapshot() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, len(m.bits))
	copy(out, m.bits)
	return out
}

// Covered is the number of edges seen at least once.
func (m *Map) Covered() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.covered
}

func (m *Map) Len() int {
	return len(m.bits)
}
