package mutator

import (
	"encoding/binary"
	"math/rand"
)

var (
	interesting8  = []int8{-128, -1, 0, 1, 16, 32, 64, 100, 127}
	interesting16 = []int16{-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767}
	interesting32 = []int32{-2147483648, -100663046, -32769, 32768, 65535, 65536, 100663045, 2147483647}
)

const (
	arithMax    = 35
	maxStackPow = 5
)

type operator func(h *Havoc, data []byte) []byte

// Havoc applies a random stack of AFL-style operators to a copy of its input.
type Havoc struct {
	rng    *rand.Rand
	tokens [][]byte
	maxLen int
	ops    []operator
}

// NewHavoc builds the havoc mutator. tokens are dictionary words; maxLen
// bounds the size of produced inputs (0 means unbounded).
func NewHavoc(rng *rand.Rand, tokens [][]byte, maxLen int) *Havoc {
	h := &Havoc{rng: rng, tokens: tokens, maxLen: maxLen}
	h.ops = []operator{
		flipBit,
		randomByte,
		setInteresting8,
		setInteresting16,
		setInteresting32,
		arith8,
		arith16,
		deleteBlock,
		cloneBlock,
		overwriteBlock,
		insertRandomBlock,
	}
	if len(tokens) > 0 {
		h.ops = append(h.ops, insertToken, overwriteToken)
	}
	return h
}

func (h *Havoc) Mutate(input []byte) []byte {
	data := append(make([]byte, 0, len(input)+16), input...)
	if len(data) == 0 {
		data = append(data, byte(h.rng.Intn(256)))
	}

	stack := 1 << uint(h.rng.Intn(maxStackPow))
	for i := 0; i < stack; i++ {
		data = h.ops[h.rng.Intn(len(h.ops))](h, data)
		if len(data) == 0 {
			data = append(data, byte(h.rng.Intn(256)))
		}
	}
	if h.maxLen > 0 && len(data) > h.maxLen {
		data = data[:h.maxLen]
	}
	return data
}

func (h *Havoc) blockLen(limit int) int {
	if limit <= 1 {
		return 1
	}
	// small blocks are far more common than large ones
	switch h.rng.Intn(3) {
	case 0:
		return 1 + h.rng.Intn(limit)
	default:
		return 1 + h.rng.Intn(min(limit, 32))
	}
}

func flipBit(h *Havoc, data []byte) []byte {
	bit := h.rng.Intn(len(data) * 8)
	data[bit/8] ^= 0x80 >> uint(bit%8)
	return data
}

func randomByte(h *Havoc, data []byte) []byte {
	pos := h.rng.Intn(len(data))
	data[pos] ^= byte(1 + h.rng.Intn(255))
	return data
}

func setInteresting8(h *Havoc, data []byte) []byte {
	data[h.rng.Intn(len(data))] = byte(interesting8[h.rng.Intn(len(interesting8))])
	return data
}

func setInteresting16(h *Havoc, data []byte) []byte {
	if len(data) < 2 {
		return data
	}
	pos := h.rng.Intn(len(data) - 1)
	val := uint16(interesting16[h.rng.Intn(len(interesting16))])
	if h.rng.Intn(2) == 0 {
		binary.LittleEndian.PutUint16(data[pos:], val)
	} else {
		binary.BigEndian.PutUint16(data[pos:], val)
	}
	return data
}

func setInteresting32(h *Havoc, data []byte) []byte {
	if len(data) < 4 {
		return data
	}
	pos := h.rng.Intn(len(data) - 3)
	val := uint32(interesting32[h.rng.Intn(len(interesting32))])
	if h.rng.Intn(2) == 0 {
		binary.LittleEndian.PutUint32(data[pos:], val)
	} else {
		binary.BigEndian.PutUint32(data[pos:], val)
	}
	return data
}

func arith8(h *Havoc, data []byte) []byte {
	pos := h.rng.Intn(len(data))
	delta := byte(1 + h.rng.Intn(arithMax))
	if h.rng.Intn(2) == 0 {
		data[pos] += delta
	} else {
		data[pos] -= delta
	}
	return data
}

func arith16(h *Havoc, data []byte) []byte {
	if len(data) < 2 {
		return data
	}
	pos := h.rng.Intn(len(data) - 1)
	delta := uint16(1 + h.rng.Intn(arithMax))
	val := binary.BigEndian.Uint16(data[pos:])
	if h.rng.Intn(2) == 0 {
		val += delta
	} else {
		val -= delta
	}
	binary.BigEndian.PutUint16(data[pos:], val)
	return data
}

func deleteBlock(h *Havoc, data []byte) []byte {
	if len(data) < 2 {
		return data
	}
	n := h.blockLen(len(data) - 1)
	pos := h.rng.Intn(len(data) - n + 1)
	return append(data[:pos], data[pos+n:]...)
}

func insertAt(data []byte, pos int, block []byte) []byte {
	out := make([]byte, 0, len(data)+len(block))
	out = append(out, data[:pos]...)
	out = append(out, block...)
	return append(out, data[pos:]...)
}

func cloneBlock(h *Havoc, data []byte) []byte {
	n := h.blockLen(len(data))
	from := h.rng.Intn(len(data) - n + 1)
	block := append([]byte(nil), data[from:from+n]...)
	return insertAt(data, h.rng.Intn(len(data)+1), block)
}

func overwriteBlock(h *Havoc, data []byte) []byte {
	if len(data) < 2 {
		return data
	}
	n := h.blockLen(len(data) - 1)
	from := h.rng.Intn(len(data) - n + 1)
	to := h.rng.Intn(len(data) - n + 1)
	copy(data[to:to+n], append([]byte(nil), data[from:from+n]...))
	return data
}

func insertRandomBlock(h *Havoc, data []byte) []byte {
	block := make([]byte, h.blockLen(16))
	fill := byte(h.rng.Intn(256))
	for i := range block {
		if h.rng.Intn(2) == 0 {
			block[i] = fill
		} else {
			block[i] = byte(h.rng.Intn(256))
		}
	}
	return insertAt(data, h.rng.Intn(len(data)+1), block)
}

func insertToken(h *Havoc, data []byte) []byte {
	token := h.tokens[h.rng.Intn(len(h.tokens))]
	return insertAt(data, h.rng.Intn(len(data)+1), token)
}

func overwriteToken(h *Havoc, data []byte) []byte {
	token := h.tokens[h.rng.Intn(len(h.tokens))]
	if len(token) > len(data) {
		return insertToken(h, data)
	}
	pos := h.rng.Intn(len(data) - len(token) + 1)
	copy(data[pos:], token)
	return data
}
