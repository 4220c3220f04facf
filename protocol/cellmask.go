package protocol

import (
	"fmt"
	"math/bits"
)

// CellMask is a 128-bit bitmap over blob columns: bit i is set iff cell
// (column) i is available. The zero value has no cells. CellMask is a
// comparable value type; == is bitwise equality.
type CellMask struct {
	hi, lo uint64 // lo holds columns 0..63, hi holds 64..127
}

// AllOnes returns the mask with every column set, denoting full
// availability.
func AllOnes() CellMask {
	return CellMask{hi: ^uint64(0), lo: ^uint64(0)}
}

// NewCellMask builds a mask from its two 64-bit words. The low word holds
// columns 0..63.
func NewCellMask(hi, lo uint64) CellMask {
	return CellMask{hi: hi, lo: lo}
}

// Words returns the (hi, lo) words of the mask.
func (m CellMask) Words() (hi, lo uint64) { return m.hi, m.lo }

// Bit reports whether column i is set. Columns outside [0,128) are never
// set.
func (m CellMask) Bit(i int) bool {
	if i < 0 || i >= CellsPerBlob {
		return false
	}
	if i < 64 {
		return m.lo&(1<<uint(i)) != 0
	}
	return m.hi&(1<<uint(i-64)) != 0
}

// SetBit returns a copy of m with column i set.
func (m CellMask) SetBit(i int) CellMask {
	if i < 0 || i >= CellsPerBlob {
		return m
	}
	if i < 64 {
		m.lo |= 1 << uint(i)
	} else {
		m.hi |= 1 << uint(i-64)
	}
	return m
}

// Or returns the bitwise union of m and other.
func (m CellMask) Or(other CellMask) CellMask {
	return CellMask{hi: m.hi | other.hi, lo: m.lo | other.lo}
}

// And returns the bitwise intersection of m and other.
func (m CellMask) And(other CellMask) CellMask {
	return CellMask{hi: m.hi & other.hi, lo: m.lo & other.lo}
}

// OnesCount returns the number of set columns.
func (m CellMask) OnesCount() int {
	return bits.OnesCount64(m.hi) + bits.OnesCount64(m.lo)
}

// IsFull reports whether every column is set.
func (m CellMask) IsFull() bool {
	return m.hi == ^uint64(0) && m.lo == ^uint64(0)
}

// IsZero reports whether no column is set.
func (m CellMask) IsZero() bool { return m.hi == 0 && m.lo == 0 }

// Covers reports whether every column set in sub is also set in m.
func (m CellMask) Covers(sub CellMask) bool {
	return m.hi&sub.hi == sub.hi && m.lo&sub.lo == sub.lo
}

func (m CellMask) String() string {
	return fmt.Sprintf("%016x%016x", m.hi, m.lo)
}
