package market

import "github.com/holiman/uint256"

// Interval is the spacing of the fixed-pool maturity grid: four weeks
// in seconds. Every valid maturity is a positive multiple of it.
const Interval uint64 = 4 * 7 * 24 * 60 * 60

// maturitySetBits is the width of the flag window. Together with the
// 32-bit base stored in the packed word it fills one 256-bit slot.
const maturitySetBits = 224

// MaturitySet records which grid maturities an account currently holds
// a position in, one bit per interval relative to a sliding base. The
// zero value is the empty set.
type MaturitySet struct {
	base  uint64
	flags uint256.Int
}

func maturityBit(index uint64) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), uint(index))
}

func checkOnGrid(maturity uint64) {
	if maturity == 0 || maturity%Interval != 0 {
		panic("market: maturity off the interval grid")
	}
}

// Empty reports whether the set holds no maturities.
func (s *MaturitySet) Empty() bool {
	return s.base == 0
}

// Base returns the earliest tracked maturity, zero when empty.
func (s *MaturitySet) Base() uint64 {
	return s.base
}

// Has reports whether maturity is in the set.
func (s *MaturitySet) Has(maturity uint64) bool {
	checkOnGrid(maturity)
	if s.Empty() || maturity < s.base {
		return false
	}
	index := (maturity - s.base) / Interval
	if index >= maturitySetBits {
		return false
	}
	return !new(uint256.Int).And(&s.flags, maturityBit(index)).IsZero()
}

// Set adds maturity to the set. Maturities earlier than the current
// base rebase the window; a window wider than 224 intervals returns
// ErrMaturityOverflow and leaves the set untouched.
func (s *MaturitySet) Set(maturity uint64) error {
	checkOnGrid(maturity)
	if s.Empty() {
		s.base = maturity
		s.flags.Or(&s.flags, maturityBit(0))
		return nil
	}
	if maturity >= s.base {
		index := (maturity - s.base) / Interval
		if index >= maturitySetBits {
			return ErrMaturityOverflow
		}
		s.flags.Or(&s.flags, maturityBit(index))
		return nil
	}
	shift := (s.base - maturity) / Interval
	highest := uint64(s.flags.BitLen() - 1)
	if highest+shift >= maturitySetBits {
		return ErrMaturityOverflow
	}
	s.flags.Lsh(&s.flags, uint(shift))
	s.flags.Or(&s.flags, maturityBit(0))
	s.base = maturity
	return nil
}

// Clear removes maturity from the set. Clearing below the base is an
// accounting invariant violation and panics: the ledger only clears
// bits it set. Removing the base maturity rebases onto the next set
// bit; removing the last bit leaves the empty set.
func (s *MaturitySet) Clear(maturity uint64) {
	checkOnGrid(maturity)
	if s.Empty() || maturity < s.base {
		panic("market: clearing maturity below set base")
	}
	index := (maturity - s.base) / Interval
	if index >= maturitySetBits {
		return
	}
	s.flags.And(&s.flags, new(uint256.Int).Not(maturityBit(index)))
	if index != 0 {
		return
	}
	if s.flags.IsZero() {
		*s = MaturitySet{}
		return
	}
	var next uint64
	for next = 1; next < maturitySetBits; next++ {
		if !new(uint256.Int).And(&s.flags, maturityBit(next)).IsZero() {
			break
		}
	}
	s.flags.Rsh(&s.flags, uint(next))
	s.base += next * Interval
}

// Ascending returns the maturities in the set ordered earliest first.
func (s *MaturitySet) Ascending() []uint64 {
	if s.Empty() {
		return nil
	}
	out := make([]uint64, 0, 4)
	for index := uint64(0); index < maturitySetBits; index++ {
		if !new(uint256.Int).And(&s.flags, maturityBit(index)).IsZero() {
			out = append(out, s.base+index*Interval)
		}
	}
	return out
}

// Pack encodes the set into a single 256-bit word: the base maturity
// in the low 32 bits, the flag window above it.
func (s *MaturitySet) Pack() *uint256.Int {
	word := new(uint256.Int).Lsh(&s.flags, 32)
	return word.Or(word, uint256.NewInt(s.base))
}

// UnpackMaturitySet rebuilds a set from its packed word form.
func UnpackMaturitySet(word *uint256.Int) MaturitySet {
	var s MaturitySet
	s.base = new(uint256.Int).And(word, uint256.NewInt(0xffffffff)).Uint64()
	s.flags.Rsh(word, 32)
	return s
}
