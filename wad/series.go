package wad

import "math/big"

var (
	ln2 = mustBigInt("693147180559945309")

	// Beyond these bounds e^x either needs unbounded memory or rounds
	// to zero at 18 decimals.
	maxExpInput = New(130)
	minExpInput = new(big.Int).Neg(New(42))
)

// Exp returns e^x for a signed fixed-point exponent. Arguments below
// -42e18 collapse to zero; arguments above 130e18 panic.
func Exp(x *big.Int) *big.Int {
	if x.Sign() == 0 {
		return Clone(One)
	}
	if x.Cmp(minExpInput) <= 0 {
		return big.NewInt(0)
	}
	if x.Cmp(maxExpInput) > 0 {
		panic("wad: exp argument out of range")
	}
	if x.Sign() < 0 {
		pos := Exp(new(big.Int).Neg(x))
		return DivDown(One, pos)
	}

	// Split x = k*ln2 + r with 0 <= r < ln2, so e^x = e^r << k.
	k := new(big.Int).Quo(x, ln2)
	r := new(big.Int).Sub(x, new(big.Int).Mul(k, ln2))

	// Taylor series for e^r; r < 0.7 so twenty terms land well below
	// one wei.
	sum := Clone(One)
	term := Clone(One)
	for n := int64(1); n <= 20; n++ {
		term = MulDivDown(term, r, new(big.Int).Mul(One, big.NewInt(n)))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}
	return sum.Lsh(sum, uint(k.Uint64()))
}

// Ln returns the natural logarithm of a positive fixed-point value.
// The result is signed: inputs below 1e18 yield negative logs.
func Ln(x *big.Int) *big.Int {
	if x.Sign() <= 0 {
		panic("wad: ln of non-positive value")
	}

	// Normalize the mantissa into [1, 2) pulling out powers of two.
	m := Clone(x)
	e := int64(0)
	twoWad := new(big.Int).Lsh(One, 1)
	for m.Cmp(twoWad) >= 0 {
		m.Rsh(m, 1)
		e++
	}
	for m.Cmp(One) < 0 {
		m.Lsh(m, 1)
		e--
	}

	// atanh series: ln(m) = 2*(z + z^3/3 + z^5/5 + ...) with
	// z = (m-1)/(m+1) <= 1/3, so odd powers decay fast.
	num := new(big.Int).Sub(m, One)
	den := new(big.Int).Add(m, One)
	z := MulDivDown(num, One, den)
	zsq := MulDown(z, z)
	sum := Clone(z)
	term := Clone(z)
	for n := int64(3); n <= 29; n += 2 {
		term = MulDown(term, zsq)
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, new(big.Int).Quo(term, big.NewInt(n)))
	}
	sum.Mul(sum, two)
	return sum.Add(sum, new(big.Int).Mul(big.NewInt(e), ln2))
}

// Pow returns x^y for non-negative fixed-point values via
// exp(y*ln(x)). x == 0 yields 0 for positive y and 1 for y == 0.
func Pow(x, y *big.Int) *big.Int {
	if y.Sign() == 0 {
		return Clone(One)
	}
	if x.Sign() == 0 {
		return big.NewInt(0)
	}
	if x.Sign() < 0 || y.Sign() < 0 {
		panic("wad: pow arguments out of range")
	}
	if x.Cmp(One) == 0 {
		return Clone(One)
	}
	return Exp(MulDown(y, Ln(x)))
}
