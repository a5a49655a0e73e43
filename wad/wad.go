// Package wad implements fixed-point arithmetic with 18 decimals over
// math/big integers. Every multiply and divide names its rounding
// direction so ledger code never rounds in an account's favor by
// accident.
package wad

import "math/big"

var (
	// One is the fixed-point unit (1e18).
	One = mustBigInt("1000000000000000000")

	one = big.NewInt(1)
	two = big.NewInt(2)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// New returns value * 1e18.
func New(value int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(value), One)
}

// FromDecimals returns numerator * 1e18 / 10^decimals, truncating.
func FromDecimals(numerator *big.Int, decimals uint) *big.Int {
	scaled := new(big.Int).Mul(numerator, One)
	return scaled.Quo(scaled, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

// MulDown returns a*b/1e18 truncated toward zero.
func MulDown(a, b *big.Int) *big.Int {
	return MulDivDown(a, b, One)
}

// MulUp returns a*b/1e18 rounded away from zero.
func MulUp(a, b *big.Int) *big.Int {
	return MulDivUp(a, b, One)
}

// DivDown returns a*1e18/b truncated toward zero.
func DivDown(a, b *big.Int) *big.Int {
	return MulDivDown(a, One, b)
}

// DivUp returns a*1e18/b rounded away from zero.
func DivUp(a, b *big.Int) *big.Int {
	return MulDivUp(a, One, b)
}

// MulDivDown returns a*b/c truncated toward zero. A zero divisor is an
// accounting invariant violation and panics.
func MulDivDown(a, b, c *big.Int) *big.Int {
	if c.Sign() == 0 {
		panic("wad: division by zero")
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, c)
}

// MulDivUp returns a*b/c rounded away from zero.
func MulDivUp(a, b, c *big.Int) *big.Int {
	if c.Sign() == 0 {
		panic("wad: division by zero")
	}
	product := new(big.Int).Mul(a, b)
	if product.Sign() == 0 {
		return product
	}
	if product.Sign() < 0 {
		product.Quo(product, c)
		return product.Sub(product, one)
	}
	product.Sub(product, one)
	product.Quo(product, c)
	return product.Add(product, one)
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns the larger of a and b as a fresh value.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Clone returns an independent copy of v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// Float64 converts a fixed-point value to a float for gauges and log
// fields. Not for accounting.
func Float64(v *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), new(big.Float).SetInt(One)).Float64()
	return f
}
