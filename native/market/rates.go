package market

import (
	"fmt"
	"math/big"

	"termlend/wad"
)

// RateParameters configure the utilization curves. All values are
// 18-decimal fixed point; CurveB and TimePreference may be negative.
type RateParameters struct {
	// CurveA and CurveB shape the hyperbolic leg
	// a/(maxUtilization-u) + b of the floating curve.
	CurveA *big.Int
	CurveB *big.Int
	// MaxUtilization is the asymptote, strictly above 1.
	MaxUtilization *big.Int
	// NaturalUtilization centers the sigmoid applied to global
	// utilization; SigmoidSpeed sets how sharp the transition is and
	// GrowthSpeed how hard global scarcity multiplies the base rate.
	NaturalUtilization *big.Int
	SigmoidSpeed       *big.Int
	GrowthSpeed        *big.Int
	// SpreadFactor, TimePreference and MaturitySpeed price the fixed
	// premium over the floating base.
	SpreadFactor   *big.Int
	TimePreference *big.Int
	MaturitySpeed  *big.Int
	// MaxRate caps both curves.
	MaxRate *big.Int
}

// DefaultRateParameters returns the stock curve configuration:
// a=0.023, b=-0.0025 against a 1.02 asymptote, sigmoid centered at
// 0.7 utilization with speed 2.5 and growth 1.1, fixed spread 0.2
// with 0.01 time preference and maturity speed 0.5, capped at 1000%.
func DefaultRateParameters() RateParameters {
	return RateParameters{
		CurveA:             big.NewInt(23_000_000_000_000_000),
		CurveB:             big.NewInt(-2_500_000_000_000_000),
		MaxUtilization:     big.NewInt(1_020_000_000_000_000_000),
		NaturalUtilization: big.NewInt(700_000_000_000_000_000),
		SigmoidSpeed:       big.NewInt(2_500_000_000_000_000_000),
		GrowthSpeed:        big.NewInt(1_100_000_000_000_000_000),
		SpreadFactor:       big.NewInt(200_000_000_000_000_000),
		TimePreference:     big.NewInt(10_000_000_000_000_000),
		MaturitySpeed:      big.NewInt(500_000_000_000_000_000),
		MaxRate:            new(big.Int).Mul(big.NewInt(10), wad.One),
	}
}

// RateModel prices floating and fixed borrowing from utilization. Both
// curves are pure functions of their inputs.
type RateModel struct {
	params RateParameters
}

// NewRateModel validates the parameters and builds a model.
func NewRateModel(p RateParameters) (*RateModel, error) {
	switch {
	case wad.IsZero(p.CurveA) || p.CurveA.Sign() < 0:
		return nil, fmt.Errorf("market: rate model: curve A must be positive")
	case p.CurveB == nil:
		return nil, fmt.Errorf("market: rate model: curve B required")
	case p.MaxUtilization == nil || p.MaxUtilization.Cmp(wad.One) <= 0:
		return nil, fmt.Errorf("market: rate model: max utilization must exceed 1")
	case p.NaturalUtilization == nil || p.NaturalUtilization.Sign() <= 0 || p.NaturalUtilization.Cmp(wad.One) >= 0:
		return nil, fmt.Errorf("market: rate model: natural utilization must lie in (0,1)")
	case wad.IsZero(p.SigmoidSpeed) || p.SigmoidSpeed.Sign() < 0:
		return nil, fmt.Errorf("market: rate model: sigmoid speed must be positive")
	case wad.IsZero(p.GrowthSpeed) || p.GrowthSpeed.Sign() < 0:
		return nil, fmt.Errorf("market: rate model: growth speed must be positive")
	case p.SpreadFactor == nil || p.SpreadFactor.Sign() < 0:
		return nil, fmt.Errorf("market: rate model: spread factor must not be negative")
	case p.TimePreference == nil:
		return nil, fmt.Errorf("market: rate model: time preference required")
	case wad.IsZero(p.MaturitySpeed) || p.MaturitySpeed.Sign() < 0:
		return nil, fmt.Errorf("market: rate model: maturity speed must be positive")
	case wad.IsZero(p.MaxRate) || p.MaxRate.Sign() < 0:
		return nil, fmt.Errorf("market: rate model: max rate must be positive")
	}
	return &RateModel{params: p}, nil
}

// Parameters returns a shallow view of the model configuration.
func (m *RateModel) Parameters() RateParameters {
	return m.params
}

// FloatingRate returns the annualized floating borrow rate for the
// given floating and global utilization.
func (m *RateModel) FloatingRate(uFloating, uGlobal *big.Int) (*big.Int, error) {
	if uFloating.Cmp(uGlobal) > 0 {
		return nil, ErrUtilizationExceeded
	}
	if uGlobal.Cmp(m.params.MaxUtilization) >= 0 {
		return nil, ErrUtilizationExceeded
	}
	base := wad.DivDown(m.params.CurveA, new(big.Int).Sub(m.params.MaxUtilization, uFloating))
	base.Add(base, m.params.CurveB)
	if base.Sign() < 0 {
		base = big.NewInt(0)
	}
	rate := wad.MulDown(base, m.globalFactor(uGlobal))
	if rate.Cmp(m.params.MaxRate) > 0 {
		return wad.Clone(m.params.MaxRate), nil
	}
	return rate, nil
}

// FixedRate returns the annualized rate for borrowing against the
// given maturity, spreading the floating base by fixed utilization and
// time to maturity.
func (m *RateModel) FixedRate(maturity uint64, maxFuturePools int, uFixed, uFloating, uGlobal *big.Int, now uint64) (*big.Int, error) {
	if now >= maturity {
		return nil, ErrAlreadyMatured
	}
	if uFixed.Cmp(uGlobal) > 0 {
		return nil, ErrUtilizationExceeded
	}
	base, err := m.FloatingRate(uFloating, uGlobal)
	if err != nil {
		return nil, err
	}
	if uFixed.Sign() == 0 {
		return base, nil
	}
	horizon := new(big.Int).SetUint64(uint64(maxFuturePools) * Interval)
	tau := wad.MulDivDown(new(big.Int).SetUint64(maturity-now), wad.One, horizon)
	premium := wad.MulDown(wad.Pow(tau, m.params.MaturitySpeed), wad.DivDown(uFixed, uGlobal))
	spread := new(big.Int).Add(wad.One, m.params.TimePreference)
	spread.Add(spread, wad.MulDown(m.params.SpreadFactor, premium))
	rate := wad.MulUp(base, spread)
	if rate.Sign() < 0 {
		return big.NewInt(0), nil
	}
	if rate.Cmp(m.params.MaxRate) > 0 {
		return wad.Clone(m.params.MaxRate), nil
	}
	return rate, nil
}

// globalFactor is the scarcity multiplier (1 - s*u)^(-growthSpeed)
// where s is the sigmoid of global utilization.
func (m *RateModel) globalFactor(uGlobal *big.Int) *big.Int {
	s := m.sigmoid(uGlobal)
	arg := new(big.Int).Sub(wad.One, wad.MulDown(s, uGlobal))
	if arg.Sign() <= 0 {
		// Utilization beyond the sigmoid's reach: one wei keeps the
		// log finite and the caller's cap does the rest.
		arg = big.NewInt(1)
	}
	t := wad.MulDown(m.params.GrowthSpeed, wad.Ln(arg))
	return wad.Exp(t.Neg(t))
}

// sigmoid maps utilization through a logistic curve centered on the
// natural utilization, computed in logit space:
// s = A/(A+B), A = (u(1-n))^k, B = (n(1-u))^k.
func (m *RateModel) sigmoid(u *big.Int) *big.Int {
	if u.Sign() <= 0 {
		return big.NewInt(0)
	}
	if u.Cmp(wad.One) >= 0 {
		return wad.Clone(wad.One)
	}
	n := m.params.NaturalUtilization
	k := m.params.SigmoidSpeed
	x := wad.MulDown(u, new(big.Int).Sub(wad.One, n))
	y := wad.MulDown(n, new(big.Int).Sub(wad.One, u))
	if x.Sign() == 0 {
		return big.NewInt(0)
	}
	if y.Sign() == 0 {
		return wad.Clone(wad.One)
	}
	a := wad.Pow(x, k)
	b := wad.Pow(y, k)
	return wad.MulDivDown(a, wad.One, new(big.Int).Add(a, b))
}
