package market

import (
	"math/big"

	"termlend/wad"
)

// Position is a fixed-maturity claim or obligation: the principal that
// moved at trade time plus the fee locked in with it.
type Position struct {
	Principal *big.Int
	Fee       *big.Int
}

// NewPosition returns a zeroed position.
func NewPosition() *Position {
	return &Position{Principal: big.NewInt(0), Fee: big.NewInt(0)}
}

// Clone returns an independent copy.
func (p *Position) Clone() *Position {
	return &Position{Principal: wad.Clone(p.Principal), Fee: wad.Clone(p.Fee)}
}

// Total returns principal plus fee.
func (p *Position) Total() *big.Int {
	return new(big.Int).Add(p.Principal, p.Fee)
}

// Scale splits off the portion of the position worth amount, keeping
// the principal/fee ratio. Scaling beyond the position is an invariant
// violation.
func (p *Position) Scale(amount *big.Int) *Position {
	total := p.Total()
	if amount.Cmp(total) > 0 {
		panic("market: scaling position beyond its size")
	}
	if amount.Cmp(total) == 0 {
		return p.Clone()
	}
	principal := wad.MulDivDown(p.Principal, amount, total)
	return &Position{
		Principal: principal,
		Fee:       new(big.Int).Sub(amount, principal),
	}
}

// Reduce shrinks the position by the scaled part. Removing the whole
// position leaves both components at zero.
func (p *Position) Reduce(part *Position) {
	p.Principal = new(big.Int).Sub(p.Principal, part.Principal)
	p.Fee = new(big.Int).Sub(p.Fee, part.Fee)
	if p.Principal.Sign() < 0 || p.Fee.Sign() < 0 {
		panic("market: position reduced below zero")
	}
}

// Account carries one participant's standing in a market: floating
// vault shares, floating borrow shares and the fixed positions keyed
// by maturity, with one maturity set per side.
type Account struct {
	FloatingShares *big.Int
	BorrowShares   *big.Int
	FixedDeposits  map[uint64]*Position
	FixedBorrows   map[uint64]*Position
	DepositSet     MaturitySet
	BorrowSet      MaturitySet
}

// NewAccount returns an account with zeroed balances.
func NewAccount() *Account {
	return &Account{
		FloatingShares: big.NewInt(0),
		BorrowShares:   big.NewInt(0),
		FixedDeposits:  make(map[uint64]*Position),
		FixedBorrows:   make(map[uint64]*Position),
	}
}

// Clone returns an independent deep copy.
func (a *Account) Clone() *Account {
	clone := &Account{
		FloatingShares: wad.Clone(a.FloatingShares),
		BorrowShares:   wad.Clone(a.BorrowShares),
		FixedDeposits:  make(map[uint64]*Position, len(a.FixedDeposits)),
		FixedBorrows:   make(map[uint64]*Position, len(a.FixedBorrows)),
		DepositSet:     a.DepositSet,
		BorrowSet:      a.BorrowSet,
	}
	for maturity, position := range a.FixedDeposits {
		clone.FixedDeposits[maturity] = position.Clone()
	}
	for maturity, position := range a.FixedBorrows {
		clone.FixedBorrows[maturity] = position.Clone()
	}
	return clone
}

// Idle reports whether the account holds nothing in this market.
func (a *Account) Idle() bool {
	return a.FloatingShares.Sign() == 0 && a.BorrowShares.Sign() == 0 &&
		len(a.FixedDeposits) == 0 && len(a.FixedBorrows) == 0
}

// Parameters configure a market's accrual and safety knobs. All rates
// and factors are 18-decimal fixed point.
type Parameters struct {
	// MaxFuturePools bounds how many maturities ahead of now are open
	// for new fixed positions.
	MaxFuturePools int
	// PenaltyRate charges matured debt per second late.
	PenaltyRate *big.Int
	// BackupFeeRate is the treasury cut of deposit yield bought out of
	// backup financing.
	BackupFeeRate *big.Int
	// ReserveFactor caps floating borrowing and is the treasury cut of
	// distributed fixed fees.
	ReserveFactor *big.Int
	// DampSpeedUp and DampSpeedDown smooth the floating assets average
	// used as the utilization denominator.
	DampSpeedUp   *big.Int
	DampSpeedDown *big.Int
	// SmoothFactor stretches the accumulator release window.
	SmoothFactor *big.Int
}

// DefaultParameters returns the stock market configuration: six open
// maturities, 2% per day penalty, 10% backup fee, 10% reserve factor,
// damp speeds 0.0046/0.42 and accumulator smoothing 2.
func DefaultParameters() Parameters {
	return Parameters{
		MaxFuturePools: 6,
		PenaltyRate:    new(big.Int).Div(big.NewInt(20_000_000_000_000_000), big.NewInt(86_400)),
		BackupFeeRate:  big.NewInt(100_000_000_000_000_000),
		ReserveFactor:  big.NewInt(100_000_000_000_000_000),
		DampSpeedUp:    big.NewInt(4_600_000_000_000_000),
		DampSpeedDown:  big.NewInt(420_000_000_000_000_000),
		SmoothFactor:   new(big.Int).Mul(big.NewInt(2), wad.One),
	}
}

// Validate rejects configurations the accrual math cannot support.
func (p Parameters) Validate() error {
	switch {
	case p.MaxFuturePools <= 0 || p.MaxFuturePools > maturitySetBits:
		return ErrInvalidOperation
	case p.PenaltyRate == nil || p.PenaltyRate.Sign() < 0:
		return ErrInvalidOperation
	case p.BackupFeeRate == nil || p.BackupFeeRate.Sign() < 0 || p.BackupFeeRate.Cmp(wad.One) > 0:
		return ErrInvalidOperation
	case p.ReserveFactor == nil || p.ReserveFactor.Sign() < 0 || p.ReserveFactor.Cmp(wad.One) >= 0:
		return ErrInvalidOperation
	case wad.IsZero(p.DampSpeedUp) || wad.IsZero(p.DampSpeedDown):
		return ErrInvalidOperation
	case wad.IsZero(p.SmoothFactor):
		return ErrInvalidOperation
	}
	return nil
}

// AccountSnapshot is the read-only view the risk engine prices: the
// account's collateral and debt in this market, both in asset units.
type AccountSnapshot struct {
	Collateral *big.Int
	Debt       *big.Int
}

// Snapshot is a read-only view of the market aggregates for RPC and
// telemetry.
type Snapshot struct {
	Name                   string
	Timestamp              uint64
	FloatingAssets         *big.Int
	FloatingShares         *big.Int
	FloatingDebt           *big.Int
	BorrowShares           *big.Int
	FloatingBackupBorrowed *big.Int
	EarningsAccumulator    *big.Int
	BadDebt                *big.Int
	FloatingAssetsAverage  *big.Int
	TotalAssets            *big.Int
	UtilizationFloating    *big.Int
	UtilizationGlobal      *big.Int
	Pools                  map[uint64]PoolSnapshot
}

// PoolSnapshot mirrors one fixed pool's aggregates.
type PoolSnapshot struct {
	Borrowed           *big.Int
	Supplied           *big.Int
	UnassignedEarnings *big.Int
	LastAccrual        uint64
}
