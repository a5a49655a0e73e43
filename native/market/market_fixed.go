package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"termlend/wad"
)

// FixedDepositResult reports a fixed-maturity deposit: the principal
// supplied, the unassigned earnings bought out and the total credited
// at maturity.
type FixedDepositResult struct {
	Maturity uint64
	Assets   *big.Int
	Yield    *big.Int
	Credited *big.Int
}

// FixedBorrowResult reports a fixed-maturity borrow: the assets drawn,
// the fee locked in and the annualized rate that priced it.
type FixedBorrowResult struct {
	Maturity uint64
	Assets   *big.Int
	Fee      *big.Int
	Owed     *big.Int
	Rate     *big.Int
}

// FixedWithdrawResult reports a fixed-maturity withdrawal:
// PositionAssets written off the position and Assets actually paid
// out, discounted when the withdrawal is early.
type FixedWithdrawResult struct {
	Maturity       uint64
	PositionAssets *big.Int
	Assets         *big.Int
}

// FixedRepayResult reports a fixed-maturity repayment: PositionAssets
// of debt covered and Assets of cash collected, net of the early
// discount or grossed up by the late penalty.
type FixedRepayResult struct {
	Maturity       uint64
	PositionAssets *big.Int
	Assets         *big.Int
	Discount       *big.Int
	Penalty        *big.Int
}

// RollResult reports a debt roll between maturities. The borrow leg
// draws exactly the repay leg's cost, so no cash changes hands.
type RollResult struct {
	Repaid   *FixedRepayResult
	Borrowed *FixedBorrowResult
}

// firstMaturity returns the earliest maturity strictly after now.
func (m *Market) firstMaturity() uint64 {
	return m.now - m.now%Interval + Interval
}

// OpenMaturities lists the maturities currently open for new fixed
// positions, earliest first.
func (m *Market) OpenMaturities() []uint64 {
	out := make([]uint64, 0, m.params.MaxFuturePools)
	first := m.firstMaturity()
	for i := 0; i < m.params.MaxFuturePools; i++ {
		out = append(out, first+uint64(i)*Interval)
	}
	return out
}

// validateMaturity checks grid alignment and the open window. Matured
// maturities pass only when allowMatured, for the withdraw and repay
// paths.
func (m *Market) validateMaturity(maturity uint64, allowMatured bool) error {
	if maturity == 0 || maturity%Interval != 0 {
		return ErrInvalidMaturity
	}
	latest := m.now - m.now%Interval + uint64(m.params.MaxFuturePools)*Interval
	if maturity > latest {
		return ErrInvalidMaturity
	}
	if !allowMatured && maturity <= m.now {
		return ErrAlreadyMatured
	}
	return nil
}

func (m *Market) pool(st *ledgerState, maturity uint64) *Pool {
	pool, ok := st.Pools[maturity]
	if !ok {
		pool = NewPool(m.now)
		st.Pools[maturity] = pool
	}
	return pool
}

// dropIfDrained removes pools with nothing left to account for.
func dropIfDrained(st *ledgerState, maturity uint64) {
	pool, ok := st.Pools[maturity]
	if !ok {
		return
	}
	if pool.Borrowed.Sign() == 0 && pool.Supplied.Sign() == 0 && pool.UnassignedEarnings.Sign() == 0 {
		delete(st.Pools, maturity)
	}
}

// DepositAtMaturity supplies assets to one fixed pool. The deposit
// buys out backup financing, so it immediately earns a share of the
// pool's unassigned earnings; principal plus that yield is credited at
// maturity. A non-zero minAssetsRequired bounds slippage.
func (m *Market) DepositAtMaturity(owner common.Address, maturity uint64, assets, minAssetsRequired *big.Int) (*FixedDepositResult, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if wad.IsZero(assets) || assets.Sign() < 0 {
		return nil, ErrZeroDeposit
	}
	if err := m.validateMaturity(maturity, false); err != nil {
		return nil, err
	}
	st := m.state.clone()
	m.accrue(st, maturity)
	pool := m.pool(st, maturity)

	yield, backupFee := pool.CalculateDeposit(assets, m.params.BackupFeeRate)
	credited := new(big.Int).Add(assets, yield)
	if minAssetsRequired != nil && credited.Cmp(minAssetsRequired) < 0 {
		return nil, ErrDisagreement
	}

	released := pool.Deposit(assets)
	pool.UnassignedEarnings = new(big.Int).Sub(pool.UnassignedEarnings, new(big.Int).Add(yield, backupFee))
	st.EarningsAccumulator = new(big.Int).Add(st.EarningsAccumulator, backupFee)
	if released.Sign() > 0 {
		st.FloatingBackupBorrowed = new(big.Int).Sub(st.FloatingBackupBorrowed, released)
	}

	account := m.account(st, owner)
	position, ok := account.FixedDeposits[maturity]
	if !ok {
		position = NewPosition()
		account.FixedDeposits[maturity] = position
		if err := account.DepositSet.Set(maturity); err != nil {
			return nil, err
		}
	}
	position.Principal = new(big.Int).Add(position.Principal, assets)
	position.Fee = new(big.Int).Add(position.Fee, yield)

	m.commit(st)
	return &FixedDepositResult{
		Maturity: maturity,
		Assets:   wad.Clone(assets),
		Yield:    yield,
		Credited: credited,
	}, nil
}

// BorrowAtMaturity draws assets against one fixed pool at a rate
// locked in now. A non-zero maxAssets bounds the total owed at
// maturity.
func (m *Market) BorrowAtMaturity(borrower common.Address, maturity uint64, assets, maxAssets *big.Int) (*FixedBorrowResult, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if wad.IsZero(assets) || assets.Sign() < 0 {
		return nil, ErrZeroBorrow
	}
	if err := m.validateMaturity(maturity, false); err != nil {
		return nil, err
	}
	st := m.state.clone()
	m.accrue(st, maturity)
	result, err := m.borrowFixedStaged(st, borrower, maturity, assets, maxAssets)
	if err != nil {
		return nil, err
	}
	m.commit(st)
	return result, nil
}

// borrowFixedStaged runs the borrow leg on the staged state so the
// roll path can share it.
func (m *Market) borrowFixedStaged(st *ledgerState, borrower common.Address, maturity uint64, assets, maxAssets *big.Int) (*FixedBorrowResult, error) {
	pool := m.pool(st, maturity)
	added := pool.Borrow(assets)
	if added.Sign() > 0 {
		st.FloatingBackupBorrowed = new(big.Int).Add(st.FloatingBackupBorrowed, added)
		lendable := wad.MulDown(st.FloatingAssets, new(big.Int).Sub(wad.One, m.params.ReserveFactor))
		if new(big.Int).Add(st.FloatingBackupBorrowed, st.FloatingDebt).Cmp(lendable) > 0 {
			return nil, ErrInsufficientProtocolLiquidity
		}
		_, uGlobal := m.utilizations(st)
		if uGlobal.Cmp(wad.One) > 0 {
			return nil, ErrUtilizationExceeded
		}
	}

	// The rate prices the pool's exposure after this borrow.
	uFixed := m.fixedUtilization(st, pool)
	uFloating, uGlobal := m.clampedUtilizations(st)
	rate, err := m.rates.FixedRate(maturity, m.params.MaxFuturePools, uFixed, uFloating, uGlobal, m.now)
	if err != nil {
		return nil, err
	}
	ratePortion := wad.MulDivUp(rate, new(big.Int).SetUint64(maturity-m.now), big.NewInt(yearSeconds))
	fee := wad.MulUp(assets, ratePortion)
	owed := new(big.Int).Add(assets, fee)
	if maxAssets != nil && maxAssets.Sign() > 0 && owed.Cmp(maxAssets) > 0 {
		return nil, ErrDisagreement
	}

	backupShare, treasuryShare := pool.DistributeEarnings(fee, m.params.ReserveFactor)
	pool.UnassignedEarnings = new(big.Int).Add(pool.UnassignedEarnings, backupShare)
	st.EarningsAccumulator = new(big.Int).Add(st.EarningsAccumulator, treasuryShare)

	account := m.account(st, borrower)
	position, ok := account.FixedBorrows[maturity]
	if !ok {
		position = NewPosition()
		account.FixedBorrows[maturity] = position
		if err := account.BorrowSet.Set(maturity); err != nil {
			return nil, err
		}
	}
	position.Principal = new(big.Int).Add(position.Principal, assets)
	position.Fee = new(big.Int).Add(position.Fee, fee)

	if m.risk != nil {
		if err := m.risk.CheckBorrow(m.name, borrower, m.snapshotStaged(st, borrower)); err != nil {
			return nil, err
		}
	}
	return &FixedBorrowResult{
		Maturity: maturity,
		Assets:   wad.Clone(assets),
		Fee:      fee,
		Owed:     owed,
		Rate:     rate,
	}, nil
}

// WithdrawAtMaturity takes positionAssets off the owner's deposit
// position. Before maturity the payout is the position value
// discounted at the current fixed rate for the remaining term; the
// haircut stays in the pool as unassigned earnings. A non-zero
// minAssetsRequired bounds slippage.
func (m *Market) WithdrawAtMaturity(owner common.Address, maturity uint64, positionAssets, minAssetsRequired *big.Int) (*FixedWithdrawResult, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if wad.IsZero(positionAssets) || positionAssets.Sign() < 0 {
		return nil, ErrZeroWithdraw
	}
	if err := m.validateMaturity(maturity, true); err != nil {
		return nil, err
	}
	st := m.state.clone()
	m.accrue(st, maturity)
	account := m.lookup(st, owner)
	if account == nil {
		return nil, ErrInsufficientBalance
	}
	position, ok := account.FixedDeposits[maturity]
	if !ok {
		return nil, ErrInsufficientBalance
	}
	amount := wad.Min(positionAssets, position.Total())

	assetsOut := wad.Clone(amount)
	if m.now < maturity {
		pool := m.pool(st, maturity)
		uFixed := m.fixedUtilization(st, pool)
		uFloating, uGlobal := m.clampedUtilizations(st)
		rate, err := m.rates.FixedRate(maturity, m.params.MaxFuturePools, uFixed, uFloating, uGlobal, m.now)
		if err != nil {
			return nil, err
		}
		factor := new(big.Int).Add(wad.One, wad.MulDivUp(rate, new(big.Int).SetUint64(maturity-m.now), big.NewInt(yearSeconds)))
		assetsOut = wad.DivDown(amount, factor)
	}
	if minAssetsRequired != nil && assetsOut.Cmp(minAssetsRequired) < 0 {
		return nil, ErrDisagreement
	}
	if assetsOut.Sign() == 0 {
		return nil, ErrZeroWithdraw
	}

	part := position.Scale(amount)
	pool := m.pool(st, maturity)
	added := pool.Withdraw(part.Principal)
	if added.Sign() > 0 {
		st.FloatingBackupBorrowed = new(big.Int).Add(st.FloatingBackupBorrowed, added)
		_, uGlobal := m.utilizations(st)
		if uGlobal.Cmp(wad.One) > 0 {
			return nil, ErrUtilizationExceeded
		}
	}
	if err := requireLiquidity(st); err != nil {
		return nil, err
	}

	haircut := new(big.Int).Sub(amount, assetsOut)
	if haircut.Sign() > 0 {
		pool.UnassignedEarnings = new(big.Int).Add(pool.UnassignedEarnings, haircut)
	}

	position.Reduce(part)
	if position.Principal.Sign() == 0 && position.Fee.Sign() == 0 {
		delete(account.FixedDeposits, maturity)
		account.DepositSet.Clear(maturity)
	}

	dropIfDrained(st, maturity)
	dropIfIdle(st, owner)
	m.commit(st)
	return &FixedWithdrawResult{
		Maturity:       maturity,
		PositionAssets: amount,
		Assets:         assetsOut,
	}, nil
}

// RepayAtMaturity covers positionAssets of the borrower's debt at one
// maturity. Early repayment earns the depositor-style discount out of
// the pool's unassigned earnings; late repayment pays the per-second
// penalty into the accumulator. A non-zero maxAssets bounds the cash
// collected.
func (m *Market) RepayAtMaturity(borrower common.Address, maturity uint64, positionAssets, maxAssets *big.Int) (*FixedRepayResult, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if wad.IsZero(positionAssets) || positionAssets.Sign() < 0 {
		return nil, ErrZeroRepay
	}
	if err := m.validateMaturity(maturity, true); err != nil {
		return nil, err
	}
	st := m.state.clone()
	m.accrue(st, maturity)
	result, err := m.repayFixedStaged(st, borrower, maturity, positionAssets, true)
	if err != nil {
		return nil, err
	}
	if maxAssets != nil && maxAssets.Sign() > 0 && result.Assets.Cmp(maxAssets) > 0 {
		return nil, ErrDisagreement
	}
	dropIfDrained(st, maturity)
	dropIfIdle(st, borrower)
	m.commit(st)
	return result, nil
}

// repayFixedStaged covers debt on the staged state and returns the
// cash cost. Liquidation reuses it with the discount disabled.
func (m *Market) repayFixedStaged(st *ledgerState, borrower common.Address, maturity uint64, positionAssets *big.Int, allowDiscount bool) (*FixedRepayResult, error) {
	account := m.lookup(st, borrower)
	if account == nil {
		return nil, ErrZeroRepay
	}
	position, ok := account.FixedBorrows[maturity]
	if !ok {
		return nil, ErrZeroRepay
	}
	amount := wad.Min(positionAssets, position.Total())
	if amount.Sign() == 0 {
		return nil, ErrZeroRepay
	}
	part := position.Scale(amount)
	pool := m.pool(st, maturity)

	actual := wad.Clone(amount)
	discount := big.NewInt(0)
	penalty := big.NewInt(0)
	switch {
	case m.now < maturity && allowDiscount:
		// Repaying principal releases backup financing just like a
		// deposit, so it earns the same buyout of unassigned earnings.
		yield, backupFee := pool.CalculateDeposit(part.Principal, m.params.BackupFeeRate)
		pool.UnassignedEarnings = new(big.Int).Sub(pool.UnassignedEarnings, new(big.Int).Add(yield, backupFee))
		st.EarningsAccumulator = new(big.Int).Add(st.EarningsAccumulator, backupFee)
		discount = yield
		actual = new(big.Int).Sub(actual, yield)
	case m.now > maturity:
		lateRate := new(big.Int).Mul(m.params.PenaltyRate, new(big.Int).SetUint64(m.now-maturity))
		penalty = wad.MulUp(amount, lateRate)
		actual = new(big.Int).Add(actual, penalty)
		st.EarningsAccumulator = new(big.Int).Add(st.EarningsAccumulator, penalty)
	}

	released := pool.Repay(part.Principal)
	if released.Sign() > 0 {
		st.FloatingBackupBorrowed = new(big.Int).Sub(st.FloatingBackupBorrowed, released)
	}

	position.Reduce(part)
	if position.Principal.Sign() == 0 && position.Fee.Sign() == 0 {
		delete(account.FixedBorrows, maturity)
		account.BorrowSet.Clear(maturity)
	}
	return &FixedRepayResult{
		Maturity:       maturity,
		PositionAssets: amount,
		Assets:         actual,
		Discount:       discount,
		Penalty:        penalty,
	}, nil
}

// RollAtMaturity moves the borrower's whole position at from into to,
// repaying the old leg (with its discount or penalty) and borrowing
// exactly that cost at the new maturity. maxRepayAssets and
// maxBorrowAssets bound each leg when non-zero.
func (m *Market) RollAtMaturity(borrower common.Address, from, to uint64, maxRepayAssets, maxBorrowAssets *big.Int) (*RollResult, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if from == to {
		return nil, ErrInvalidOperation
	}
	if err := m.validateMaturity(from, true); err != nil {
		return nil, err
	}
	if err := m.validateMaturity(to, false); err != nil {
		return nil, err
	}
	st := m.state.clone()
	m.accrue(st, from, to)
	account := m.lookup(st, borrower)
	if account == nil {
		return nil, ErrZeroRepay
	}
	position, ok := account.FixedBorrows[from]
	if !ok {
		return nil, ErrZeroRepay
	}

	repaid, err := m.repayFixedStaged(st, borrower, from, position.Total(), true)
	if err != nil {
		return nil, err
	}
	if maxRepayAssets != nil && maxRepayAssets.Sign() > 0 && repaid.Assets.Cmp(maxRepayAssets) > 0 {
		return nil, ErrDisagreement
	}
	borrowed, err := m.borrowFixedStaged(st, borrower, to, repaid.Assets, maxBorrowAssets)
	if err != nil {
		return nil, err
	}

	dropIfDrained(st, from)
	m.commit(st)
	return &RollResult{Repaid: repaid, Borrowed: borrowed}, nil
}

// PreviewDepositAtMaturity prices a fixed deposit on the committed
// state without mutating it.
func (m *Market) PreviewDepositAtMaturity(maturity uint64, assets *big.Int) (*FixedDepositResult, error) {
	if wad.IsZero(assets) || assets.Sign() < 0 {
		return nil, ErrZeroDeposit
	}
	if err := m.validateMaturity(maturity, false); err != nil {
		return nil, err
	}
	pool := NewPool(m.now)
	if committed, ok := m.state.Pools[maturity]; ok {
		pool = committed.Clone()
		pool.AccrueEarnings(maturity, m.now)
	}
	yield, _ := pool.CalculateDeposit(assets, m.params.BackupFeeRate)
	return &FixedDepositResult{
		Maturity: maturity,
		Assets:   wad.Clone(assets),
		Yield:    yield,
		Credited: new(big.Int).Add(assets, yield),
	}, nil
}

// PreviewBorrowAtMaturity prices a fixed borrow on the committed state
// without mutating it.
func (m *Market) PreviewBorrowAtMaturity(maturity uint64, assets *big.Int) (*FixedBorrowResult, error) {
	if wad.IsZero(assets) || assets.Sign() < 0 {
		return nil, ErrZeroBorrow
	}
	if err := m.validateMaturity(maturity, false); err != nil {
		return nil, err
	}
	st := m.state
	pool := NewPool(m.now)
	if committed, ok := st.Pools[maturity]; ok {
		pool = committed.Clone()
	}
	added := pool.Borrow(assets)
	global := new(big.Int).Add(st.FloatingDebt, st.FloatingBackupBorrowed)
	global.Add(global, added)
	uGlobal := m.utilization(global, st.FloatingAssetsAverage)
	ceiling := new(big.Int).Sub(m.rates.params.MaxUtilization, big.NewInt(1))
	if uGlobal.Cmp(ceiling) > 0 {
		uGlobal = ceiling
	}
	uFloating := m.utilization(st.FloatingDebt, st.FloatingAssetsAverage)
	if uFloating.Cmp(uGlobal) > 0 {
		uFloating = wad.Clone(uGlobal)
	}
	uFixed := m.utilization(pool.BackupSupplied(), st.FloatingAssetsAverage)
	rate, err := m.rates.FixedRate(maturity, m.params.MaxFuturePools, uFixed, uFloating, uGlobal, m.now)
	if err != nil {
		return nil, err
	}
	ratePortion := wad.MulDivUp(rate, new(big.Int).SetUint64(maturity-m.now), big.NewInt(yearSeconds))
	fee := wad.MulUp(assets, ratePortion)
	return &FixedBorrowResult{
		Maturity: maturity,
		Assets:   wad.Clone(assets),
		Fee:      fee,
		Owed:     new(big.Int).Add(assets, fee),
		Rate:     rate,
	}, nil
}
