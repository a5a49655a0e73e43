package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"termlend/wad"
)

// LiquidateResult reports a liquidation. The liquidator pays Repaid
// plus LendersAssets into this market and receives SeizedAssets from
// the seize market's floating deposits of the borrower.
type LiquidateResult struct {
	Borrower      common.Address
	Repaid        *big.Int
	LendersAssets *big.Int
	SeizedAssets  *big.Int
	SeizedShares  *big.Int
	SeizeMarket   string
	FixedLegs     []*FixedRepayResult
	FloatingLeg   *RepayResult
}

// BadDebtResult reports a bad debt write-off: Covered came out of the
// earnings accumulator, Uncovered was socialized into the bad debt
// counter.
type BadDebtResult struct {
	Borrower  common.Address
	Covered   *big.Int
	Uncovered *big.Int
}

// Liquidate repays an unhealthy borrower's debt out of the
// liquidator's pocket and seizes discounted collateral from the
// borrower's floating deposit in seizeMarket. The risk engine sets the
// repay budget; fixed positions are covered earliest maturity first,
// then the floating debt. Both markets commit only if every leg
// succeeds.
func (m *Market) Liquidate(liquidator, borrower common.Address, maxAssets *big.Int, seizeMarket *Market) (*LiquidateResult, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if seizeMarket == nil {
		seizeMarket = m
	}
	if liquidator == borrower {
		return nil, ErrInvalidOperation
	}
	if m.risk == nil {
		return nil, ErrNoRiskEngine
	}
	if wad.IsZero(maxAssets) || maxAssets.Sign() < 0 {
		return nil, ErrZeroRepay
	}

	st := m.state.clone()
	account := m.lookup(st, borrower)
	if account == nil {
		return nil, ErrZeroRepay
	}
	maturities := account.BorrowSet.Ascending()
	m.accrue(st, maturities...)

	budget, err := m.risk.CheckLiquidation(m.name, seizeMarket.Name(), liquidator, borrower, maxAssets, m.snapshotStaged(st, borrower))
	if err != nil {
		return nil, err
	}
	if budget == nil || budget.Sign() <= 0 {
		return nil, ErrZeroRepay
	}

	remaining := wad.Clone(budget)
	repaid := big.NewInt(0)
	var legs []*FixedRepayResult
	for _, maturity := range maturities {
		if remaining.Sign() == 0 {
			break
		}
		position, ok := account.FixedBorrows[maturity]
		if !ok {
			continue
		}
		total := position.Total()
		var cover *big.Int
		if m.now > maturity {
			lateRate := new(big.Int).Mul(m.params.PenaltyRate, new(big.Int).SetUint64(m.now-maturity))
			factor := new(big.Int).Add(wad.One, lateRate)
			cover = wad.Min(total, wad.DivDown(remaining, factor))
			// Rounding can push the grossed-up cost a wei past the
			// budget; walk it back.
			for cover.Sign() > 0 {
				cost := new(big.Int).Add(cover, wad.MulUp(cover, lateRate))
				if cost.Cmp(remaining) <= 0 {
					break
				}
				cover = new(big.Int).Sub(cover, big.NewInt(1))
			}
			if cover.Sign() == 0 {
				break
			}
		} else {
			cover = wad.Min(total, remaining)
		}
		leg, err := m.repayFixedStaged(st, borrower, maturity, cover, false)
		if err != nil {
			return nil, err
		}
		remaining = new(big.Int).Sub(remaining, leg.Assets)
		repaid = new(big.Int).Add(repaid, leg.Assets)
		legs = append(legs, leg)
		dropIfDrained(st, maturity)
	}

	var floatingLeg *RepayResult
	if remaining.Sign() > 0 && account.BorrowShares.Sign() > 0 {
		actual, shares, err := m.repayFloatingStaged(st, borrower, remaining)
		if err != nil {
			return nil, err
		}
		floatingLeg = &RepayResult{Assets: actual, Shares: shares}
		repaid = new(big.Int).Add(repaid, actual)
	}
	if repaid.Sign() == 0 {
		return nil, ErrZeroRepay
	}

	seizeAssets, lendersAssets, err := m.risk.CalculateSeize(m.name, seizeMarket.Name(), borrower, repaid)
	if err != nil {
		return nil, err
	}
	st.EarningsAccumulator = new(big.Int).Add(st.EarningsAccumulator, lendersAssets)

	result := &LiquidateResult{
		Borrower:      borrower,
		Repaid:        repaid,
		LendersAssets: wad.Clone(lendersAssets),
		SeizeMarket:   seizeMarket.Name(),
		FixedLegs:     legs,
		FloatingLeg:   floatingLeg,
	}
	if seizeMarket == m {
		seized, shares, err := m.seizeStaged(st, borrower, seizeAssets)
		if err != nil {
			return nil, err
		}
		result.SeizedAssets = seized
		result.SeizedShares = shares
		dropIfIdle(st, borrower)
		m.commit(st)
		return result, nil
	}

	seizeSt := seizeMarket.state.clone()
	seizeMarket.accrue(seizeSt)
	seized, shares, err := seizeMarket.seizeStaged(seizeSt, borrower, seizeAssets)
	if err != nil {
		return nil, err
	}
	result.SeizedAssets = seized
	result.SeizedShares = shares
	dropIfIdle(st, borrower)
	m.commit(st)
	seizeMarket.commit(seizeSt)
	return result, nil
}

// seizeStaged force-withdraws assets from the borrower's floating
// deposit, clamped to the whole balance, and returns what was actually
// taken.
func (m *Market) seizeStaged(st *ledgerState, borrower common.Address, assets *big.Int) (seized, shares *big.Int, err error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, nil, ErrZeroWithdraw
	}
	account := m.lookup(st, borrower)
	if account == nil || account.FloatingShares.Sign() == 0 {
		return nil, nil, ErrZeroWithdraw
	}
	seized = wad.Clone(assets)
	shares = m.sharesForWithdraw(st, assets)
	if shares.Cmp(account.FloatingShares) > 0 {
		shares = wad.Clone(account.FloatingShares)
		seized = m.assetsForRedeem(st, shares)
		if seized.Sign() == 0 {
			return nil, nil, ErrZeroWithdraw
		}
	}
	account.FloatingShares = new(big.Int).Sub(account.FloatingShares, shares)
	st.TotalFloatingShares = new(big.Int).Sub(st.TotalFloatingShares, shares)
	st.FloatingAssets = new(big.Int).Sub(st.FloatingAssets, seized)
	if err := requireLiquidity(st); err != nil {
		return nil, nil, err
	}
	dropIfIdle(st, borrower)
	return seized, shares, nil
}

// ClearBadDebt force-closes every debt position of a borrower whose
// collateral is exhausted. The earnings accumulator absorbs what it
// can; the remainder is socialized into the bad debt counter. No
// penalties are charged on the write-off.
func (m *Market) ClearBadDebt(borrower common.Address) (*BadDebtResult, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	st := m.state.clone()
	account := m.lookup(st, borrower)
	if account == nil {
		return nil, ErrZeroRepay
	}
	maturities := account.BorrowSet.Ascending()
	m.accrue(st, maturities...)

	covered := big.NewInt(0)
	uncovered := big.NewInt(0)
	writeOff := func(owed *big.Int) {
		take := wad.Min(st.EarningsAccumulator, owed)
		st.EarningsAccumulator = new(big.Int).Sub(st.EarningsAccumulator, take)
		covered = new(big.Int).Add(covered, take)
		short := new(big.Int).Sub(owed, take)
		if short.Sign() > 0 {
			st.BadDebt = new(big.Int).Add(st.BadDebt, short)
			uncovered = new(big.Int).Add(uncovered, short)
		}
	}

	for _, maturity := range maturities {
		position, ok := account.FixedBorrows[maturity]
		if !ok {
			continue
		}
		pool := m.pool(st, maturity)
		released := pool.Repay(position.Principal)
		if released.Sign() > 0 {
			st.FloatingBackupBorrowed = new(big.Int).Sub(st.FloatingBackupBorrowed, released)
		}
		writeOff(position.Total())
		delete(account.FixedBorrows, maturity)
		account.BorrowSet.Clear(maturity)
		dropIfDrained(st, maturity)
	}

	if account.BorrowShares.Sign() > 0 {
		// Per-account debt rounds up; the write-off clears at most the
		// recorded total.
		owed := wad.Min(m.borrowAssetsUp(st, account.BorrowShares), st.FloatingDebt)
		st.TotalBorrowShares = new(big.Int).Sub(st.TotalBorrowShares, account.BorrowShares)
		st.FloatingDebt = new(big.Int).Sub(st.FloatingDebt, owed)
		account.BorrowShares = big.NewInt(0)
		writeOff(owed)
	}

	if covered.Sign() == 0 && uncovered.Sign() == 0 {
		return nil, ErrZeroRepay
	}
	dropIfIdle(st, borrower)
	m.commit(st)
	return &BadDebtResult{Borrower: borrower, Covered: covered, Uncovered: uncovered}, nil
}
