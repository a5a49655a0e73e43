package market

import (
	"math/big"
	"testing"

	"termlend/wad"
)

const (
	m1 = Interval
	m2 = 2 * Interval
)

// warmHarness seeds floating liquidity and lets the assets average
// catch up so utilization checks see the real pool size.
func warmHarness(t *testing.T, liquidity int64) *marketHarness {
	t.Helper()
	h := newHarness(t)
	h.deposit(makeAddress(0xaa), liquidity)
	h.advance(3600)
	return h
}

func TestFixedDepositThenExactWithdrawAtMaturity(t *testing.T) {
	h := warmHarness(t, 1_000_000)
	bob := makeAddress(0x02)

	res := h.depositFixed(bob, m1, 10_000)
	if res.Yield.Sign() != 0 {
		t.Fatalf("idle pool should pay no yield, got %s", res.Yield)
	}
	if res.Credited.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("credited: got %s want 10000", res.Credited)
	}
	position := h.market.FixedDepositPosition(bob, m1)
	if position == nil || position.Principal.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("deposit position not recorded: %+v", position)
	}

	h.advance(m1 - h.market.Timestamp())
	out := h.withdrawFixed(bob, m1, big.NewInt(10_000))
	if out.Assets.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("withdraw at maturity: got %s want 10000", out.Assets)
	}
	if h.market.FixedDepositPosition(bob, m1) != nil {
		t.Fatalf("position should be gone after full withdrawal")
	}
	if _, ok := h.market.state.Pools[m1]; ok {
		t.Fatalf("drained pool should have been dropped")
	}
}

func TestFixedBorrowFeeSplitAndEarlyRepayDiscount(t *testing.T) {
	h := warmHarness(t, 1_000_000)
	bob := makeAddress(0x02)
	carol := makeAddress(0x03)

	res := h.borrowFixed(bob, m1, 100_000)
	wantPortion := wad.MulDivUp(res.Rate, new(big.Int).SetUint64(m1-h.market.Timestamp()), big.NewInt(yearSeconds))
	wantFee := wad.MulUp(big.NewInt(100_000), wantPortion)
	if res.Fee.Cmp(wantFee) != 0 {
		t.Fatalf("borrow fee: got %s want %s", res.Fee, wantFee)
	}
	if res.Fee.Sign() <= 0 {
		t.Fatalf("fee should be positive, got %s", res.Fee)
	}

	// The pool is entirely backup financed, so the fee splits between
	// unassigned earnings and the accumulator with the reserve cut.
	pool := h.market.state.Pools[m1]
	split := new(big.Int).Add(pool.UnassignedEarnings, h.market.state.EarningsAccumulator)
	if split.Cmp(res.Fee) != 0 {
		t.Fatalf("fee split: unassigned %s + accumulator %s != fee %s",
			pool.UnassignedEarnings, h.market.state.EarningsAccumulator, res.Fee)
	}
	if got := h.market.state.FloatingBackupBorrowed; got.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("backup borrowed: got %s want 100000", got)
	}

	h.advance(1_000_000)
	dep := h.depositFixed(carol, m1, 40_000)
	if dep.Yield.Sign() <= 0 {
		t.Fatalf("deposit displacing backup should earn yield, got %s", dep.Yield)
	}
	if got := h.market.state.FloatingBackupBorrowed; got.Cmp(big.NewInt(60_000)) != 0 {
		t.Fatalf("backup after deposit: got %s want 60000", got)
	}

	// Repaying the whole borrow early claims all remaining unassigned
	// earnings, less the backup fee kept for the treasury.
	unassigned := wad.Clone(h.market.state.Pools[m1].UnassignedEarnings)
	backupFee := wad.MulDown(unassigned, h.market.params.BackupFeeRate)
	wantDiscount := new(big.Int).Sub(unassigned, backupFee)
	position := h.market.FixedBorrowPosition(bob, m1)
	rep := h.repayFixed(bob, m1, position.Total())
	if rep.Discount.Cmp(wantDiscount) != 0 {
		t.Fatalf("early repay discount: got %s want %s", rep.Discount, wantDiscount)
	}
	wantPaid := new(big.Int).Sub(position.Total(), wantDiscount)
	if rep.Assets.Cmp(wantPaid) != 0 {
		t.Fatalf("early repay cost: got %s want %s", rep.Assets, wantPaid)
	}
	if h.market.FixedBorrowPosition(bob, m1) != nil {
		t.Fatalf("borrow position should be gone")
	}
	if got := h.market.state.FloatingBackupBorrowed; got.Sign() != 0 {
		t.Fatalf("backup after full repay: got %s want 0", got)
	}
}

func TestFixedRepayLatePaysPenalty(t *testing.T) {
	h := warmHarness(t, 1_000_000)
	bob := makeAddress(0x02)

	h.borrowFixed(bob, m1, 50_000)
	position := h.market.FixedBorrowPosition(bob, m1)
	total := position.Total()

	const lateBy = 86_400
	h.advance(m1 + lateBy - h.market.Timestamp())

	lateRate := new(big.Int).Mul(h.market.params.PenaltyRate, big.NewInt(lateBy))
	wantPenalty := wad.MulUp(total, lateRate)
	snap := h.market.AccountSnapshot(bob)
	wantDebt := new(big.Int).Add(total, wantPenalty)
	if snap.Debt.Cmp(wantDebt) != 0 {
		t.Fatalf("late debt snapshot: got %s want %s", snap.Debt, wantDebt)
	}

	rep := h.repayFixed(bob, m1, total)
	if rep.Penalty.Cmp(wantPenalty) != 0 {
		t.Fatalf("penalty: got %s want %s", rep.Penalty, wantPenalty)
	}
	if rep.Assets.Cmp(wantDebt) != 0 {
		t.Fatalf("late repay cost: got %s want %s", rep.Assets, wantDebt)
	}
}

func TestMaturityWindowValidation(t *testing.T) {
	h := warmHarness(t, 100_000)
	bob := makeAddress(0x02)

	open := h.market.OpenMaturities()
	if len(open) != h.market.params.MaxFuturePools || open[0] != m1 {
		t.Fatalf("open maturities: got %v", open)
	}

	h.requireFail(ErrInvalidMaturity, func() error {
		_, err := h.market.DepositAtMaturity(bob, m1+5, big.NewInt(100), nil)
		return err
	})
	h.requireFail(ErrInvalidMaturity, func() error {
		_, err := h.market.DepositAtMaturity(bob, 7*Interval, big.NewInt(100), nil)
		return err
	})
	h.requireFail(ErrInvalidMaturity, func() error {
		_, err := h.market.BorrowAtMaturity(bob, 0, big.NewInt(100), nil)
		return err
	})

	h.advance(m1 + 1 - h.market.Timestamp())
	h.requireFail(ErrAlreadyMatured, func() error {
		_, err := h.market.DepositAtMaturity(bob, m1, big.NewInt(100), nil)
		return err
	})
	h.requireFail(ErrAlreadyMatured, func() error {
		_, err := h.market.BorrowAtMaturity(bob, m1, big.NewInt(100), nil)
		return err
	})
}

func TestFixedSlippageBounds(t *testing.T) {
	h := warmHarness(t, 1_000_000)
	bob := makeAddress(0x02)

	h.requireFail(ErrDisagreement, func() error {
		_, err := h.market.BorrowAtMaturity(bob, m1, big.NewInt(10_000), big.NewInt(10_000))
		return err
	})
	h.requireFail(ErrDisagreement, func() error {
		_, err := h.market.DepositAtMaturity(bob, m1, big.NewInt(10_000), big.NewInt(20_000))
		return err
	})
}

func TestEarlyWithdrawDiscountStaysInPool(t *testing.T) {
	h := warmHarness(t, 1_000_000)
	carol := makeAddress(0x03)

	h.depositFixed(carol, m2, 50_000)
	h.advance(1000)

	out := h.withdrawFixed(carol, m2, big.NewInt(25_000))
	if out.Assets.Cmp(big.NewInt(25_000)) >= 0 {
		t.Fatalf("early withdrawal should be discounted, got %s", out.Assets)
	}
	haircut := new(big.Int).Sub(big.NewInt(25_000), out.Assets)
	pool := h.market.state.Pools[m2]
	if pool.UnassignedEarnings.Cmp(haircut) != 0 {
		t.Fatalf("haircut should stay unassigned: got %s want %s", pool.UnassignedEarnings, haircut)
	}
	position := h.market.FixedDepositPosition(carol, m2)
	if position.Principal.Cmp(big.NewInt(25_000)) != 0 {
		t.Fatalf("remaining principal: got %s want 25000", position.Principal)
	}

	h.advance(m2 - h.market.Timestamp())
	rest := h.withdrawFixed(carol, m2, big.NewInt(25_000))
	if rest.Assets.Cmp(big.NewInt(25_000)) != 0 {
		t.Fatalf("withdrawal at maturity should be exact, got %s", rest.Assets)
	}
}

func TestRollMovesDebtAcrossMaturities(t *testing.T) {
	h := warmHarness(t, 1_000_000)
	bob := makeAddress(0x02)

	h.borrowFixed(bob, m1, 30_000)
	h.requireFail(ErrInvalidOperation, func() error {
		_, err := h.market.RollAtMaturity(bob, m1, m1, nil, nil)
		return err
	})

	cashBefore := wad.Clone(h.cash)
	res := h.roll(bob, m1, m2)
	if h.cash.Cmp(cashBefore) != 0 {
		t.Fatalf("roll moved cash: %s -> %s", cashBefore, h.cash)
	}
	if h.market.FixedBorrowPosition(bob, m1) != nil {
		t.Fatalf("old position should be gone")
	}
	rolled := h.market.FixedBorrowPosition(bob, m2)
	if rolled == nil || rolled.Principal.Cmp(res.Repaid.Assets) != 0 {
		t.Fatalf("rolled principal: got %+v want %s", rolled, res.Repaid.Assets)
	}
	account := h.market.state.Accounts[bob]
	maturities := account.BorrowSet.Ascending()
	if len(maturities) != 1 || maturities[0] != m2 {
		t.Fatalf("borrow set after roll: got %v want [%d]", maturities, m2)
	}
}

func TestFixedBorrowBlockedWhileAverageCatchesUp(t *testing.T) {
	h := newHarness(t)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)

	h.deposit(alice, 100_000)
	h.advance(60)

	// One minute in, the damped average still sees a much smaller
	// pool, so this borrow reads as over-utilized.
	h.requireFail(ErrUtilizationExceeded, func() error {
		_, err := h.market.BorrowAtMaturity(bob, m1, big.NewInt(50_000), nil)
		return err
	})

	h.advance(7200)
	h.borrowFixed(bob, m1, 50_000)
}

func TestAccumulatorSmoothRelease(t *testing.T) {
	h := warmHarness(t, 100_000_000)
	bob := makeAddress(0x02)

	h.borrowFixed(bob, m1, 10_000_000)
	accumulated := wad.Clone(h.market.state.EarningsAccumulator)
	if accumulated.Sign() <= 0 {
		t.Fatalf("treasury share should have accrued, got %s", accumulated)
	}

	const elapsed = 30 * 24 * 3600
	h.advance(elapsed)
	assetsBefore := wad.Clone(h.market.state.FloatingAssets)
	h.deposit(makeAddress(0xaa), 1)

	window := new(big.Int).Mul(h.market.params.SmoothFactor, new(big.Int).SetUint64(uint64(h.market.params.MaxFuturePools)*Interval))
	elapsedWad := new(big.Int).Mul(big.NewInt(elapsed), wad.One)
	window.Add(window, elapsedWad)
	wantReleased := wad.MulDivDown(accumulated, elapsedWad, window)
	if wantReleased.Sign() <= 0 {
		t.Fatalf("expected a visible release, got %s", wantReleased)
	}
	wantAccumulator := new(big.Int).Sub(accumulated, wantReleased)
	if got := h.market.state.EarningsAccumulator; got.Cmp(wantAccumulator) != 0 {
		t.Fatalf("accumulator after release: got %s want %s", got, wantAccumulator)
	}
	floatingGain := new(big.Int).Sub(h.market.state.FloatingAssets, assetsBefore)
	floatingGain.Sub(floatingGain, big.NewInt(1))
	if floatingGain.Cmp(wantReleased) < 0 {
		t.Fatalf("floating assets should absorb the release: gained %s want at least %s", floatingGain, wantReleased)
	}
}
