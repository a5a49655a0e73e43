package market

import (
	"math/big"
	"testing"

	"termlend/wad"
)

func TestLiquidateCoversFixedThenFloating(t *testing.T) {
	h := newHarness(t)
	risk := newMockRisk()
	h.market.SetRiskEngine(risk)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)
	larry := makeAddress(0x04)

	h.deposit(alice, 1_000_000)
	h.advance(3600)
	h.deposit(bob, 300_000)
	h.borrowFixed(bob, m1, 100_000)
	h.borrow(bob, 50_000)

	h.advance(m1 + 86_400 - h.market.Timestamp())
	balanceBefore := h.market.BalanceOf(bob)

	res := h.liquidate(larry, bob, big.NewInt(10_000_000))
	if len(res.FixedLegs) != 1 || res.FixedLegs[0].Maturity != m1 {
		t.Fatalf("fixed legs: got %+v", res.FixedLegs)
	}
	if res.FixedLegs[0].Penalty.Sign() <= 0 {
		t.Fatalf("late leg should carry a penalty, got %s", res.FixedLegs[0].Penalty)
	}
	if res.FloatingLeg == nil {
		t.Fatalf("floating leg should have been repaid")
	}
	if h.market.FixedBorrowPosition(bob, m1) != nil {
		t.Fatalf("fixed debt should be cleared")
	}
	if got := h.market.FloatingDebtOf(bob); got.Sign() != 0 {
		t.Fatalf("floating debt should be cleared, got %s", got)
	}

	premium := new(big.Int).Add(wad.One, risk.bonusRate)
	premium.Add(premium, risk.lendersRate)
	wantSeize := wad.MulUp(res.Repaid, premium)
	if res.SeizedAssets.Cmp(wantSeize) != 0 {
		t.Fatalf("seized assets: got %s want %s", res.SeizedAssets, wantSeize)
	}
	wantLenders := wad.MulDown(res.Repaid, risk.lendersRate)
	if res.LendersAssets.Cmp(wantLenders) != 0 {
		t.Fatalf("lenders share: got %s want %s", res.LendersAssets, wantLenders)
	}
	balanceAfter := h.market.BalanceOf(bob)
	wantBalance := new(big.Int).Sub(balanceBefore, res.SeizedShares)
	if balanceAfter.Cmp(wantBalance) != 0 {
		t.Fatalf("collateral shares: got %s want %s", balanceAfter, wantBalance)
	}
	if h.market.state.EarningsAccumulator.Cmp(wantLenders) < 0 {
		t.Fatalf("accumulator should hold at least the lenders share")
	}
}

func TestLiquidateBudgetClampLeavesRemainder(t *testing.T) {
	h := newHarness(t)
	risk := newMockRisk()
	risk.budget = big.NewInt(30_000)
	h.market.SetRiskEngine(risk)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)
	larry := makeAddress(0x04)

	h.deposit(alice, 1_000_000)
	h.advance(3600)
	h.deposit(bob, 300_000)
	h.borrowFixed(bob, m1, 100_000)
	h.borrow(bob, 50_000)
	totalBefore := h.market.FixedBorrowPosition(bob, m1).Total()
	floatingBefore := h.market.FloatingDebtOf(bob)

	res := h.liquidate(larry, bob, big.NewInt(10_000_000))
	if res.Repaid.Cmp(big.NewInt(30_000)) != 0 {
		t.Fatalf("budgeted repay: got %s want 30000", res.Repaid)
	}
	if res.FloatingLeg != nil {
		t.Fatalf("floating leg should be untouched inside the budget")
	}
	remainder := h.market.FixedBorrowPosition(bob, m1)
	wantRemainder := new(big.Int).Sub(totalBefore, big.NewInt(30_000))
	if remainder.Total().Cmp(wantRemainder) != 0 {
		t.Fatalf("remaining fixed debt: got %s want %s", remainder.Total(), wantRemainder)
	}
	if got := h.market.FloatingDebtOf(bob); got.Cmp(floatingBefore) != 0 {
		t.Fatalf("floating debt changed: got %s want %s", got, floatingBefore)
	}
}

func TestLiquidateGuards(t *testing.T) {
	h := newHarness(t)
	risk := newMockRisk()
	h.market.SetRiskEngine(risk)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)
	larry := makeAddress(0x04)

	h.deposit(alice, 100_000)
	h.advance(3600)
	h.deposit(bob, 30_000)
	h.borrowFixed(bob, m1, 10_000)

	h.requireFail(ErrInvalidOperation, func() error {
		_, err := h.market.Liquidate(bob, bob, big.NewInt(1000), nil)
		return err
	})
	h.requireFail(ErrZeroRepay, func() error {
		_, err := h.market.Liquidate(larry, bob, big.NewInt(0), nil)
		return err
	})
	h.requireFail(ErrZeroRepay, func() error {
		_, err := h.market.Liquidate(larry, makeAddress(0x7f), big.NewInt(1000), nil)
		return err
	})

	risk.budget = big.NewInt(0)
	h.requireFail(ErrZeroRepay, func() error {
		_, err := h.market.Liquidate(larry, bob, big.NewInt(1000), nil)
		return err
	})
	risk.budget = nil

	h.market.SetRiskEngine(nil)
	h.requireFail(ErrNoRiskEngine, func() error {
		_, err := h.market.Liquidate(larry, bob, big.NewInt(1000), nil)
		return err
	})
}

func TestLiquidateCrossMarketSeizesAndStaysAtomic(t *testing.T) {
	alpha := newHarness(t)
	beta := newHarness(t)
	risk := newMockRisk()
	alpha.market.SetRiskEngine(risk)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)
	carol := makeAddress(0x03)
	larry := makeAddress(0x04)

	beta.deposit(bob, 500_000)
	alpha.deposit(alice, 1_000_000)
	alpha.advance(3600)
	alpha.borrowFixed(bob, m1, 100_000)
	alpha.borrowFixed(carol, m1, 10_000)

	betaBalanceBefore := beta.market.BalanceOf(bob)
	res, err := alpha.market.Liquidate(larry, bob, big.NewInt(10_000_000), beta.market)
	if err != nil {
		t.Fatalf("cross-market liquidate: %v", err)
	}
	alpha.cash.Add(alpha.cash, res.Repaid)
	alpha.cash.Add(alpha.cash, res.LendersAssets)
	beta.cash.Sub(beta.cash, res.SeizedAssets)
	alpha.audit()
	beta.audit()

	if res.SeizeMarket != beta.market.Name() {
		t.Fatalf("seize market: got %s want %s", res.SeizeMarket, beta.market.Name())
	}
	if alpha.market.FixedBorrowPosition(bob, m1) != nil {
		t.Fatalf("alpha debt should be cleared")
	}
	wantBalance := new(big.Int).Sub(betaBalanceBefore, res.SeizedShares)
	if got := beta.market.BalanceOf(bob); got.Cmp(wantBalance) != 0 {
		t.Fatalf("beta collateral: got %s want %s", got, wantBalance)
	}

	// Carol holds no collateral in beta, so her liquidation must fail
	// without touching either market.
	alphaBefore, alphaSaved := alpha.market.state, fingerprint(alpha.market.state)
	betaBefore, betaSaved := beta.market.state, fingerprint(beta.market.state)
	if _, err := alpha.market.Liquidate(larry, carol, big.NewInt(10_000_000), beta.market); err != ErrZeroWithdraw {
		t.Fatalf("expected %v, got %v", ErrZeroWithdraw, err)
	}
	if alpha.market.state != alphaBefore || fingerprint(alpha.market.state) != alphaSaved {
		t.Fatalf("failed liquidation mutated the repay market")
	}
	if beta.market.state != betaBefore || fingerprint(beta.market.state) != betaSaved {
		t.Fatalf("failed liquidation mutated the seize market")
	}
}

func TestClearBadDebtSocializesShortfall(t *testing.T) {
	h := newHarness(t)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)

	h.deposit(alice, 1_000_000)
	h.advance(3600)
	h.borrowFixed(bob, m1, 200_000)
	h.borrow(bob, 50_000)

	accumulator := wad.Clone(h.market.state.EarningsAccumulator)
	fixedOwed := h.market.FixedBorrowPosition(bob, m1).Total()

	res := h.clearBadDebt(bob)
	if res.Covered.Cmp(accumulator) != 0 {
		t.Fatalf("covered: got %s want %s", res.Covered, accumulator)
	}
	wantUncovered := new(big.Int).Add(fixedOwed, big.NewInt(50_000))
	wantUncovered.Sub(wantUncovered, accumulator)
	if res.Uncovered.Cmp(wantUncovered) != 0 {
		t.Fatalf("uncovered: got %s want %s", res.Uncovered, wantUncovered)
	}
	if got := h.market.state.BadDebt; got.Cmp(wantUncovered) != 0 {
		t.Fatalf("bad debt counter: got %s want %s", got, wantUncovered)
	}
	if got := h.market.state.EarningsAccumulator; got.Sign() != 0 {
		t.Fatalf("accumulator should be drained, got %s", got)
	}
	if _, ok := h.market.state.Accounts[bob]; ok {
		t.Fatalf("cleared borrower should be dropped")
	}
	if got := h.market.state.FloatingBackupBorrowed; got.Sign() != 0 {
		t.Fatalf("backup borrowed after write-off: got %s want 0", got)
	}
	if got := h.market.state.FloatingDebt; got.Sign() != 0 {
		t.Fatalf("floating debt after write-off: got %s want 0", got)
	}

	// The pool keeps its unassigned earnings for the floating pool.
	pool := h.market.state.Pools[m1]
	if pool == nil || pool.UnassignedEarnings.Sign() <= 0 {
		t.Fatalf("pool earnings should survive the write-off")
	}

	h.requireFail(ErrZeroRepay, func() error {
		_, err := h.market.ClearBadDebt(makeAddress(0x7f))
		return err
	})
}
