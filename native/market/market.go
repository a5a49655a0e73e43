// Package market implements a dual-mode money-market ledger for one
// asset: an open floating pool with vault-style share accounting plus
// discrete fixed-maturity pools backed by the floating pool's
// liquidity. The engine owns all accrual, pricing and liquidation
// arithmetic; custody, transports and risk policy live elsewhere.
package market

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "termlend/native/common"
	"termlend/wad"
)

// yearSeconds converts annualized rates into per-second interest.
const yearSeconds = 365 * 24 * 60 * 60

// RiskEngine is the cross-market policy the ledger consults before
// releasing value. The staged snapshot reflects the in-flight
// operation so the engine never re-enters a mutating market.
type RiskEngine interface {
	CheckBorrow(marketName string, account common.Address, staged AccountSnapshot) error
	CheckShortfall(marketName string, account common.Address, staged AccountSnapshot) error
	CheckLiquidation(repayMarket, seizeMarket string, liquidator, borrower common.Address, maxAssets *big.Int, staged AccountSnapshot) (*big.Int, error)
	CalculateSeize(repayMarket, seizeMarket string, borrower common.Address, repaidAssets *big.Int) (seizeAssets, lendersAssets *big.Int, err error)
}

// Market is the orchestrating ledger for a single asset.
type Market struct {
	name   string
	params Parameters
	rates  *RateModel
	risk   RiskEngine
	pauses nativecommon.PauseView
	state  *ledgerState
	now    uint64
}

// ledgerState is the mutable accounting state. Operations stage a deep
// copy, mutate it and swap it in on success, so a failed operation
// leaves the committed state untouched.
type ledgerState struct {
	FloatingAssets         *big.Int
	TotalFloatingShares    *big.Int
	FloatingDebt           *big.Int
	TotalBorrowShares      *big.Int
	FloatingBackupBorrowed *big.Int
	EarningsAccumulator    *big.Int
	BadDebt                *big.Int
	FloatingAssetsAverage  *big.Int
	LastFloatingDebtUpdate uint64
	LastAccumulatorAccrual uint64
	LastAverageUpdate      uint64
	Pools                  map[uint64]*Pool
	Accounts               map[common.Address]*Account
}

func newLedgerState(now uint64) *ledgerState {
	return &ledgerState{
		FloatingAssets:         big.NewInt(0),
		TotalFloatingShares:    big.NewInt(0),
		FloatingDebt:           big.NewInt(0),
		TotalBorrowShares:      big.NewInt(0),
		FloatingBackupBorrowed: big.NewInt(0),
		EarningsAccumulator:    big.NewInt(0),
		BadDebt:                big.NewInt(0),
		FloatingAssetsAverage:  big.NewInt(0),
		LastFloatingDebtUpdate: now,
		LastAccumulatorAccrual: now,
		LastAverageUpdate:      now,
		Pools:                  make(map[uint64]*Pool),
		Accounts:               make(map[common.Address]*Account),
	}
}

func (s *ledgerState) clone() *ledgerState {
	clone := &ledgerState{
		FloatingAssets:         wad.Clone(s.FloatingAssets),
		TotalFloatingShares:    wad.Clone(s.TotalFloatingShares),
		FloatingDebt:           wad.Clone(s.FloatingDebt),
		TotalBorrowShares:      wad.Clone(s.TotalBorrowShares),
		FloatingBackupBorrowed: wad.Clone(s.FloatingBackupBorrowed),
		EarningsAccumulator:    wad.Clone(s.EarningsAccumulator),
		BadDebt:                wad.Clone(s.BadDebt),
		FloatingAssetsAverage:  wad.Clone(s.FloatingAssetsAverage),
		LastFloatingDebtUpdate: s.LastFloatingDebtUpdate,
		LastAccumulatorAccrual: s.LastAccumulatorAccrual,
		LastAverageUpdate:      s.LastAverageUpdate,
		Pools:                  make(map[uint64]*Pool, len(s.Pools)),
		Accounts:               make(map[common.Address]*Account, len(s.Accounts)),
	}
	for maturity, pool := range s.Pools {
		clone.Pools[maturity] = pool.Clone()
	}
	for addr, account := range s.Accounts {
		clone.Accounts[addr] = account.Clone()
	}
	return clone
}

// New builds an empty market ledger named for its asset.
func New(name string, params Parameters, rates *RateModel) (*Market, error) {
	if name == "" {
		return nil, ErrInvalidOperation
	}
	if rates == nil {
		return nil, ErrInvalidOperation
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Market{
		name:   name,
		params: params,
		rates:  rates,
		state:  newLedgerState(0),
	}, nil
}

// Name returns the market's asset name.
func (m *Market) Name() string { return m.name }

// Parameters returns the market configuration.
func (m *Market) Parameters() Parameters { return m.params }

// RateModel returns the pricing model.
func (m *Market) RateModel() *RateModel { return m.rates }

// SetRiskEngine wires the cross-market policy. Without one the ledger
// runs unconstrained, which is only appropriate in tests.
func (m *Market) SetRiskEngine(risk RiskEngine) { m.risk = risk }

// SetPauses wires the module pause switchboard.
func (m *Market) SetPauses(pauses nativecommon.PauseView) { m.pauses = pauses }

// SetTimestamp advances the ledger clock. The clock never goes
// backwards; earlier values are ignored.
func (m *Market) SetTimestamp(now uint64) {
	if now > m.now {
		m.now = now
	}
}

// Timestamp returns the current ledger clock.
func (m *Market) Timestamp() uint64 { return m.now }

func (m *Market) guard() error {
	return nativecommon.Guard(m.pauses, nativecommon.ModuleMarket)
}

// accrue folds all pending value into the staged state: the smoothed
// accumulator release, floating debt interest, the touched pools'
// earnings and finally the damped assets average the utilization math
// divides by.
func (m *Market) accrue(st *ledgerState, maturities ...uint64) {
	now := m.now

	// Treasury accumulator releases over a smoothing window scaled by
	// the number of open maturities.
	if elapsed := now - st.LastAccumulatorAccrual; elapsed > 0 {
		window := new(big.Int).Mul(m.params.SmoothFactor, new(big.Int).SetUint64(uint64(m.params.MaxFuturePools)*Interval))
		window.Add(window, new(big.Int).Mul(new(big.Int).SetUint64(elapsed), wad.One))
		released := wad.MulDivDown(st.EarningsAccumulator, new(big.Int).Mul(new(big.Int).SetUint64(elapsed), wad.One), window)
		st.EarningsAccumulator = new(big.Int).Sub(st.EarningsAccumulator, released)
		st.FloatingAssets = new(big.Int).Add(st.FloatingAssets, released)
		st.LastAccumulatorAccrual = now
	}

	// Floating debt compounds into both sides of the book: borrowers
	// owe it, floating suppliers earn it.
	if elapsed := now - st.LastFloatingDebtUpdate; elapsed > 0 {
		if st.FloatingDebt.Sign() > 0 {
			interest := m.projectFloatingInterest(st, elapsed)
			st.FloatingDebt = new(big.Int).Add(st.FloatingDebt, interest)
			st.FloatingAssets = new(big.Int).Add(st.FloatingAssets, interest)
		}
		st.LastFloatingDebtUpdate = now
	}

	for _, maturity := range maturities {
		if pool, ok := st.Pools[maturity]; ok {
			released := pool.AccrueEarnings(maturity, now)
			st.FloatingAssets = new(big.Int).Add(st.FloatingAssets, released)
		}
	}

	m.updateAssetsAverage(st)
}

// projectFloatingInterest prices the interest the floating debt owes
// for elapsed seconds at the current utilization. Accrual bookkeeping
// must never fail, so utilizations are clamped into the curve domain;
// the cap bounds the result.
func (m *Market) projectFloatingInterest(st *ledgerState, elapsed uint64) *big.Int {
	uFloating, uGlobal := m.clampedUtilizations(st)
	rate, err := m.rates.FloatingRate(uFloating, uGlobal)
	if err != nil {
		rate = wad.Clone(m.rates.params.MaxRate)
	}
	numerator := new(big.Int).Mul(rate, new(big.Int).SetUint64(elapsed))
	denominator := new(big.Int).Mul(big.NewInt(yearSeconds), wad.One)
	return wad.MulDivUp(st.FloatingDebt, numerator, denominator)
}

// updateAssetsAverage chases the floating assets with an exponential
// damper, fast on the way down and slow on the way up, so utilization
// cannot be gamed by flash supply.
func (m *Market) updateAssetsAverage(st *ledgerState) {
	elapsed := m.now - st.LastAverageUpdate
	if elapsed == 0 {
		return
	}
	speed := m.params.DampSpeedUp
	if st.FloatingAssets.Cmp(st.FloatingAssetsAverage) < 0 {
		speed = m.params.DampSpeedDown
	}
	exponent := new(big.Int).Mul(speed, new(big.Int).SetUint64(elapsed))
	factor := new(big.Int).Sub(wad.One, wad.Exp(exponent.Neg(exponent)))
	delta := new(big.Int).Sub(st.FloatingAssets, st.FloatingAssetsAverage)
	st.FloatingAssetsAverage = new(big.Int).Add(st.FloatingAssetsAverage, wad.MulDown(factor, delta))
	st.LastAverageUpdate = m.now
}

// utilization divides through the damped average, rounding up. A zero
// average with live exposure reports the curve maximum so pricing
// fails closed instead of dividing by zero.
func (m *Market) utilization(numerator, average *big.Int) *big.Int {
	if numerator.Sign() == 0 {
		return big.NewInt(0)
	}
	if average.Sign() == 0 {
		return wad.Clone(m.rates.params.MaxUtilization)
	}
	return wad.DivUp(numerator, average)
}

func (m *Market) utilizations(st *ledgerState) (uFloating, uGlobal *big.Int) {
	uFloating = m.utilization(st.FloatingDebt, st.FloatingAssetsAverage)
	global := new(big.Int).Add(st.FloatingDebt, st.FloatingBackupBorrowed)
	uGlobal = m.utilization(global, st.FloatingAssetsAverage)
	return uFloating, uGlobal
}

func (m *Market) clampedUtilizations(st *ledgerState) (uFloating, uGlobal *big.Int) {
	uFloating, uGlobal = m.utilizations(st)
	ceiling := new(big.Int).Sub(m.rates.params.MaxUtilization, big.NewInt(1))
	if uGlobal.Cmp(ceiling) > 0 {
		uGlobal = ceiling
	}
	if uFloating.Cmp(uGlobal) > 0 {
		uFloating = wad.Clone(uGlobal)
	}
	return uFloating, uGlobal
}

func (m *Market) fixedUtilization(st *ledgerState, pool *Pool) *big.Int {
	return m.utilization(pool.BackupSupplied(), st.FloatingAssetsAverage)
}

// pendingPoolEarnings projects the earnings every pool would release
// at now, without mutating anything.
func (m *Market) pendingPoolEarnings(st *ledgerState) *big.Int {
	total := big.NewInt(0)
	for maturity, pool := range st.Pools {
		total.Add(total, pool.pendingEarnings(maturity, m.now))
	}
	return total
}

func (m *Market) pendingAccumulatorRelease(st *ledgerState) *big.Int {
	elapsed := m.now - st.LastAccumulatorAccrual
	if elapsed == 0 || st.EarningsAccumulator.Sign() == 0 {
		return big.NewInt(0)
	}
	window := new(big.Int).Mul(m.params.SmoothFactor, new(big.Int).SetUint64(uint64(m.params.MaxFuturePools)*Interval))
	window.Add(window, new(big.Int).Mul(new(big.Int).SetUint64(elapsed), wad.One))
	return wad.MulDivDown(st.EarningsAccumulator, new(big.Int).Mul(new(big.Int).SetUint64(elapsed), wad.One), window)
}

func (m *Market) pendingFloatingInterest(st *ledgerState) *big.Int {
	elapsed := m.now - st.LastFloatingDebtUpdate
	if elapsed == 0 || st.FloatingDebt.Sign() == 0 {
		return big.NewInt(0)
	}
	return m.projectFloatingInterest(st, elapsed)
}

// totalAssets values the floating vault at now: recorded assets plus
// every pending accrual stream.
func (m *Market) totalAssets(st *ledgerState) *big.Int {
	total := wad.Clone(st.FloatingAssets)
	total.Add(total, m.pendingPoolEarnings(st))
	total.Add(total, m.pendingAccumulatorRelease(st))
	total.Add(total, m.pendingFloatingInterest(st))
	return total
}

func (m *Market) totalFloatingBorrowAssets(st *ledgerState) *big.Int {
	return new(big.Int).Add(st.FloatingDebt, m.pendingFloatingInterest(st))
}

// Vault share conversions. An empty vault converts one to one.

func (m *Market) sharesForDeposit(st *ledgerState, assets *big.Int) *big.Int {
	supply := st.TotalFloatingShares
	total := m.totalAssets(st)
	if supply.Sign() == 0 || total.Sign() == 0 {
		return wad.Clone(assets)
	}
	return wad.MulDivDown(assets, supply, total)
}

func (m *Market) assetsForMint(st *ledgerState, shares *big.Int) *big.Int {
	supply := st.TotalFloatingShares
	total := m.totalAssets(st)
	if supply.Sign() == 0 || total.Sign() == 0 {
		return wad.Clone(shares)
	}
	return wad.MulDivUp(shares, total, supply)
}

func (m *Market) sharesForWithdraw(st *ledgerState, assets *big.Int) *big.Int {
	supply := st.TotalFloatingShares
	total := m.totalAssets(st)
	if supply.Sign() == 0 || total.Sign() == 0 {
		return wad.Clone(assets)
	}
	return wad.MulDivUp(assets, supply, total)
}

func (m *Market) assetsForRedeem(st *ledgerState, shares *big.Int) *big.Int {
	supply := st.TotalFloatingShares
	total := m.totalAssets(st)
	if supply.Sign() == 0 || total.Sign() == 0 {
		return wad.Clone(shares)
	}
	return wad.MulDivDown(shares, total, supply)
}

func (m *Market) borrowSharesUp(st *ledgerState, assets *big.Int) *big.Int {
	supply := st.TotalBorrowShares
	total := m.totalFloatingBorrowAssets(st)
	if supply.Sign() == 0 || total.Sign() == 0 {
		return wad.Clone(assets)
	}
	return wad.MulDivUp(assets, supply, total)
}

func (m *Market) borrowSharesDown(st *ledgerState, assets *big.Int) *big.Int {
	supply := st.TotalBorrowShares
	total := m.totalFloatingBorrowAssets(st)
	if supply.Sign() == 0 || total.Sign() == 0 {
		return wad.Clone(assets)
	}
	return wad.MulDivDown(assets, supply, total)
}

func (m *Market) borrowAssetsUp(st *ledgerState, shares *big.Int) *big.Int {
	supply := st.TotalBorrowShares
	if supply.Sign() == 0 {
		return wad.Clone(shares)
	}
	return wad.MulDivUp(shares, m.totalFloatingBorrowAssets(st), supply)
}

func (m *Market) account(st *ledgerState, addr common.Address) *Account {
	account, ok := st.Accounts[addr]
	if !ok {
		account = NewAccount()
		st.Accounts[addr] = account
	}
	return account
}

func (m *Market) lookup(st *ledgerState, addr common.Address) *Account {
	return st.Accounts[addr]
}

// requireLiquidity rejects staged states where recorded assets no
// longer cover the liquidity lent out through both channels.
func requireLiquidity(st *ledgerState) error {
	need := new(big.Int).Add(st.FloatingBackupBorrowed, st.FloatingDebt)
	if st.FloatingAssets.Cmp(need) < 0 {
		return ErrInsufficientProtocolLiquidity
	}
	return nil
}

func (m *Market) commit(st *ledgerState) {
	m.state = st
}

// dropIfIdle removes empty account shells so state stays compact.
func dropIfIdle(st *ledgerState, addr common.Address) {
	if account, ok := st.Accounts[addr]; ok && account.Idle() {
		delete(st.Accounts, addr)
	}
}

// fixedDebtWithPenalty values a borrow position at now, growing it by
// the penalty rate once the maturity has passed.
func (m *Market) fixedDebtWithPenalty(position *Position, maturity uint64) *big.Int {
	owed := position.Total()
	if m.now <= maturity {
		return owed
	}
	late := new(big.Int).SetUint64(m.now - maturity)
	penalty := wad.MulUp(owed, new(big.Int).Mul(m.params.PenaltyRate, late))
	return owed.Add(owed, penalty)
}

// snapshotStaged prices one account's standing on the staged state:
// floating deposit value as collateral, every debt stream as debt.
func (m *Market) snapshotStaged(st *ledgerState, addr common.Address) AccountSnapshot {
	snapshot := AccountSnapshot{Collateral: big.NewInt(0), Debt: big.NewInt(0)}
	account := m.lookup(st, addr)
	if account == nil {
		return snapshot
	}
	if account.FloatingShares.Sign() > 0 {
		snapshot.Collateral = m.assetsForRedeem(st, account.FloatingShares)
	}
	if account.BorrowShares.Sign() > 0 {
		snapshot.Debt = m.borrowAssetsUp(st, account.BorrowShares)
	}
	for _, maturity := range account.BorrowSet.Ascending() {
		position, ok := account.FixedBorrows[maturity]
		if !ok {
			continue
		}
		snapshot.Debt = new(big.Int).Add(snapshot.Debt, m.fixedDebtWithPenalty(position, maturity))
	}
	return snapshot
}

// AccountSnapshot prices an account's committed standing at now.
func (m *Market) AccountSnapshot(addr common.Address) AccountSnapshot {
	return m.snapshotStaged(m.state, addr)
}

// TotalAssets values the floating vault at now.
func (m *Market) TotalAssets() *big.Int {
	return m.totalAssets(m.state)
}

// TotalFloatingBorrowAssets values outstanding floating debt at now.
func (m *Market) TotalFloatingBorrowAssets() *big.Int {
	return m.totalFloatingBorrowAssets(m.state)
}

// BalanceOf returns an account's floating vault shares.
func (m *Market) BalanceOf(addr common.Address) *big.Int {
	if account := m.lookup(m.state, addr); account != nil {
		return wad.Clone(account.FloatingShares)
	}
	return big.NewInt(0)
}

// AssetsOf values an account's floating deposit in asset units.
func (m *Market) AssetsOf(addr common.Address) *big.Int {
	if account := m.lookup(m.state, addr); account != nil {
		return m.assetsForRedeem(m.state, account.FloatingShares)
	}
	return big.NewInt(0)
}

// FloatingDebtOf values an account's floating debt in asset units.
func (m *Market) FloatingDebtOf(addr common.Address) *big.Int {
	if account := m.lookup(m.state, addr); account != nil && account.BorrowShares.Sign() > 0 {
		return m.borrowAssetsUp(m.state, account.BorrowShares)
	}
	return big.NewInt(0)
}

// FixedBorrowPosition returns a copy of the account's borrow position
// at maturity, or nil.
func (m *Market) FixedBorrowPosition(addr common.Address, maturity uint64) *Position {
	if account := m.lookup(m.state, addr); account != nil {
		if position, ok := account.FixedBorrows[maturity]; ok {
			return position.Clone()
		}
	}
	return nil
}

// FixedDepositPosition returns a copy of the account's deposit
// position at maturity, or nil.
func (m *Market) FixedDepositPosition(addr common.Address, maturity uint64) *Position {
	if account := m.lookup(m.state, addr); account != nil {
		if position, ok := account.FixedDeposits[maturity]; ok {
			return position.Clone()
		}
	}
	return nil
}

// FixedMaturitiesOf lists the maturities where the account holds fixed
// deposits and fixed borrows, ascending.
func (m *Market) FixedMaturitiesOf(addr common.Address) (deposits, borrows []uint64) {
	if account := m.lookup(m.state, addr); account != nil {
		return account.DepositSet.Ascending(), account.BorrowSet.Ascending()
	}
	return nil, nil
}

// Utilizations reports the committed floating and global utilization.
func (m *Market) Utilizations() (uFloating, uGlobal *big.Int) {
	return m.utilizations(m.state)
}

// StateSnapshot captures the committed aggregates for telemetry.
func (m *Market) StateSnapshot() Snapshot {
	st := m.state
	uFloating, uGlobal := m.utilizations(st)
	snapshot := Snapshot{
		Name:                   m.name,
		Timestamp:              m.now,
		FloatingAssets:         wad.Clone(st.FloatingAssets),
		FloatingShares:         wad.Clone(st.TotalFloatingShares),
		FloatingDebt:           wad.Clone(st.FloatingDebt),
		BorrowShares:           wad.Clone(st.TotalBorrowShares),
		FloatingBackupBorrowed: wad.Clone(st.FloatingBackupBorrowed),
		EarningsAccumulator:    wad.Clone(st.EarningsAccumulator),
		BadDebt:                wad.Clone(st.BadDebt),
		FloatingAssetsAverage:  wad.Clone(st.FloatingAssetsAverage),
		TotalAssets:            m.totalAssets(st),
		UtilizationFloating:    uFloating,
		UtilizationGlobal:      uGlobal,
		Pools:                  make(map[uint64]PoolSnapshot, len(st.Pools)),
	}
	for maturity, pool := range st.Pools {
		snapshot.Pools[maturity] = PoolSnapshot{
			Borrowed:           wad.Clone(pool.Borrowed),
			Supplied:           wad.Clone(pool.Supplied),
			UnassignedEarnings: wad.Clone(pool.UnassignedEarnings),
			LastAccrual:        pool.LastAccrual,
		}
	}
	return snapshot
}

// ActiveMaturities lists maturities with a live pool, ascending.
func (m *Market) ActiveMaturities() []uint64 {
	out := make([]uint64, 0, len(m.state.Pools))
	for maturity := range m.state.Pools {
		out = append(out, maturity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DepositResult reports a floating deposit or mint.
type DepositResult struct {
	Assets *big.Int
	Shares *big.Int
}

// WithdrawResult reports a floating withdrawal or redemption.
type WithdrawResult struct {
	Assets *big.Int
	Shares *big.Int
}

// BorrowResult reports a floating borrow.
type BorrowResult struct {
	Assets *big.Int
	Shares *big.Int
}

// RepayResult reports a floating repayment; Assets is the cash that
// actually changed hands after clamping to the outstanding debt.
type RepayResult struct {
	Assets *big.Int
	Shares *big.Int
}

// Deposit supplies assets to the floating pool for vault shares.
func (m *Market) Deposit(owner common.Address, assets *big.Int) (*DepositResult, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if wad.IsZero(assets) || assets.Sign() < 0 {
		return nil, ErrZeroDeposit
	}
	st := m.state.clone()
	m.accrue(st)
	shares := m.sharesForDeposit(st, assets)
	if shares.Sign() == 0 {
		return nil, ErrZeroDeposit
	}
	st.FloatingAssets = new(big.Int).Add(st.FloatingAssets, assets)
	st.TotalFloatingShares = new(big.Int).Add(st.TotalFloatingShares, shares)
	account := m.account(st, owner)
	account.FloatingShares = new(big.Int).Add(account.FloatingShares, shares)
	m.commit(st)
	return &DepositResult{Assets: wad.Clone(assets), Shares: shares}, nil
}

// Mint supplies whatever assets buy exactly shares vault shares.
func (m *Market) Mint(owner common.Address, shares *big.Int) (*DepositResult, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if wad.IsZero(shares) || shares.Sign() < 0 {
		return nil, ErrZeroDeposit
	}
	st := m.state.clone()
	m.accrue(st)
	assets := m.assetsForMint(st, shares)
	st.FloatingAssets = new(big.Int).Add(st.FloatingAssets, assets)
	st.TotalFloatingShares = new(big.Int).Add(st.TotalFloatingShares, shares)
	account := m.account(st, owner)
	account.FloatingShares = new(big.Int).Add(account.FloatingShares, shares)
	m.commit(st)
	return &DepositResult{Assets: assets, Shares: wad.Clone(shares)}, nil
}

// Withdraw redeems exactly assets from the owner's floating deposit.
func (m *Market) Withdraw(owner common.Address, assets *big.Int) (*WithdrawResult, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if wad.IsZero(assets) || assets.Sign() < 0 {
		return nil, ErrZeroWithdraw
	}
	st := m.state.clone()
	m.accrue(st)
	shares := m.sharesForWithdraw(st, assets)
	return m.withdrawStaged(st, owner, assets, shares)
}

// Redeem burns exactly shares for their current asset value.
func (m *Market) Redeem(owner common.Address, shares *big.Int) (*WithdrawResult, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if wad.IsZero(shares) || shares.Sign() < 0 {
		return nil, ErrZeroWithdraw
	}
	st := m.state.clone()
	m.accrue(st)
	assets := m.assetsForRedeem(st, shares)
	if assets.Sign() == 0 {
		return nil, ErrZeroWithdraw
	}
	return m.withdrawStaged(st, owner, assets, shares)
}

func (m *Market) withdrawStaged(st *ledgerState, owner common.Address, assets, shares *big.Int) (*WithdrawResult, error) {
	account := m.lookup(st, owner)
	if account == nil || account.FloatingShares.Cmp(shares) < 0 {
		return nil, ErrInsufficientBalance
	}
	account.FloatingShares = new(big.Int).Sub(account.FloatingShares, shares)
	st.TotalFloatingShares = new(big.Int).Sub(st.TotalFloatingShares, shares)
	st.FloatingAssets = new(big.Int).Sub(st.FloatingAssets, assets)
	if err := requireLiquidity(st); err != nil {
		return nil, err
	}
	if m.risk != nil {
		if err := m.risk.CheckShortfall(m.name, owner, m.snapshotStaged(st, owner)); err != nil {
			return nil, err
		}
	}
	dropIfIdle(st, owner)
	m.commit(st)
	return &WithdrawResult{Assets: wad.Clone(assets), Shares: wad.Clone(shares)}, nil
}

// Borrow draws assets from the floating pool against the borrower's
// collateral elsewhere. Debt is tracked in borrow shares so accrual
// never iterates accounts.
func (m *Market) Borrow(borrower common.Address, assets *big.Int) (*BorrowResult, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if wad.IsZero(assets) || assets.Sign() < 0 {
		return nil, ErrZeroBorrow
	}
	st := m.state.clone()
	m.accrue(st)
	shares := m.borrowSharesUp(st, assets)
	st.FloatingDebt = new(big.Int).Add(st.FloatingDebt, assets)
	st.TotalBorrowShares = new(big.Int).Add(st.TotalBorrowShares, shares)

	// The reserve factor keeps part of the floating pool out of reach
	// of floating borrowing.
	lendable := wad.MulDown(st.FloatingAssets, new(big.Int).Sub(wad.One, m.params.ReserveFactor))
	committed := new(big.Int).Add(st.FloatingDebt, st.FloatingBackupBorrowed)
	if committed.Cmp(lendable) > 0 {
		return nil, ErrInsufficientProtocolLiquidity
	}

	account := m.account(st, borrower)
	account.BorrowShares = new(big.Int).Add(account.BorrowShares, shares)
	if m.risk != nil {
		if err := m.risk.CheckBorrow(m.name, borrower, m.snapshotStaged(st, borrower)); err != nil {
			return nil, err
		}
	}
	m.commit(st)
	return &BorrowResult{Assets: wad.Clone(assets), Shares: shares}, nil
}

// Repay pays down floating debt by asset amount, clamped to what is
// owed.
func (m *Market) Repay(borrower common.Address, assets *big.Int) (*RepayResult, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if wad.IsZero(assets) || assets.Sign() < 0 {
		return nil, ErrZeroRepay
	}
	st := m.state.clone()
	m.accrue(st)
	actual, shares, err := m.repayFloatingStaged(st, borrower, assets)
	if err != nil {
		return nil, err
	}
	dropIfIdle(st, borrower)
	m.commit(st)
	return &RepayResult{Assets: actual, Shares: shares}, nil
}

// Refund pays down floating debt by share count, the exact-shares
// companion to Repay.
func (m *Market) Refund(borrower common.Address, shares *big.Int) (*RepayResult, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if wad.IsZero(shares) || shares.Sign() < 0 {
		return nil, ErrZeroRepay
	}
	st := m.state.clone()
	m.accrue(st)
	account := m.lookup(st, borrower)
	if account == nil || account.BorrowShares.Cmp(shares) < 0 {
		return nil, ErrInsufficientBalance
	}
	assets := m.borrowAssetsUp(st, shares)
	account.BorrowShares = new(big.Int).Sub(account.BorrowShares, shares)
	st.TotalBorrowShares = new(big.Int).Sub(st.TotalBorrowShares, shares)
	writeDownFloatingDebt(st, assets)
	dropIfIdle(st, borrower)
	m.commit(st)
	return &RepayResult{Assets: assets, Shares: wad.Clone(shares)}, nil
}

// repayFloatingStaged pays floating debt on the staged state and
// returns the cash that changed hands and the shares written down.
func (m *Market) repayFloatingStaged(st *ledgerState, borrower common.Address, assets *big.Int) (actual, shares *big.Int, err error) {
	account := m.lookup(st, borrower)
	if account == nil || account.BorrowShares.Sign() == 0 {
		return nil, nil, ErrZeroRepay
	}
	owed := m.borrowAssetsUp(st, account.BorrowShares)
	actual = wad.Min(assets, owed)
	if actual.Cmp(owed) == 0 {
		shares = wad.Clone(account.BorrowShares)
	} else {
		shares = m.borrowSharesDown(st, actual)
	}
	account.BorrowShares = new(big.Int).Sub(account.BorrowShares, shares)
	st.TotalBorrowShares = new(big.Int).Sub(st.TotalBorrowShares, shares)
	writeDownFloatingDebt(st, actual)
	return actual, shares, nil
}

// writeDownFloatingDebt reduces the floating debt by an asset amount
// collected from a borrower. Per-account debt rounds up, so the last
// repayment can exceed the recorded total by a few wei; that excess is
// income and lands in the accumulator.
func writeDownFloatingDebt(st *ledgerState, assets *big.Int) {
	if assets.Cmp(st.FloatingDebt) > 0 {
		excess := new(big.Int).Sub(assets, st.FloatingDebt)
		st.EarningsAccumulator = new(big.Int).Add(st.EarningsAccumulator, excess)
		st.FloatingDebt = big.NewInt(0)
		return
	}
	st.FloatingDebt = new(big.Int).Sub(st.FloatingDebt, assets)
}
