package core

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"termlend/core/errors"
	"termlend/core/events"
	"termlend/core/genesis"
	"termlend/core/state"
	"termlend/native/auditor"
	nativecommon "termlend/native/common"
	"termlend/native/market"
	"termlend/storage"
)

// Node is the central controller. It owns the markets, the risk
// engine and the price feed, serializes every mutation behind one
// lock, persists committed state and fans out events.
type Node struct {
	mu       sync.Mutex
	manager  *state.Manager
	risk     *auditor.Auditor
	feed     *auditor.StaticFeed
	markets  map[string]*market.Market
	order    []string
	emitter  events.Emitter
	now      uint64
	pausesMu sync.RWMutex
	paused   map[string]struct{}
}

// NewNode opens or initialises a node over the database. The genesis
// spec is required on every start: the first boot applies it and pins
// its digest, later boots verify the digest and restore the saved
// ledgers.
func NewNode(db storage.Database, spec *genesis.Spec, emitter events.Emitter) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("database must not be nil")
	}
	if spec == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}

	feed := auditor.NewStaticFeed()
	risk, err := auditor.New(spec.RiskParameters(), feed)
	if err != nil {
		return nil, err
	}

	n := &Node{
		manager: state.NewManager(db),
		risk:    risk,
		feed:    feed,
		markets: make(map[string]*market.Market),
		emitter: emitter,
		paused:  make(map[string]struct{}),
	}

	for _, seed := range spec.MarketSeeds() {
		rates, err := market.NewRateModel(seed.Rates)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", seed.Name, err)
		}
		m, err := market.New(seed.Name, seed.Params, rates)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", seed.Name, err)
		}
		m.SetRiskEngine(risk)
		m.SetPauses(n)
		if err := risk.RegisterMarket(m, seed.AdjustFactor); err != nil {
			return nil, fmt.Errorf("market %s: %w", seed.Name, err)
		}
		n.markets[seed.Name] = m
		n.order = append(n.order, seed.Name)
	}

	stored, initialised, err := n.manager.GenesisDigest()
	if err != nil {
		return nil, err
	}
	digest := spec.Digest()
	switch {
	case !initialised:
		if err := n.applyGenesis(spec, digest); err != nil {
			return nil, err
		}
	case stored != digest:
		return nil, errors.ErrGenesisMismatch
	default:
		if err := n.restore(); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// applyGenesis seeds a fresh database: clocks, initial quotes and
// empty ledgers, then the digest pin last so a failed first boot
// retries cleanly.
func (n *Node) applyGenesis(spec *genesis.Spec, digest [32]byte) error {
	n.now = spec.GenesisTime
	n.risk.SetTimestamp(n.now)
	listings := make([]state.MarketListing, 0, len(n.order))
	quotes := make([]state.Quote, 0, len(n.order))
	for _, seed := range spec.MarketSeeds() {
		m := n.markets[seed.Name]
		m.SetTimestamp(n.now)
		n.feed.Post(seed.Name, seed.Price, n.now)
		if err := n.persistMarket(m); err != nil {
			return err
		}
		listings = append(listings, state.MarketListing{Name: seed.Name, AdjustFactor: seed.AdjustFactor})
		quotes = append(quotes, state.Quote{Market: seed.Name, Price: seed.Price, UpdatedAt: n.now})
		n.emitter.Emit(events.MarketListed{Market: seed.Name, AdjustFactor: seed.AdjustFactor})
		n.emitter.Emit(events.PriceUpdated{Market: seed.Name, Price: seed.Price, UpdatedAt: n.now})
	}
	if err := n.manager.SaveListings(listings); err != nil {
		return err
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Market < quotes[j].Market })
	if err := n.manager.SaveQuotes(quotes); err != nil {
		return err
	}
	if err := n.manager.SaveMemberships(nil); err != nil {
		return err
	}
	if err := n.manager.SavePauses(nil); err != nil {
		return err
	}
	if err := n.manager.SaveClock(n.now); err != nil {
		return err
	}
	return n.manager.SaveGenesisDigest(digest)
}

// restore rebuilds the in-memory ledgers from the database.
func (n *Node) restore() error {
	clock, err := n.manager.Clock()
	if err != nil {
		return err
	}
	n.now = clock
	n.risk.SetTimestamp(clock)

	for _, name := range n.order {
		blob, ok, err := n.manager.LoadMarket(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("market %s: %w", name, errors.ErrMissingState)
		}
		if err := n.markets[name].RestoreState(blob); err != nil {
			return err
		}
		// Blobs carry the clock of their last mutation; the committed
		// node clock may have ticked past it since.
		n.markets[name].SetTimestamp(clock)
	}

	quotes, err := n.manager.Quotes()
	if err != nil {
		return err
	}
	for _, quote := range quotes {
		n.feed.Post(quote.Market, quote.Price, quote.UpdatedAt)
	}

	members, err := n.manager.Memberships()
	if err != nil {
		return err
	}
	for _, member := range members {
		for _, name := range member.Markets {
			if err := n.risk.EnterMarket(member.Account, name); err != nil {
				return fmt.Errorf("restore membership %s: %w", name, err)
			}
		}
	}

	paused, err := n.manager.Pauses()
	if err != nil {
		return err
	}
	for _, module := range paused {
		n.paused[module] = struct{}{}
	}
	return nil
}

func (n *Node) lockedMarket(name string) (*market.Market, error) {
	if m, ok := n.markets[name]; ok {
		return m, nil
	}
	return nil, errors.ErrUnknownMarket
}

func (n *Node) persistMarket(m *market.Market) error {
	blob, err := m.SerializeState()
	if err != nil {
		return err
	}
	return n.manager.SaveMarket(m.Name(), blob)
}

func (n *Node) persistMemberships() error {
	accounts := n.risk.Accounts()
	members := make([]state.Membership, 0, len(accounts))
	for _, account := range accounts {
		members = append(members, state.Membership{
			Account: account,
			Markets: n.risk.Membership(account),
		})
	}
	return n.manager.SaveMemberships(members)
}

func (n *Node) persistQuotes() error {
	posted := n.feed.Quotes()
	names := make([]string, 0, len(posted))
	for name := range posted {
		names = append(names, name)
	}
	sort.Strings(names)
	quotes := make([]state.Quote, 0, len(names))
	for _, name := range names {
		quotes = append(quotes, state.Quote{
			Market:    name,
			Price:     posted[name].Price,
			UpdatedAt: posted[name].UpdatedAt,
		})
	}
	return n.manager.SaveQuotes(quotes)
}

// IsPaused reports whether the named module is switched off. Markets
// consult this through their pause guard on every operation.
func (n *Node) IsPaused(module string) bool {
	n.pausesMu.RLock()
	defer n.pausesMu.RUnlock()
	_, ok := n.paused[module]
	return ok
}

// Pause switches a module off until Resume.
func (n *Node) Pause(module string) error {
	if !nativecommon.Known(module) {
		return nativecommon.ErrUnknownModule
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pausesMu.Lock()
	n.paused[module] = struct{}{}
	n.pausesMu.Unlock()
	return n.savePauses()
}

// Resume switches a module back on.
func (n *Node) Resume(module string) error {
	if !nativecommon.Known(module) {
		return nativecommon.ErrUnknownModule
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pausesMu.Lock()
	delete(n.paused, module)
	n.pausesMu.Unlock()
	return n.savePauses()
}

func (n *Node) savePauses() error {
	n.pausesMu.RLock()
	list := make([]string, 0, len(n.paused))
	for module := range n.paused {
		list = append(list, module)
	}
	n.pausesMu.RUnlock()
	return n.manager.SavePauses(list)
}

// SetTimestamp advances every ledger clock and persists the new time.
// The clock never rewinds.
func (n *Node) SetTimestamp(now uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if now < n.now {
		return errors.ErrClockRewind
	}
	n.now = now
	n.risk.SetTimestamp(now)
	for _, name := range n.order {
		n.markets[name].SetTimestamp(now)
	}
	return n.manager.SaveClock(now)
}

// Timestamp returns the committed ledger time.
func (n *Node) Timestamp() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.now
}

// Markets lists the market names in genesis order.
func (n *Node) Markets() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.order))
	copy(out, n.order)
	return out
}

// Quotes returns the latest posted price per market.
func (n *Node) Quotes() map[string]auditor.Quote {
	return n.feed.Quotes()
}

// MarketSnapshot returns the committed aggregates for one market.
func (n *Node) MarketSnapshot(name string) (market.Snapshot, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(name)
	if err != nil {
		return market.Snapshot{}, err
	}
	return m.StateSnapshot(), nil
}

// OpenMaturities lists the maturities open for new fixed positions.
func (n *Node) OpenMaturities(name string) ([]uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(name)
	if err != nil {
		return nil, err
	}
	return m.OpenMaturities(), nil
}

// FixedPositionStatus is one maturity's claim or obligation.
type FixedPositionStatus struct {
	Maturity  uint64
	Principal *big.Int
	Fee       *big.Int
}

// MarketAccountStatus is an account's standing in one market.
type MarketAccountStatus struct {
	FloatingShares *big.Int
	FloatingAssets *big.Int
	FloatingDebt   *big.Int
	FixedDeposits  []FixedPositionStatus
	FixedBorrows   []FixedPositionStatus
}

// AccountStatus is an account's standing across every market plus the
// risk engine's valuation of it.
type AccountStatus struct {
	Address     common.Address
	Memberships []string
	Collateral  *big.Int
	Debt        *big.Int
	Markets     map[string]MarketAccountStatus
}

func fixedStatuses(maturities []uint64, lookup func(uint64) *market.Position) []FixedPositionStatus {
	out := make([]FixedPositionStatus, 0, len(maturities))
	for _, maturity := range maturities {
		position := lookup(maturity)
		if position == nil {
			continue
		}
		out = append(out, FixedPositionStatus{
			Maturity:  maturity,
			Principal: position.Principal,
			Fee:       position.Fee,
		})
	}
	return out
}

// AccountStatus reports the account's balances in every market and
// the risk engine's adjusted valuation. Valuation needs fresh prices
// for the entered markets; balances are reported regardless.
func (n *Node) AccountStatus(account common.Address) (*AccountStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	status := &AccountStatus{
		Address:     account,
		Memberships: n.risk.Membership(account),
		Markets:     make(map[string]MarketAccountStatus, len(n.order)),
	}
	for _, name := range n.order {
		m := n.markets[name]
		deposits, borrows := m.FixedMaturitiesOf(account)
		status.Markets[name] = MarketAccountStatus{
			FloatingShares: m.BalanceOf(account),
			FloatingAssets: m.AssetsOf(account),
			FloatingDebt:   m.FloatingDebtOf(account),
			FixedDeposits: fixedStatuses(deposits, func(maturity uint64) *market.Position {
				return m.FixedDepositPosition(account, maturity)
			}),
			FixedBorrows: fixedStatuses(borrows, func(maturity uint64) *market.Position {
				return m.FixedBorrowPosition(account, maturity)
			}),
		}
	}
	collateral, debt, err := n.risk.AccountLiquidity(account)
	if err != nil {
		if len(status.Memberships) > 0 {
			return status, err
		}
		collateral, debt = big.NewInt(0), big.NewInt(0)
	}
	status.Collateral = collateral
	status.Debt = debt
	return status, nil
}

// AccountLiquidity reports the risk engine's adjusted valuation.
func (n *Node) AccountLiquidity(account common.Address) (collateral, debt *big.Int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.risk.AccountLiquidity(account)
}

// MaturityRate is one open maturity's preview pricing for a reference
// amount: what borrowing costs and what depositing earns.
type MaturityRate struct {
	Maturity     uint64
	BorrowRate   *big.Int
	DepositYield *big.Int
}

// RatePreview prices a reference amount against the current books.
type RatePreview struct {
	Assets       *big.Int
	UtilFloating *big.Int
	UtilGlobal   *big.Int
	FloatingRate *big.Int
	Fixed        []MaturityRate
}

// PreviewRates prices assets against every open maturity plus the
// floating curve. Maturities the amount cannot be priced at, for
// example a borrow exceeding available liquidity, are skipped.
func (n *Node) PreviewRates(name string, assets *big.Int) (*RatePreview, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(name)
	if err != nil {
		return nil, err
	}
	uFloating, uGlobal := m.Utilizations()
	preview := &RatePreview{
		Assets:       assets,
		UtilFloating: uFloating,
		UtilGlobal:   uGlobal,
	}
	if rate, err := m.RateModel().FloatingRate(uFloating, uGlobal); err == nil {
		preview.FloatingRate = rate
	}
	for _, maturity := range m.OpenMaturities() {
		entry := MaturityRate{Maturity: maturity}
		priced := false
		if borrow, err := m.PreviewBorrowAtMaturity(maturity, assets); err == nil {
			entry.BorrowRate = borrow.Rate
			priced = true
		}
		if deposit, err := m.PreviewDepositAtMaturity(maturity, assets); err == nil {
			entry.DepositYield = deposit.Yield
			priced = true
		}
		if priced {
			preview.Fixed = append(preview.Fixed, entry)
		}
	}
	return preview, nil
}

// Deposit supplies assets to a market's floating pool.
func (n *Node) Deposit(name string, account common.Address, assets *big.Int) (*market.DepositResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(name)
	if err != nil {
		return nil, err
	}
	res, err := m.Deposit(account, assets)
	if err != nil {
		return nil, err
	}
	if err := n.persistMarket(m); err != nil {
		return nil, err
	}
	n.emitter.Emit(events.Deposit{Market: name, Account: account, Assets: res.Assets, Shares: res.Shares})
	return res, nil
}

// Mint supplies whatever assets buy exactly shares of the floating
// pool.
func (n *Node) Mint(name string, account common.Address, shares *big.Int) (*market.DepositResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(name)
	if err != nil {
		return nil, err
	}
	res, err := m.Mint(account, shares)
	if err != nil {
		return nil, err
	}
	if err := n.persistMarket(m); err != nil {
		return nil, err
	}
	n.emitter.Emit(events.Deposit{Market: name, Account: account, Assets: res.Assets, Shares: res.Shares})
	return res, nil
}

// Withdraw redeems floating shares worth exactly assets.
func (n *Node) Withdraw(name string, account common.Address, assets *big.Int) (*market.WithdrawResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(name)
	if err != nil {
		return nil, err
	}
	res, err := m.Withdraw(account, assets)
	if err != nil {
		return nil, err
	}
	if err := n.persistMarket(m); err != nil {
		return nil, err
	}
	n.emitter.Emit(events.Withdraw{Market: name, Account: account, Assets: res.Assets, Shares: res.Shares})
	return res, nil
}

// Redeem burns exactly shares of the floating pool.
func (n *Node) Redeem(name string, account common.Address, shares *big.Int) (*market.WithdrawResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(name)
	if err != nil {
		return nil, err
	}
	res, err := m.Redeem(account, shares)
	if err != nil {
		return nil, err
	}
	if err := n.persistMarket(m); err != nil {
		return nil, err
	}
	n.emitter.Emit(events.Withdraw{Market: name, Account: account, Assets: res.Assets, Shares: res.Shares})
	return res, nil
}

// Borrow draws floating-rate debt. Borrowing can enter the account
// into the market's collateral set, so memberships are persisted with
// the ledger.
func (n *Node) Borrow(name string, account common.Address, assets *big.Int) (*market.BorrowResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(name)
	if err != nil {
		return nil, err
	}
	res, err := m.Borrow(account, assets)
	if err != nil {
		return nil, err
	}
	if err := n.persistMarket(m); err != nil {
		return nil, err
	}
	if err := n.persistMemberships(); err != nil {
		return nil, err
	}
	n.emitter.Emit(events.Borrow{Market: name, Account: account, Assets: res.Assets, Shares: res.Shares})
	return res, nil
}

// Repay pays floating debt down by assets.
func (n *Node) Repay(name string, account common.Address, assets *big.Int) (*market.RepayResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(name)
	if err != nil {
		return nil, err
	}
	res, err := m.Repay(account, assets)
	if err != nil {
		return nil, err
	}
	if err := n.persistMarket(m); err != nil {
		return nil, err
	}
	n.emitter.Emit(events.Repay{Market: name, Account: account, Assets: res.Assets, Shares: res.Shares})
	return res, nil
}

// Refund burns exactly shares of floating debt.
func (n *Node) Refund(name string, account common.Address, shares *big.Int) (*market.RepayResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(name)
	if err != nil {
		return nil, err
	}
	res, err := m.Refund(account, shares)
	if err != nil {
		return nil, err
	}
	if err := n.persistMarket(m); err != nil {
		return nil, err
	}
	n.emitter.Emit(events.Repay{Market: name, Account: account, Assets: res.Assets, Shares: res.Shares})
	return res, nil
}

// DepositAtMaturity places a fixed-term deposit.
func (n *Node) DepositAtMaturity(name string, account common.Address, maturity uint64, assets, minAssetsRequired *big.Int) (*market.FixedDepositResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(name)
	if err != nil {
		return nil, err
	}
	res, err := m.DepositAtMaturity(account, maturity, assets, minAssetsRequired)
	if err != nil {
		return nil, err
	}
	if err := n.persistMarket(m); err != nil {
		return nil, err
	}
	n.emitter.Emit(events.FixedDeposit{Market: name, Account: account, Maturity: res.Maturity, Assets: res.Assets, Yield: res.Yield})
	return res, nil
}

// BorrowAtMaturity draws fixed-term debt.
func (n *Node) BorrowAtMaturity(name string, account common.Address, maturity uint64, assets, maxAssets *big.Int) (*market.FixedBorrowResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(name)
	if err != nil {
		return nil, err
	}
	res, err := m.BorrowAtMaturity(account, maturity, assets, maxAssets)
	if err != nil {
		return nil, err
	}
	if err := n.persistMarket(m); err != nil {
		return nil, err
	}
	if err := n.persistMemberships(); err != nil {
		return nil, err
	}
	n.emitter.Emit(events.FixedBorrow{Market: name, Account: account, Maturity: res.Maturity, Assets: res.Assets, Fee: res.Fee})
	return res, nil
}

// WithdrawAtMaturity exits a fixed-term deposit, discounted when
// early.
func (n *Node) WithdrawAtMaturity(name string, account common.Address, maturity uint64, positionAssets, minAssetsRequired *big.Int) (*market.FixedWithdrawResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(name)
	if err != nil {
		return nil, err
	}
	res, err := m.WithdrawAtMaturity(account, maturity, positionAssets, minAssetsRequired)
	if err != nil {
		return nil, err
	}
	if err := n.persistMarket(m); err != nil {
		return nil, err
	}
	n.emitter.Emit(events.FixedWithdraw{Market: name, Account: account, Maturity: res.Maturity, PositionAssets: res.PositionAssets, Assets: res.Assets})
	return res, nil
}

// RepayAtMaturity pays fixed-term debt down, discounted when early
// and penalised when late.
func (n *Node) RepayAtMaturity(name string, account common.Address, maturity uint64, positionAssets, maxAssets *big.Int) (*market.FixedRepayResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(name)
	if err != nil {
		return nil, err
	}
	res, err := m.RepayAtMaturity(account, maturity, positionAssets, maxAssets)
	if err != nil {
		return nil, err
	}
	if err := n.persistMarket(m); err != nil {
		return nil, err
	}
	n.emitter.Emit(events.FixedRepay{Market: name, Account: account, Maturity: res.Maturity, PositionAssets: res.PositionAssets, Assets: res.Assets, Discount: res.Discount, Penalty: res.Penalty})
	return res, nil
}

// RollAtMaturity moves fixed debt from one maturity to a later one
// without cash changing hands.
func (n *Node) RollAtMaturity(name string, account common.Address, from, to uint64, maxRepayAssets, maxBorrowAssets *big.Int) (*market.RollResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(name)
	if err != nil {
		return nil, err
	}
	res, err := m.RollAtMaturity(account, from, to, maxRepayAssets, maxBorrowAssets)
	if err != nil {
		return nil, err
	}
	if err := n.persistMarket(m); err != nil {
		return nil, err
	}
	n.emitter.Emit(events.Roll{
		Market:       name,
		Account:      account,
		FromMaturity: res.Repaid.Maturity,
		ToMaturity:   res.Borrowed.Maturity,
		Repaid:       res.Repaid.Assets,
		NewDebt:      res.Borrowed.Owed,
	})
	return res, nil
}

// Liquidate covers an underwater borrower's debt in one market and
// seizes collateral from another. When the seizure exhausts the
// borrower's collateral everywhere, the remaining debt is written off
// market by market.
func (n *Node) Liquidate(repayMarket, seizeMarket string, liquidator, borrower common.Address, maxAssets *big.Int) (*market.LiquidateResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, err := n.lockedMarket(repayMarket)
	if err != nil {
		return nil, err
	}
	seize, err := n.lockedMarket(seizeMarket)
	if err != nil {
		return nil, err
	}
	res, err := m.Liquidate(liquidator, borrower, maxAssets, seize)
	if err != nil {
		return nil, err
	}
	if err := n.persistMarket(m); err != nil {
		return nil, err
	}
	if seize != m {
		if err := n.persistMarket(seize); err != nil {
			return nil, err
		}
	}
	n.emitter.Emit(events.Liquidation{
		Market:        repayMarket,
		SeizeMarket:   res.SeizeMarket,
		Liquidator:    liquidator,
		Borrower:      borrower,
		Repaid:        res.Repaid,
		SeizedAssets:  res.SeizedAssets,
		SeizedShares:  res.SeizedShares,
		LendersAssets: res.LendersAssets,
	})
	n.emitter.Emit(events.Seize{
		Market:     res.SeizeMarket,
		Liquidator: liquidator,
		Borrower:   borrower,
		Assets:     res.SeizedAssets,
		Shares:     res.SeizedShares,
	})

	cleared, clearErr := n.risk.HandleBadDebt(borrower)
	for _, entry := range cleared {
		if err := n.persistMarket(n.markets[entry.Market]); err != nil {
			return res, err
		}
		n.emitter.Emit(events.BadDebtCleared{
			Market:    entry.Market,
			Borrower:  borrower,
			Covered:   entry.Result.Covered,
			Uncovered: entry.Result.Uncovered,
		})
	}
	if clearErr != nil {
		return res, clearErr
	}
	return res, nil
}

// EnterMarket opts the account's deposits in as collateral.
func (n *Node) EnterMarket(account common.Address, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.risk.EnterMarket(account, name); err != nil {
		return err
	}
	if err := n.persistMemberships(); err != nil {
		return err
	}
	n.emitter.Emit(events.MarketEntered{Market: name, Account: account})
	return nil
}

// ExitMarket removes the account's deposits from its collateral set.
func (n *Node) ExitMarket(account common.Address, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.risk.ExitMarket(account, name); err != nil {
		return err
	}
	if err := n.persistMemberships(); err != nil {
		return err
	}
	n.emitter.Emit(events.MarketExited{Market: name, Account: account})
	return nil
}

// Membership lists the markets the account counts as collateral.
func (n *Node) Membership(account common.Address) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.risk.Membership(account)
}

// SetPrice posts an operator quote stamped with the ledger clock.
func (n *Node) SetPrice(name string, price *big.Int) error {
	if err := nativecommon.Guard(n, nativecommon.ModuleOracle); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.lockedMarket(name); err != nil {
		return err
	}
	if price == nil || price.Sign() <= 0 {
		return auditor.ErrInvalidPrice
	}
	n.feed.Post(name, price, n.now)
	if err := n.persistQuotes(); err != nil {
		return err
	}
	n.emitter.Emit(events.PriceUpdated{Market: name, Price: price, UpdatedAt: n.now})
	return nil
}
