// Package auditor prices cross-market account health: which deposits
// count as collateral, whether an account may borrow or withdraw, and
// how much of an underwater position a liquidator may close. Markets
// hand it staged snapshots of the in-flight operation so the checks
// see the books as they would commit.
package auditor

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"termlend/native/market"
	"termlend/wad"
)

// MarketView is the read surface the auditor needs from each listed
// market.
type MarketView interface {
	Name() string
	AccountSnapshot(account common.Address) market.AccountSnapshot
}

// Parameters configure the health and liquidation math. All factors
// are 18-decimal fixed point.
type Parameters struct {
	// TargetHealth is the collateral-to-debt ratio liquidations close
	// positions back toward.
	TargetHealth *big.Int
	// LiquidatorIncentive and LendersIncentive price the collateral
	// discount: the liquidator keeps the first, the repaid market's
	// depositors earn the second.
	LiquidatorIncentive *big.Int
	LendersIncentive    *big.Int
	// PriceMaxAge bounds quote staleness in seconds. Zero disables the
	// check.
	PriceMaxAge uint64
}

// DefaultParameters returns the stock risk configuration: liquidate
// back toward 1.25 health with a 9% liquidator and 1% lenders
// incentive, rejecting quotes older than five minutes.
func DefaultParameters() Parameters {
	return Parameters{
		TargetHealth:        big.NewInt(1_250_000_000_000_000_000),
		LiquidatorIncentive: big.NewInt(90_000_000_000_000_000),
		LendersIncentive:    big.NewInt(10_000_000_000_000_000),
		PriceMaxAge:         300,
	}
}

// Validate rejects configurations the close-factor math cannot
// support. The incentives must leave the target health reachable.
func (p Parameters) Validate() error {
	switch {
	case p.TargetHealth == nil || p.TargetHealth.Cmp(wad.One) <= 0:
		return ErrInvalidParameters
	case p.LiquidatorIncentive == nil || p.LiquidatorIncentive.Sign() < 0:
		return ErrInvalidParameters
	case p.LendersIncentive == nil || p.LendersIncentive.Sign() < 0:
		return ErrInvalidParameters
	}
	incentives := new(big.Int).Add(wad.One, p.LiquidatorIncentive)
	incentives.Add(incentives, p.LendersIncentive)
	if incentives.Cmp(p.TargetHealth) >= 0 {
		return ErrInvalidParameters
	}
	return nil
}

type listing struct {
	view         MarketView
	adjustFactor *big.Int
}

// Auditor is the cross-market risk engine. It tracks which markets
// each account has entered as collateral and values everything
// against the price feed. Callers serialize access.
type Auditor struct {
	params  Parameters
	feed    PriceFeed
	markets map[string]*listing
	order   []string
	entered map[common.Address]map[string]struct{}
	now     uint64
}

// New builds an auditor over a price feed.
func New(params Parameters, feed PriceFeed) (*Auditor, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if feed == nil {
		return nil, ErrInvalidParameters
	}
	return &Auditor{
		params:  params,
		feed:    feed,
		markets: make(map[string]*listing),
		entered: make(map[common.Address]map[string]struct{}),
	}, nil
}

// Parameters returns the risk configuration.
func (a *Auditor) Parameters() Parameters { return a.params }

// SetTimestamp advances the staleness clock. The clock never goes
// backwards; earlier values are ignored.
func (a *Auditor) SetTimestamp(now uint64) {
	if now > a.now {
		a.now = now
	}
}

// RegisterMarket lists a market under its collateral adjust factor.
func (a *Auditor) RegisterMarket(view MarketView, adjustFactor *big.Int) error {
	if view == nil || view.Name() == "" {
		return ErrMarketNotListed
	}
	if adjustFactor == nil || adjustFactor.Sign() <= 0 || adjustFactor.Cmp(wad.One) > 0 {
		return ErrInvalidAdjustFactor
	}
	name := view.Name()
	if _, ok := a.markets[name]; ok {
		return ErrAlreadyListed
	}
	a.markets[name] = &listing{view: view, adjustFactor: wad.Clone(adjustFactor)}
	a.order = append(a.order, name)
	return nil
}

// Markets lists the supervised market names in registration order.
func (a *Auditor) Markets() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// Listing is an exported view of one registered market.
type Listing struct {
	Name         string
	AdjustFactor *big.Int
}

// Listings returns the registered markets and their adjust factors in
// registration order.
func (a *Auditor) Listings() []Listing {
	out := make([]Listing, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, Listing{Name: name, AdjustFactor: wad.Clone(a.markets[name].adjustFactor)})
	}
	return out
}

// Accounts returns every account holding at least one membership,
// sorted by address.
func (a *Auditor) Accounts() []common.Address {
	out := make([]common.Address, 0, len(a.entered))
	for account, set := range a.entered {
		if len(set) == 0 {
			continue
		}
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func (a *Auditor) isEntered(account common.Address, name string) bool {
	set, ok := a.entered[account]
	if !ok {
		return false
	}
	_, ok = set[name]
	return ok
}

func (a *Auditor) enter(account common.Address, name string) {
	set, ok := a.entered[account]
	if !ok {
		set = make(map[string]struct{})
		a.entered[account] = set
	}
	set[name] = struct{}{}
}

// EnterMarket opts the account's deposits in marketName in as
// collateral for its debts everywhere.
func (a *Auditor) EnterMarket(account common.Address, marketName string) error {
	if _, ok := a.markets[marketName]; !ok {
		return ErrMarketNotListed
	}
	a.enter(account, marketName)
	return nil
}

// ExitMarket opts the account's deposits back out. It refuses while
// debt is outstanding in that market or while the account's remaining
// debt still needs the collateral.
func (a *Auditor) ExitMarket(account common.Address, marketName string) error {
	listed, ok := a.markets[marketName]
	if !ok {
		return ErrMarketNotListed
	}
	if !a.isEntered(account, marketName) {
		return nil
	}
	snapshot := listed.view.AccountSnapshot(account)
	if snapshot.Debt != nil && snapshot.Debt.Sign() > 0 {
		return ErrBalanceOwed
	}
	empty := market.AccountSnapshot{Collateral: big.NewInt(0), Debt: big.NewInt(0)}
	collateral, debt, err := a.liquidity(account, marketName, empty)
	if err != nil {
		return err
	}
	if collateral.Cmp(debt) < 0 {
		return ErrInsufficientLiquidity
	}
	delete(a.entered[account], marketName)
	if len(a.entered[account]) == 0 {
		delete(a.entered, account)
	}
	return nil
}

// Membership lists the markets whose deposits count as the account's
// collateral, in registration order.
func (a *Auditor) Membership(account common.Address) []string {
	var out []string
	for _, name := range a.order {
		if a.isEntered(account, name) {
			out = append(out, name)
		}
	}
	return out
}

func (a *Auditor) price(marketName string) (*big.Int, error) {
	quote, err := a.feed.Price(marketName)
	if err != nil {
		return nil, err
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if a.params.PriceMaxAge > 0 && a.now > quote.UpdatedAt+a.params.PriceMaxAge {
		return nil, ErrStalePrice
	}
	return quote.Price, nil
}

// liquidity values the account across its entered markets, collateral
// rounded down and debt rounded up, substituting override for the
// named market's committed snapshot.
func (a *Auditor) liquidity(account common.Address, overrideName string, override market.AccountSnapshot) (collateral, debt *big.Int, err error) {
	collateral, debt = big.NewInt(0), big.NewInt(0)
	for _, name := range a.order {
		if !a.isEntered(account, name) {
			continue
		}
		listed := a.markets[name]
		snapshot := listed.view.AccountSnapshot(account)
		if name == overrideName {
			snapshot = override
		}
		price, err := a.price(name)
		if err != nil {
			return nil, nil, err
		}
		if snapshot.Collateral != nil && snapshot.Collateral.Sign() > 0 {
			value := wad.MulDown(snapshot.Collateral, price)
			collateral = new(big.Int).Add(collateral, wad.MulDown(value, listed.adjustFactor))
		}
		if snapshot.Debt != nil && snapshot.Debt.Sign() > 0 {
			value := wad.MulUp(snapshot.Debt, price)
			debt = new(big.Int).Add(debt, wad.DivUp(value, listed.adjustFactor))
		}
	}
	return collateral, debt, nil
}

// AccountLiquidity reports the adjusted collateral and debt values the
// health checks compare.
func (a *Auditor) AccountLiquidity(account common.Address) (collateral, debt *big.Int, err error) {
	return a.liquidity(account, "", market.AccountSnapshot{})
}

// CheckBorrow admits a staged borrow while adjusted collateral covers
// adjusted debt. Borrowing enters the market so the new debt stays
// visible to every later check.
func (a *Auditor) CheckBorrow(marketName string, account common.Address, staged market.AccountSnapshot) error {
	if _, ok := a.markets[marketName]; !ok {
		return ErrMarketNotListed
	}
	a.enter(account, marketName)
	collateral, debt, err := a.liquidity(account, marketName, staged)
	if err != nil {
		return err
	}
	if collateral.Cmp(debt) < 0 {
		return ErrInsufficientLiquidity
	}
	return nil
}

// CheckShortfall admits a staged withdrawal unless it would leave the
// account underwater. Deposits that are not entered as collateral
// withdraw freely.
func (a *Auditor) CheckShortfall(marketName string, account common.Address, staged market.AccountSnapshot) error {
	if _, ok := a.markets[marketName]; !ok {
		return ErrMarketNotListed
	}
	if !a.isEntered(account, marketName) {
		return nil
	}
	collateral, debt, err := a.liquidity(account, marketName, staged)
	if err != nil {
		return err
	}
	if collateral.Cmp(debt) < 0 {
		return ErrInsufficientLiquidity
	}
	return nil
}

// CheckLiquidation sizes the repay budget for liquidating the
// borrower: enough to lift the account back toward the target health,
// bounded by the seizable collateral and the liquidator's offer, in
// repay-market asset units.
func (a *Auditor) CheckLiquidation(repayMarket, seizeMarket string, liquidator, borrower common.Address, maxAssets *big.Int, staged market.AccountSnapshot) (*big.Int, error) {
	repayListing, ok := a.markets[repayMarket]
	if !ok {
		return nil, ErrMarketNotListed
	}
	seizeListing, ok := a.markets[seizeMarket]
	if !ok {
		return nil, ErrMarketNotListed
	}

	collateral, debt, err := a.liquidity(borrower, repayMarket, staged)
	if err != nil {
		return nil, err
	}
	if debt.Sign() == 0 || collateral.Cmp(debt) >= 0 {
		return nil, ErrNoShortfall
	}

	seizeSnapshot := seizeListing.view.AccountSnapshot(borrower)
	if seizeMarket == repayMarket {
		seizeSnapshot = staged
	}
	priceSeize, err := a.price(seizeMarket)
	if err != nil {
		return nil, err
	}
	seizeAvailable := big.NewInt(0)
	if a.isEntered(borrower, seizeMarket) && seizeSnapshot.Collateral != nil {
		seizeAvailable = wad.MulDown(seizeSnapshot.Collateral, priceSeize)
	}

	incentives := new(big.Int).Add(wad.One, a.params.LiquidatorIncentive)
	incentives.Add(incentives, a.params.LendersIncentive)
	adjust := wad.MulDown(repayListing.adjustFactor, seizeListing.adjustFactor)
	denominator := new(big.Int).Sub(a.params.TargetHealth, wad.MulDown(adjust, incentives))
	ratio := wad.DivUp(collateral, debt)
	closeFactor := wad.DivUp(new(big.Int).Sub(a.params.TargetHealth, ratio), denominator)
	if closeFactor.Cmp(wad.One) > 0 {
		closeFactor = wad.Clone(wad.One)
	}

	repayValue := wad.MulUp(debt, closeFactor)
	ceiling := wad.DivUp(seizeAvailable, incentives)
	if ceiling.Cmp(repayValue) < 0 {
		repayValue = ceiling
	}
	priceRepay, err := a.price(repayMarket)
	if err != nil {
		return nil, err
	}
	budget := wad.DivUp(repayValue, priceRepay)
	if maxAssets != nil && budget.Cmp(maxAssets) > 0 {
		budget = wad.Clone(maxAssets)
	}
	return budget, nil
}

// CalculateSeize prices the collateral taken for a repayment: the
// repaid value marked up by both incentives, converted into the seize
// market's asset and clamped to the borrower's balance there. The
// lenders' cut is returned separately for the repaid market's books.
func (a *Auditor) CalculateSeize(repayMarket, seizeMarket string, borrower common.Address, repaidAssets *big.Int) (seizeAssets, lendersAssets *big.Int, err error) {
	if _, ok := a.markets[repayMarket]; !ok {
		return nil, nil, ErrMarketNotListed
	}
	seizeListing, ok := a.markets[seizeMarket]
	if !ok {
		return nil, nil, ErrMarketNotListed
	}
	lendersAssets = wad.MulDown(repaidAssets, a.params.LendersIncentive)
	priceRepay, err := a.price(repayMarket)
	if err != nil {
		return nil, nil, err
	}
	priceSeize, err := a.price(seizeMarket)
	if err != nil {
		return nil, nil, err
	}
	incentives := new(big.Int).Add(wad.One, a.params.LiquidatorIncentive)
	incentives.Add(incentives, a.params.LendersIncentive)
	value := wad.MulUp(repaidAssets, priceRepay)
	seizeAssets = wad.MulUp(wad.DivUp(value, priceSeize), incentives)
	balance := seizeListing.view.AccountSnapshot(borrower).Collateral
	if balance != nil && seizeAssets.Cmp(balance) > 0 {
		seizeAssets = wad.Clone(balance)
	}
	return seizeAssets, lendersAssets, nil
}

// debtClearer is the optional write surface a market exposes for bad
// debt socialization.
type debtClearer interface {
	ClearBadDebt(borrower common.Address) (*market.BadDebtResult, error)
}

// ClearedDebt reports one market's write-off during bad debt handling.
type ClearedDebt struct {
	Market string
	Result *market.BadDebtResult
}

// HandleBadDebt force-closes the borrower's remaining debt once no
// collateral is left anywhere. Markets absorb what their earnings
// accumulators can and socialize the rest. A borrower with any
// collateral standing is left alone.
func (a *Auditor) HandleBadDebt(borrower common.Address) ([]ClearedDebt, error) {
	collateral, debt, err := a.AccountLiquidity(borrower)
	if err != nil {
		return nil, err
	}
	if collateral.Sign() > 0 || debt.Sign() == 0 {
		return nil, nil
	}
	var cleared []ClearedDebt
	for _, name := range a.order {
		if !a.isEntered(borrower, name) {
			continue
		}
		listed := a.markets[name]
		clearer, ok := listed.view.(debtClearer)
		if !ok {
			continue
		}
		snapshot := listed.view.AccountSnapshot(borrower)
		if snapshot.Debt == nil || snapshot.Debt.Sign() == 0 {
			continue
		}
		result, err := clearer.ClearBadDebt(borrower)
		if err != nil {
			return cleared, err
		}
		cleared = append(cleared, ClearedDebt{Market: name, Result: result})
	}
	return cleared, nil
}
