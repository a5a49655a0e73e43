package events

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"termlend/core/types"
)

const (
	// TypeMarketDeposit is emitted when assets enter the floating pool.
	TypeMarketDeposit = "market.deposit"
	// TypeMarketWithdraw is emitted when floating shares are redeemed.
	TypeMarketWithdraw = "market.withdraw"
	// TypeMarketBorrow is emitted for floating-rate borrows.
	TypeMarketBorrow = "market.borrow"
	// TypeMarketRepay is emitted for floating-rate repayments.
	TypeMarketRepay = "market.repay"
	// TypeFixedDeposit is emitted when a fixed-maturity deposit is placed.
	TypeFixedDeposit = "market.fixed.deposit"
	// TypeFixedWithdraw is emitted when a fixed-maturity deposit is
	// withdrawn, early or at maturity.
	TypeFixedWithdraw = "market.fixed.withdraw"
	// TypeFixedBorrow is emitted when a fixed-maturity borrow is drawn.
	TypeFixedBorrow = "market.fixed.borrow"
	// TypeFixedRepay is emitted when fixed-maturity debt is repaid.
	TypeFixedRepay = "market.fixed.repay"
	// TypeFixedRoll is emitted when fixed debt is rolled to a later
	// maturity without cash changing hands.
	TypeFixedRoll = "market.fixed.roll"
	// TypeLiquidation is emitted when a liquidator covers an unhealthy
	// account's debt and seizes collateral.
	TypeLiquidation = "market.liquidation"
	// TypeSeize is emitted on the market whose collateral was taken
	// during a liquidation.
	TypeSeize = "market.seize"
	// TypeBadDebtCleared is emitted when an insolvent account's remaining
	// debt is written off against the earnings accumulator.
	TypeBadDebtCleared = "market.bad_debt.cleared"
	// TypeMarketEntered is emitted when an account opts a market into its
	// collateral set.
	TypeMarketEntered = "auditor.market.entered"
	// TypeMarketExited is emitted when an account removes a market from
	// its collateral set.
	TypeMarketExited = "auditor.market.exited"
	// TypeMarketListed is emitted when a market is registered with the
	// risk engine.
	TypeMarketListed = "auditor.market.listed"
	// TypePriceUpdated is emitted when the operator posts a fresh quote.
	TypePriceUpdated = "oracle.price.updated"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}

type Deposit struct {
	Market  string
	Account common.Address
	Assets  *big.Int
	Shares  *big.Int
}

func (Deposit) EventType() string { return TypeMarketDeposit }

func (e Deposit) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketDeposit,
		Attributes: map[string]string{
			"market":  strings.TrimSpace(e.Market),
			"account": e.Account.Hex(),
			"assets":  formatAmount(e.Assets),
			"shares":  formatAmount(e.Shares),
		},
	}
}

type Withdraw struct {
	Market  string
	Account common.Address
	Assets  *big.Int
	Shares  *big.Int
}

func (Withdraw) EventType() string { return TypeMarketWithdraw }

func (e Withdraw) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketWithdraw,
		Attributes: map[string]string{
			"market":  strings.TrimSpace(e.Market),
			"account": e.Account.Hex(),
			"assets":  formatAmount(e.Assets),
			"shares":  formatAmount(e.Shares),
		},
	}
}

type Borrow struct {
	Market  string
	Account common.Address
	Assets  *big.Int
	Shares  *big.Int
}

func (Borrow) EventType() string { return TypeMarketBorrow }

func (e Borrow) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketBorrow,
		Attributes: map[string]string{
			"market":  strings.TrimSpace(e.Market),
			"account": e.Account.Hex(),
			"assets":  formatAmount(e.Assets),
			"shares":  formatAmount(e.Shares),
		},
	}
}

type Repay struct {
	Market  string
	Account common.Address
	Assets  *big.Int
	Shares  *big.Int
}

func (Repay) EventType() string { return TypeMarketRepay }

func (e Repay) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketRepay,
		Attributes: map[string]string{
			"market":  strings.TrimSpace(e.Market),
			"account": e.Account.Hex(),
			"assets":  formatAmount(e.Assets),
			"shares":  formatAmount(e.Shares),
		},
	}
}

type FixedDeposit struct {
	Market   string
	Account  common.Address
	Maturity uint64
	Assets   *big.Int
	Yield    *big.Int
}

func (FixedDeposit) EventType() string { return TypeFixedDeposit }

func (e FixedDeposit) Event() *types.Event {
	return &types.Event{
		Type: TypeFixedDeposit,
		Attributes: map[string]string{
			"market":   strings.TrimSpace(e.Market),
			"account":  e.Account.Hex(),
			"maturity": uintToString(e.Maturity),
			"assets":   formatAmount(e.Assets),
			"yield":    formatAmount(e.Yield),
		},
	}
}

type FixedWithdraw struct {
	Market         string
	Account        common.Address
	Maturity       uint64
	PositionAssets *big.Int
	Assets         *big.Int
}

func (FixedWithdraw) EventType() string { return TypeFixedWithdraw }

func (e FixedWithdraw) Event() *types.Event {
	return &types.Event{
		Type: TypeFixedWithdraw,
		Attributes: map[string]string{
			"market":         strings.TrimSpace(e.Market),
			"account":        e.Account.Hex(),
			"maturity":       uintToString(e.Maturity),
			"positionAssets": formatAmount(e.PositionAssets),
			"assets":         formatAmount(e.Assets),
		},
	}
}

type FixedBorrow struct {
	Market   string
	Account  common.Address
	Maturity uint64
	Assets   *big.Int
	Fee      *big.Int
}

func (FixedBorrow) EventType() string { return TypeFixedBorrow }

func (e FixedBorrow) Event() *types.Event {
	return &types.Event{
		Type: TypeFixedBorrow,
		Attributes: map[string]string{
			"market":   strings.TrimSpace(e.Market),
			"account":  e.Account.Hex(),
			"maturity": uintToString(e.Maturity),
			"assets":   formatAmount(e.Assets),
			"fee":      formatAmount(e.Fee),
		},
	}
}

type FixedRepay struct {
	Market         string
	Account        common.Address
	Maturity       uint64
	PositionAssets *big.Int
	Assets         *big.Int
	Discount       *big.Int
	Penalty        *big.Int
}

func (FixedRepay) EventType() string { return TypeFixedRepay }

func (e FixedRepay) Event() *types.Event {
	attrs := map[string]string{
		"market":         strings.TrimSpace(e.Market),
		"account":        e.Account.Hex(),
		"maturity":       uintToString(e.Maturity),
		"positionAssets": formatAmount(e.PositionAssets),
		"assets":         formatAmount(e.Assets),
	}
	if e.Discount != nil && e.Discount.Sign() > 0 {
		attrs["discount"] = e.Discount.String()
	}
	if e.Penalty != nil && e.Penalty.Sign() > 0 {
		attrs["penalty"] = e.Penalty.String()
	}
	return &types.Event{Type: TypeFixedRepay, Attributes: attrs}
}

type Roll struct {
	Market       string
	Account      common.Address
	FromMaturity uint64
	ToMaturity   uint64
	Repaid       *big.Int
	NewDebt      *big.Int
}

func (Roll) EventType() string { return TypeFixedRoll }

func (e Roll) Event() *types.Event {
	return &types.Event{
		Type: TypeFixedRoll,
		Attributes: map[string]string{
			"market":       strings.TrimSpace(e.Market),
			"account":      e.Account.Hex(),
			"fromMaturity": uintToString(e.FromMaturity),
			"toMaturity":   uintToString(e.ToMaturity),
			"repaid":       formatAmount(e.Repaid),
			"newDebt":      formatAmount(e.NewDebt),
		},
	}
}

type Liquidation struct {
	Market        string
	SeizeMarket   string
	Liquidator    common.Address
	Borrower      common.Address
	Repaid        *big.Int
	SeizedAssets  *big.Int
	SeizedShares  *big.Int
	LendersAssets *big.Int
}

func (Liquidation) EventType() string { return TypeLiquidation }

func (e Liquidation) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidation,
		Attributes: map[string]string{
			"market":        strings.TrimSpace(e.Market),
			"seizeMarket":   strings.TrimSpace(e.SeizeMarket),
			"liquidator":    e.Liquidator.Hex(),
			"borrower":      e.Borrower.Hex(),
			"repaid":        formatAmount(e.Repaid),
			"seizedAssets":  formatAmount(e.SeizedAssets),
			"seizedShares":  formatAmount(e.SeizedShares),
			"lendersAssets": formatAmount(e.LendersAssets),
		},
	}
}

type Seize struct {
	Market     string
	Liquidator common.Address
	Borrower   common.Address
	Assets     *big.Int
	Shares     *big.Int
}

func (Seize) EventType() string { return TypeSeize }

func (e Seize) Event() *types.Event {
	return &types.Event{
		Type: TypeSeize,
		Attributes: map[string]string{
			"market":     strings.TrimSpace(e.Market),
			"liquidator": e.Liquidator.Hex(),
			"borrower":   e.Borrower.Hex(),
			"assets":     formatAmount(e.Assets),
			"shares":     formatAmount(e.Shares),
		},
	}
}

type BadDebtCleared struct {
	Market    string
	Borrower  common.Address
	Covered   *big.Int
	Uncovered *big.Int
}

func (BadDebtCleared) EventType() string { return TypeBadDebtCleared }

func (e BadDebtCleared) Event() *types.Event {
	return &types.Event{
		Type: TypeBadDebtCleared,
		Attributes: map[string]string{
			"market":    strings.TrimSpace(e.Market),
			"borrower":  e.Borrower.Hex(),
			"covered":   formatAmount(e.Covered),
			"uncovered": formatAmount(e.Uncovered),
		},
	}
}

type MarketEntered struct {
	Market  string
	Account common.Address
}

func (MarketEntered) EventType() string { return TypeMarketEntered }

func (e MarketEntered) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketEntered,
		Attributes: map[string]string{
			"market":  strings.TrimSpace(e.Market),
			"account": e.Account.Hex(),
		},
	}
}

type MarketExited struct {
	Market  string
	Account common.Address
}

func (MarketExited) EventType() string { return TypeMarketExited }

func (e MarketExited) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketExited,
		Attributes: map[string]string{
			"market":  strings.TrimSpace(e.Market),
			"account": e.Account.Hex(),
		},
	}
}

type MarketListed struct {
	Market       string
	AdjustFactor *big.Int
}

func (MarketListed) EventType() string { return TypeMarketListed }

func (e MarketListed) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketListed,
		Attributes: map[string]string{
			"market":       strings.TrimSpace(e.Market),
			"adjustFactor": formatAmount(e.AdjustFactor),
		},
	}
}

type PriceUpdated struct {
	Market    string
	Price     *big.Int
	UpdatedAt uint64
}

func (PriceUpdated) EventType() string { return TypePriceUpdated }

func (e PriceUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePriceUpdated,
		Attributes: map[string]string{
			"market":    strings.TrimSpace(e.Market),
			"price":     formatAmount(e.Price),
			"updatedAt": uintToString(e.UpdatedAt),
		},
	}
}
