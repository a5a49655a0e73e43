package auditor

import "errors"

var (
	// ErrMarketNotListed rejects operations naming a market the
	// auditor does not supervise.
	ErrMarketNotListed = errors.New("auditor: market not listed")
	// ErrAlreadyListed rejects registering the same market twice.
	ErrAlreadyListed = errors.New("auditor: market already listed")
	// ErrInvalidAdjustFactor rejects listings with a collateral factor
	// outside (0, 1].
	ErrInvalidAdjustFactor = errors.New("auditor: adjust factor outside (0, 1]")
	// ErrBalanceOwed rejects exiting a market while debt is
	// outstanding there.
	ErrBalanceOwed = errors.New("auditor: debt outstanding in market")
	// ErrInsufficientLiquidity rejects borrows and withdrawals that
	// would leave adjusted collateral below adjusted debt.
	ErrInsufficientLiquidity = errors.New("auditor: insufficient account liquidity")
	// ErrNoShortfall rejects liquidating an account whose adjusted
	// collateral still covers its debt.
	ErrNoShortfall = errors.New("auditor: borrower has no shortfall")
	// ErrInvalidPrice rejects feed quotes that are missing or not
	// positive.
	ErrInvalidPrice = errors.New("auditor: invalid price quote")
	// ErrStalePrice rejects feed quotes older than the configured
	// maximum age.
	ErrStalePrice = errors.New("auditor: stale price quote")
	// ErrInvalidParameters rejects auditor configurations the health
	// math cannot support.
	ErrInvalidParameters = errors.New("auditor: invalid parameters")
)
