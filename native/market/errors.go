package market

import "errors"

var (
	ErrZeroDeposit                   = errors.New("market: deposit amount must be positive")
	ErrZeroWithdraw                  = errors.New("market: withdraw amount must be positive")
	ErrZeroBorrow                    = errors.New("market: borrow amount must be positive")
	ErrZeroRepay                     = errors.New("market: repay amount must be positive")
	ErrInsufficientBalance           = errors.New("market: balance too small for operation")
	ErrUtilizationExceeded           = errors.New("market: utilization exceeded")
	ErrInsufficientProtocolLiquidity = errors.New("market: insufficient protocol liquidity")
	ErrAlreadyMatured                = errors.New("market: maturity is in the past")
	ErrInvalidMaturity               = errors.New("market: maturity outside the operable range")
	ErrDisagreement                  = errors.New("market: disagreement with supplied bound")
	ErrMaturityOverflow              = errors.New("market: maturity set range exceeded")
	ErrInvalidOperation              = errors.New("market: invalid operation")
	ErrNoRiskEngine                  = errors.New("market: risk engine not configured")
)
