package rpc

import (
	"errors"
	"net/http"

	coreerrors "termlend/core/errors"
	"termlend/native/auditor"
	nativecommon "termlend/native/common"
	"termlend/native/market"
)

// rejectionErrors are the engine's refusals of a well-formed request:
// the ledger state does not admit the operation as asked.
var rejectionErrors = []error{
	market.ErrZeroDeposit,
	market.ErrZeroWithdraw,
	market.ErrZeroBorrow,
	market.ErrZeroRepay,
	market.ErrInsufficientBalance,
	market.ErrUtilizationExceeded,
	market.ErrInsufficientProtocolLiquidity,
	market.ErrAlreadyMatured,
	market.ErrInvalidMaturity,
	market.ErrDisagreement,
	market.ErrMaturityOverflow,
	market.ErrInvalidOperation,
	market.ErrNoRiskEngine,
	auditor.ErrAlreadyListed,
	auditor.ErrInvalidAdjustFactor,
	auditor.ErrBalanceOwed,
	auditor.ErrInsufficientLiquidity,
	auditor.ErrNoShortfall,
	auditor.ErrInvalidPrice,
	auditor.ErrStalePrice,
	auditor.ErrInvalidParameters,
}

func isRejection(err error) bool {
	for _, sentinel := range rejectionErrors {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// classifyError maps an engine failure onto an HTTP status and a
// JSON-RPC error code. Anything unrecognised is treated as an
// internal fault.
func classifyError(err error) (status int, code int) {
	switch {
	case errors.Is(err, coreerrors.ErrUnknownMarket),
		errors.Is(err, auditor.ErrMarketNotListed),
		errors.Is(err, nativecommon.ErrUnknownModule):
		return http.StatusNotFound, codeInvalidParams
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, codeServerError
	case errors.Is(err, coreerrors.ErrClockRewind):
		return http.StatusConflict, codeInvalidParams
	case isRejection(err):
		return http.StatusBadRequest, codeInvalidParams
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	status, code := classifyError(err)
	writeError(w, status, id, code, err.Error(), nil)
}
