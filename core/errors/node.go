package errors

import stderrors "errors"

var (
	ErrUnknownMarket   = stderrors.New("node: unknown market")
	ErrGenesisMismatch = stderrors.New("node: genesis file does not match the initialised database")
	ErrMissingState    = stderrors.New("node: market state missing from database")
	ErrClockRewind     = stderrors.New("node: timestamp behind the committed clock")
)
