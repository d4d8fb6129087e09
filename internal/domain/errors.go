package domain

import (
	"errors"
	"fmt"
)

// Error is a protocol error with a machine-stable code. Sentinel values are
// compared with errors.Is; callers wrap them with context using %w.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

var (
	// Authorization.
	ErrUnauthorized     = newError("UNAUTHORIZED", "unauthorized")
	ErrNotReceiptHolder = newError("NOT_RECEIPT_HOLDER", "caller does not hold the deposit receipt")

	// Preconditions.
	ErrPaused               = newError("PAUSED", "paused")
	ErrInvalidAddress       = newError("INVALID_ADDRESS", "invalid address")
	ErrInvalidIndex         = newError("INVALID_INDEX", "invalid index")
	ErrInvalidArgument      = newError("INVALID_ARGUMENT", "invalid argument")
	ErrPositionNotAvailable = newError("POSITION_NOT_AVAILABLE", "position not available")
	ErrOptionStillLive      = newError("OPTION_STILL_LIVE", "option still live")
	ErrExerciseWindow       = newError("EXERCISE_WINDOW", "outside exercise window")
	ErrInsufficientPayment  = newError("INSUFFICIENT_PAYMENT", "insufficient payment")
	ErrInsufficientBalance  = newError("INSUFFICIENT_BALANCE", "insufficient balance")
	ErrInsufficientCredit   = newError("INSUFFICIENT_CREDIT", "value exceeds confirmed credit")
	ErrCreditExists         = newError("CREDIT_EXISTS", "transfer already credited")
	ErrAssetExists          = newError("ASSET_EXISTS", "asset already registered")
	ErrAlreadyInitialized   = newError("ALREADY_INITIALIZED", "already initialized")
	ErrPoolExists           = newError("POOL_EXISTS", "pool already exists for collection")
	ErrNotFound             = newError("NOT_FOUND", "not found")
	ErrTokenExists          = newError("TOKEN_EXISTS", "token already minted")
	ErrReentrant            = newError("REENTRANT", "reentrant call")
	ErrQuoteRejected        = newError("QUOTE_REJECTED", "quote rejected")

	// Arithmetic.
	ErrOverflow             = newError("OVERFLOW", "arithmetic overflow")
	ErrVolatilityOutOfRange = newError("VOLATILITY_OUT_OF_RANGE", "vol exceeds limit")

	// Infrastructure.
	ErrLockHeld = newError("LOCK_HELD", "lock already held")
)

// QuoteCode is the numeric result of a call preview. Values are part of the
// public contract and never change.
type QuoteCode uint8

const (
	QuoteOK                  QuoteCode = 0
	QuoteNotOnMarket         QuoteCode = 3
	QuoteStrikeGapTooLow     QuoteCode = 12
	QuoteDurationTooLong     QuoteCode = 13
	QuoteStrikeBelowMinimum  QuoteCode = 14
	QuotePremiumBelowMinimum QuoteCode = 15
	QuoteSelfOwned           QuoteCode = 17
)

func (c QuoteCode) String() string {
	return fmt.Sprintf("%d", uint8(c))
}

// QuoteError reports that an open was refused for the reason carried in Code.
type QuoteError struct {
	Code QuoteCode
}

func (e *QuoteError) Error() string {
	return fmt.Sprintf("quote rejected: error code %d", e.Code)
}

// Is makes errors.Is(err, ErrQuoteRejected) match any QuoteError.
func (e *QuoteError) Is(target error) bool {
	return target == ErrQuoteRejected
}

// ErrorCode returns the machine code of the first domain error found in
// err's chain, or "INTERNAL".
func ErrorCode(err error) string {
	var qe *QuoteError
	if errors.As(err, &qe) {
		return ErrQuoteRejected.Code
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "INTERNAL"
}
