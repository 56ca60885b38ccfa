package execution

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransaction is returned for requests rejected before any
	// order reaches the adapter: bad input, inactive account, missing
	// position or funds.
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrRiskRejected       = errors.New("rejected by risk")
	ErrAdapterFailure     = errors.New("trade adapter failure")

	ErrUnknownOrder       = errors.New("unknown order")
	ErrUnknownTransaction = errors.New("unknown transaction")
	ErrOrderDone          = errors.New("order already done")
)

// Rejection codes set on transactions refused by the coordinator itself.
// Risk notices carry their own codes.
const (
	CodeAccountInactive      = 3001
	CodeUnknownInstrument    = 3002
	CodeBadQuantity          = 3003
	CodeBadPrice             = 3004
	CodeInsufficientPosition = 3005
	CodeInsufficientFunds    = 3006
	CodeAdapterFailure       = 3007
	CodeBadOffset            = 3008
	CodeUnknownAccount       = 3009
	CodeLedger               = 3010
	CodeBadDirection         = 3011
)

// TransactionError explains why a transaction was refused. Err is one of
// ErrInvalidTransaction, ErrRiskRejected or ErrAdapterFailure.
type TransactionError struct {
	TransactionID string
	Code          int
	Reason        string
	Err           error
}

func (e *TransactionError) Error() string {
	if e.TransactionID == "" {
		return fmt.Sprintf("%v (%d): %s", e.Err, e.Code, e.Reason)
	}
	return fmt.Sprintf("transaction %s: %v (%d): %s", e.TransactionID, e.Err, e.Code, e.Reason)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func invalid(code int, format string, args ...any) *TransactionError {
	return &TransactionError{Code: code, Reason: fmt.Sprintf(format, args...), Err: ErrInvalidTransaction}
}
