package ledger

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInvalidFill      ErrorKind = "InvalidFill"
	KindNoLockedContract ErrorKind = "NoLockedContract"
	KindDoubleLock       ErrorKind = "DoubleLock"
	KindInvalidRequest   ErrorKind = "InvalidRequest"
)

var (
	ErrInvalidFill      = errors.New("invalid fill")
	ErrNoLockedContract = errors.New("no locked contract")
	ErrDoubleLock       = errors.New("double lock")
	ErrInvalidRequest   = errors.New("invalid ledger request")

	// ErrConsistency matches every fatal ledger error: a broken invariant
	// upstream that must halt processing for the account.
	ErrConsistency = errors.New("ledger consistency violation")

	ErrUnknownAccount = errors.New("unknown account")
)

// Error is returned by every ledger operation that rejects its input.
type Error struct {
	Kind      ErrorKind
	AccountID string
	OrderID   string
	Msg       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ledger %s: account=%s order=%s: %s", e.Kind, e.AccountID, e.OrderID, e.Msg)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidFill:
		return e.Kind == KindInvalidFill
	case ErrNoLockedContract:
		return e.Kind == KindNoLockedContract
	case ErrDoubleLock:
		return e.Kind == KindDoubleLock
	case ErrInvalidRequest:
		return e.Kind == KindInvalidRequest
	case ErrConsistency:
		return e.Fatal()
	}
	return false
}

// Fatal reports whether the error is a consistency violation rather than
// a rejected request.
func (e *Error) Fatal() bool {
	return e.Kind != KindInvalidRequest
}

func newError(kind ErrorKind, accountID, orderID, format string, args ...any) *Error {
	return &Error{Kind: kind, AccountID: accountID, OrderID: orderID, Msg: fmt.Sprintf(format, args...)}
}
