// Package model holds the plain data records shared by the ledger, the
// coordinator and the settlement engine.
package model

import "github.com/shopspring/decimal"

type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Sign is +1 for Buy and -1 for Sell.
func (d Direction) Sign() decimal.Decimal {
	if d == Sell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

func (d Direction) Valid() bool { return d == Buy || d == Sell }

type Offset string

const (
	OffsetOpen           Offset = "OPEN"
	OffsetClose          Offset = "CLOSE"
	OffsetCloseToday     Offset = "CLOSE_TODAY"
	OffsetCloseYesterday Offset = "CLOSE_YESTERDAY"
)

func (o Offset) IsOpen() bool { return o == OffsetOpen }

func (o Offset) IsClose() bool {
	return o == OffsetClose || o == OffsetCloseToday || o == OffsetCloseYesterday
}

type ContractState string

const (
	ContractOpening   ContractState = "OPENING"
	ContractOpen      ContractState = "OPEN"
	ContractClosing   ContractState = "CLOSING"
	ContractClosed    ContractState = "CLOSED"
	ContractAbandoned ContractState = "ABANDONED"
)

// Terminal reports whether the contract can no longer change state.
func (s ContractState) Terminal() bool {
	return s == ContractClosed || s == ContractAbandoned
}

type OrderState string

const (
	OrderQueueing  OrderState = "QUEUEING"
	OrderAllTraded OrderState = "ALL_TRADED"
	OrderCanceled  OrderState = "CANCELED"
	OrderRejected  OrderState = "REJECTED"
)

func (s OrderState) Done() bool { return s != OrderQueueing }

type TransactionState string

const (
	TransactionPending   TransactionState = "PENDING"
	TransactionExecuting TransactionState = "EXECUTING"
	TransactionCompleted TransactionState = "COMPLETED"
	TransactionRejected  TransactionState = "REJECTED"
)

type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	// AccountHalted is set after a ledger consistency violation and
	// blocks new transactions until an operator reactivates the account.
	AccountHalted AccountStatus = "HALTED"
	AccountClosed AccountStatus = "CLOSED"
)
