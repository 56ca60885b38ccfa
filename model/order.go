package model

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Order is the broker-facing request derived from a Transaction.
type Order struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	InstrumentID  string          `json:"instrument_id"`
	Direction     Direction       `json:"direction"`
	Offset        Offset          `json:"offset"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int             `json:"quantity"`
	Traded        int             `json:"traded"`
	TradingDay    string          `json:"trading_day"`
	State         OrderState      `json:"state"`

	// ContractIDs are the contracts locked (close) or reserved (open) for
	// this order when it was placed.
	ContractIDs []string `json:"contract_ids,omitempty"`

	RejectCode   int    `json:"reject_code,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`

	InsertTime time.Time `json:"insert_time"`
	UpdateTime time.Time `json:"update_time"`
}

func (o Order) Remaining() int { return o.Quantity - o.Traded }

func (o Order) Clone() Order {
	o.ContractIDs = slices.Clone(o.ContractIDs)
	return o
}

// Trade is an immutable fill against one order.
type Trade struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	AccountID    string          `json:"account_id"`
	InstrumentID string          `json:"instrument_id"`
	Direction    Direction       `json:"direction"`
	Offset       Offset          `json:"offset"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	TradingDay   string          `json:"trading_day"`
	Time         time.Time       `json:"time"`
}

// Transaction is the strategy-visible unit of intent.
type Transaction struct {
	ID           string           `json:"id"`
	AccountID    string           `json:"account_id"`
	InstrumentID string           `json:"instrument_id"`
	Direction    Direction        `json:"direction"`
	Offset       Offset           `json:"offset"`
	Price        decimal.Decimal  `json:"price"`
	Quantity     int              `json:"quantity"`
	Traded       int              `json:"traded"`
	State        TransactionState `json:"state"`
	OrderIDs     []string         `json:"order_ids,omitempty"`

	// Code is the machine-readable reason for the last notable outcome
	// (risk notice or reject code); Reason is its human-readable text.
	Code   int    `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`

	TradingDay string    `json:"trading_day"`
	CreateTime time.Time `json:"create_time"`
	UpdateTime time.Time `json:"update_time"`
}

func (t Transaction) Clone() Transaction {
	t.OrderIDs = slices.Clone(t.OrderIDs)
	return t
}
