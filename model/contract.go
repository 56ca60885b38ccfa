package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Contract is one lot of position, tracked individually from open to close.
type Contract struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	InstrumentID string    `json:"instrument_id"`
	Direction    Direction `json:"direction"`

	OpenPrice  decimal.Decimal     `json:"open_price"`
	ClosePrice decimal.NullDecimal `json:"close_price"`
	State      ContractState       `json:"state"`

	OpenTradingDay string    `json:"open_trading_day"`
	OpenTime       time.Time `json:"open_time"`
	// SettlementTradingDay is the trading day the contract closed on; empty
	// while it is still held.
	SettlementTradingDay string `json:"settlement_trading_day,omitempty"`

	OpenOrderID  string `json:"open_order_id,omitempty"`
	CloseOrderID string `json:"close_order_id,omitempty"`
}

// Key is the ledger group the contract belongs to.
func (c Contract) Key() GroupKey {
	return GroupKey{AccountID: c.AccountID, InstrumentID: c.InstrumentID, Direction: c.Direction}
}

// GroupKey identifies the account+instrument+direction serialisation group.
type GroupKey struct {
	AccountID    string
	InstrumentID string
	Direction    Direction
}

func (k GroupKey) String() string {
	return k.AccountID + "/" + k.InstrumentID + "/" + string(k.Direction)
}
