// Package risk assesses transactions before dispatch and trades after
// fill.
package risk

import (
	"github.com/rustyeddy/tradecore/model"
)

// Notice codes. CodeOK is the only code that lets a transaction proceed.
const (
	CodeOK             = 0
	CodeNoMarket       = 1001
	CodeOrderTooLarge  = 1002
	CodePriceDeviation = 1003
	CodePositionLimit  = 1004
	CodeSlippage       = 2001
)

type Notice struct {
	Code    int
	Message string
}

func (n Notice) OK() bool { return n.Code == CodeOK }

func OK() Notice { return Notice{Code: CodeOK} }

// TxContext is what an assessor sees of the transaction being judged.
type TxContext struct {
	Transaction model.Transaction
	Account     model.Account
	// HeldLots counts the account's open and opening lots in the
	// transaction's instrument and direction.
	HeldLots int
}

type Assessor interface {
	Before(tick model.Tick, tx TxContext) Notice
	After(trade model.Trade, tx TxContext) Notice
}

// Allow accepts everything.
type Allow struct{}

func (Allow) Before(model.Tick, TxContext) Notice  { return OK() }
func (Allow) After(model.Trade, TxContext) Notice { return OK() }
