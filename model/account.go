package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Account struct {
	ID       string        `json:"id" yaml:"id"`
	UserID   string        `json:"user_id" yaml:"user_id"`
	BrokerID string        `json:"broker_id" yaml:"broker_id"`
	Status   AccountStatus `json:"status" yaml:"status"`

	Balance   decimal.Decimal `json:"balance" yaml:"balance"`
	YdBalance decimal.Decimal `json:"yd_balance" yaml:"yd_balance"`
	Margin    decimal.Decimal `json:"margin" yaml:"margin"`

	Commission        decimal.Decimal `json:"commission" yaml:"commission"`
	OpeningMargin     decimal.Decimal `json:"opening_margin" yaml:"opening_margin"`
	OpeningCommission decimal.Decimal `json:"opening_commission" yaml:"opening_commission"`
	ClosingCommission decimal.Decimal `json:"closing_commission" yaml:"closing_commission"`

	PositionProfit decimal.Decimal `json:"position_profit" yaml:"position_profit"`
	CloseProfit    decimal.Decimal `json:"close_profit" yaml:"close_profit"`

	// Frozen-for-opening amounts held while opening orders are outstanding.
	FrozenMargin     decimal.Decimal `json:"frozen_margin" yaml:"frozen_margin"`
	FrozenCommission decimal.Decimal `json:"frozen_commission" yaml:"frozen_commission"`

	Available decimal.Decimal `json:"available" yaml:"available"`

	TradingDay string    `json:"trading_day" yaml:"trading_day"`
	SettleTime time.Time `json:"settle_time" yaml:"settle_time"`
}

// Recompute refreshes the derived Available field.
func (a *Account) Recompute() {
	a.Available = a.Balance.Sub(a.Margin).Sub(a.FrozenMargin).Sub(a.FrozenCommission)
}

// AccountSnapshot is the immutable record an account leaves behind for a
// settled trading day.
type AccountSnapshot struct {
	Account
	SettledDay string `json:"settled_day"`
}
