package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument carries the margin and commission rate schedule of a
// tradable contract.
//
// Margin: AmountMargin is a fixed amount per lot and wins when non-zero;
// otherwise margin is price × VolumeMargin × Multiple.
//
// Commission: an *AmountCommission is a ratio of the traded amount
// (price × Multiple) and wins when non-zero; otherwise the matching
// *VolumeCommission is a fee per lot.
type Instrument struct {
	ID         string          `json:"id"`
	ExchangeID string          `json:"exchange_id"`
	ProductID  string          `json:"product_id,omitempty"`
	Multiple   decimal.Decimal `json:"multiple"`
	PriceTick  decimal.Decimal `json:"price_tick"`

	AmountMargin decimal.Decimal `json:"amount_margin"`
	VolumeMargin decimal.Decimal `json:"volume_margin"`

	OpenAmountCommission       decimal.Decimal `json:"open_amount_commission"`
	OpenVolumeCommission       decimal.Decimal `json:"open_volume_commission"`
	CloseAmountCommission      decimal.Decimal `json:"close_amount_commission"`
	CloseVolumeCommission      decimal.Decimal `json:"close_volume_commission"`
	CloseTodayAmountCommission decimal.Decimal `json:"close_today_amount_commission"`
	CloseTodayVolumeCommission decimal.Decimal `json:"close_today_volume_commission"`
}

// Margin returns the margin held by one lot at price.
func (i Instrument) Margin(price decimal.Decimal) decimal.Decimal {
	if !i.AmountMargin.IsZero() {
		return i.AmountMargin
	}
	return price.Mul(i.VolumeMargin).Mul(i.Multiple)
}

// OpenCommission returns the commission charged for opening one lot.
func (i Instrument) OpenCommission(price decimal.Decimal) decimal.Decimal {
	return i.commission(i.OpenAmountCommission, i.OpenVolumeCommission, price)
}

// CloseCommission returns the commission charged for closing one lot.
// today selects the close-today schedule when one is configured.
func (i Instrument) CloseCommission(price decimal.Decimal, today bool) decimal.Decimal {
	if today && (!i.CloseTodayAmountCommission.IsZero() || !i.CloseTodayVolumeCommission.IsZero()) {
		return i.commission(i.CloseTodayAmountCommission, i.CloseTodayVolumeCommission, price)
	}
	return i.commission(i.CloseAmountCommission, i.CloseVolumeCommission, price)
}

func (i Instrument) commission(amount, volume, price decimal.Decimal) decimal.Decimal {
	if !amount.IsZero() {
		return price.Mul(i.Multiple).Mul(amount)
	}
	return volume
}

// Profit is the profit of one lot held in direction d from open to mark.
func (i Instrument) Profit(d Direction, open, mark decimal.Decimal) decimal.Decimal {
	return mark.Sub(open).Mul(d.Sign()).Mul(i.Multiple)
}

// Tick is a market snapshot for one instrument.
type Tick struct {
	InstrumentID       string          `json:"instrument_id"`
	TradingDay         string          `json:"trading_day"`
	LastPrice          decimal.Decimal `json:"last_price"`
	BidPrice           decimal.Decimal `json:"bid_price"`
	AskPrice           decimal.Decimal `json:"ask_price"`
	SettlementPrice    decimal.Decimal `json:"settlement_price"`
	PreSettlementPrice decimal.Decimal `json:"pre_settlement_price"`
	Volume             int64           `json:"volume"`
	UpdateTime         time.Time       `json:"update_time"`
}

// SettlePrice is the price positions are marked at for the day: the
// exchange settlement price when published, otherwise the last price.
// ok is false when neither is available.
func (t Tick) SettlePrice() (p decimal.Decimal, ok bool) {
	if t.SettlementPrice.IsPositive() {
		return t.SettlementPrice, true
	}
	if t.LastPrice.IsPositive() {
		return t.LastPrice, true
	}
	return decimal.Zero, false
}

// TradingDay marks the current trading day, formatted YYYYMMDD.
type TradingDay struct {
	Day        string    `json:"day"`
	UpdateTime time.Time `json:"update_time"`
}
