// Package settle closes a trading day for each account: it marks held
// contracts to the settlement price, recomputes margin, commission and
// profit, snapshots the account and rolls it into the next day.
package settle

import (
	"sort"

	"github.com/rustyeddy/tradecore/model"
	"github.com/shopspring/decimal"
)

type Input struct {
	Account   model.Account
	Contracts []model.Contract
	// Instruments and Ticks are keyed by instrument ID.
	Instruments map[string]model.Instrument
	Ticks       map[string]model.Tick
	TradingDay  string
	// NextTradingDay is stamped on the rolled-forward account.
	NextTradingDay string
}

// Line breaks the figures down per instrument and direction.
type Line struct {
	InstrumentID   string
	Direction      model.Direction
	SettlePrice    decimal.Decimal
	HeldLots       int
	OpeningLots    int
	ClosedLots     int
	Margin         decimal.Decimal
	PositionProfit decimal.Decimal
	CloseProfit    decimal.Decimal
	Commission     decimal.Decimal
}

type Result struct {
	// Settled carries the day's final figures and becomes the snapshot.
	Settled model.Account
	// Next is the live account for the following trading day.
	Next  model.Account
	Lines []Line
}

type lineKey struct {
	instrumentID string
	direction    model.Direction
}

// Compute settles one account from its inputs. It has no side effects:
// the same inputs always produce the same result.
func Compute(in Input) (Result, error) {
	day := in.TradingDay
	if day == "" {
		day = in.Account.TradingDay
	}

	var (
		margin, positionProfit, closeProfit = decimal.Zero, decimal.Zero, decimal.Zero
		commission, closingCommission       = decimal.Zero, decimal.Zero
		openingMargin, openingCommission    = decimal.Zero, decimal.Zero
		lines                               = make(map[lineKey]*Line)
	)

	contracts := append([]model.Contract(nil), in.Contracts...)
	sort.Slice(contracts, func(i, j int) bool { return contracts[i].ID < contracts[j].ID })

	for _, ct := range contracts {
		if ct.State == model.ContractAbandoned {
			continue
		}
		inst, ok := in.Instruments[ct.InstrumentID]
		if !ok {
			return Result{}, &DataMissingError{AccountID: in.Account.ID, InstrumentID: ct.InstrumentID, What: "instrument"}
		}
		k := lineKey{ct.InstrumentID, ct.Direction}
		ln, ok := lines[k]
		if !ok {
			ln = &Line{InstrumentID: ct.InstrumentID, Direction: ct.Direction}
			lines[k] = ln
		}
		openedToday := ct.OpenTradingDay == day

		switch ct.State {
		case model.ContractOpen, model.ContractClosing:
			price, ok := in.Ticks[ct.InstrumentID].SettlePrice()
			if !ok {
				return Result{}, &DataMissingError{AccountID: in.Account.ID, InstrumentID: ct.InstrumentID, What: "tick"}
			}
			m := inst.Margin(price)
			p := inst.Profit(ct.Direction, ct.OpenPrice, price)
			margin = margin.Add(m)
			positionProfit = positionProfit.Add(p)
			ln.SettlePrice = price
			ln.HeldLots++
			ln.Margin = ln.Margin.Add(m)
			ln.PositionProfit = ln.PositionProfit.Add(p)
			if openedToday {
				fee := inst.OpenCommission(ct.OpenPrice)
				commission = commission.Add(fee)
				ln.Commission = ln.Commission.Add(fee)
			}

		case model.ContractClosed:
			if ct.SettlementTradingDay != day || !ct.ClosePrice.Valid {
				continue
			}
			closePrice := ct.ClosePrice.Decimal
			p := inst.Profit(ct.Direction, ct.OpenPrice, closePrice)
			fee := inst.CloseCommission(closePrice, openedToday)
			closingCommission = closingCommission.Add(fee)
			if openedToday {
				fee = fee.Add(inst.OpenCommission(ct.OpenPrice))
			}
			closeProfit = closeProfit.Add(p)
			commission = commission.Add(fee)
			ln.ClosedLots++
			ln.CloseProfit = ln.CloseProfit.Add(p)
			ln.Commission = ln.Commission.Add(fee)

		case model.ContractOpening:
			openingMargin = openingMargin.Add(inst.Margin(ct.OpenPrice))
			openingCommission = openingCommission.Add(inst.OpenCommission(ct.OpenPrice))
			ln.OpeningLots++
		}
	}

	settled := in.Account
	settled.TradingDay = day
	settled.Margin = margin
	settled.PositionProfit = positionProfit
	settled.CloseProfit = closeProfit
	settled.Commission = commission
	settled.ClosingCommission = closingCommission
	settled.OpeningMargin = openingMargin
	settled.OpeningCommission = openingCommission
	settled.FrozenMargin = openingMargin
	settled.FrozenCommission = openingCommission
	settled.Balance = settled.YdBalance.Add(closeProfit).Sub(commission)
	settled.Recompute()

	next := settled
	next.TradingDay = in.NextTradingDay
	next.YdBalance = settled.Balance
	next.CloseProfit = decimal.Zero
	next.Commission = decimal.Zero
	next.ClosingCommission = decimal.Zero
	next.Recompute()

	res := Result{Settled: settled, Next: next}
	for _, ln := range lines {
		if ln.HeldLots+ln.OpeningLots+ln.ClosedLots > 0 {
			res.Lines = append(res.Lines, *ln)
		}
	}
	sort.Slice(res.Lines, func(i, j int) bool {
		if res.Lines[i].InstrumentID != res.Lines[j].InstrumentID {
			return res.Lines[i].InstrumentID < res.Lines[j].InstrumentID
		}
		return res.Lines[i].Direction < res.Lines[j].Direction
	})
	return res, nil
}
