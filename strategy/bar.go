package strategy

import (
	"time"

	"github.com/rustyeddy/tradecore/model"
	"github.com/shopspring/decimal"
)

// Bar is an OHLC aggregate of the ticks of one instrument over Minutes
// minutes starting at Start.
type Bar struct {
	InstrumentID string
	Minutes      int
	Start        time.Time

	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
	Ticks int
}

// barBuilder folds ticks into consecutive bars of a fixed width.
type barBuilder struct {
	minutes int
	cur     Bar
	have    bool
}

// add folds t into the current bar. When t starts a new bucket the
// finished bar is returned with done set.
func (b *barBuilder) add(t model.Tick) (finished Bar, done bool) {
	if !t.LastPrice.IsPositive() || t.UpdateTime.IsZero() {
		return Bar{}, false
	}
	start := t.UpdateTime.Truncate(time.Duration(b.minutes) * time.Minute)

	if b.have && !start.Equal(b.cur.Start) {
		finished, done = b.cur, true
		b.have = false
	}
	if !b.have {
		b.cur = Bar{
			InstrumentID: t.InstrumentID,
			Minutes:      b.minutes,
			Start:        start,
			Open:         t.LastPrice,
			High:         t.LastPrice,
			Low:          t.LastPrice,
		}
		b.have = true
	}
	if t.LastPrice.GreaterThan(b.cur.High) {
		b.cur.High = t.LastPrice
	}
	if t.LastPrice.LessThan(b.cur.Low) {
		b.cur.Low = t.LastPrice
	}
	b.cur.Close = t.LastPrice
	b.cur.Ticks++
	return finished, done
}

// flush returns the bar in progress, if any, and resets the builder.
func (b *barBuilder) flush() (Bar, bool) {
	if !b.have {
		return Bar{}, false
	}
	b.have = false
	return b.cur, true
}
