// Package broker declares the adapters the execution core talks to: a
// trade adapter that accepts orders and reports fills, and a market
// adapter that streams ticks.
package broker

import (
	"context"
	"errors"

	"github.com/rustyeddy/tradecore/model"
	"github.com/shopspring/decimal"
)

var ErrNotSupported = errors.New("not supported by adapter")

// OrderRequest is what the core asks the trade adapter to place.
type OrderRequest struct {
	OrderID      string
	InstrumentID string
	Offset       model.Offset
	Direction    model.Direction
	Price        decimal.Decimal
	Quantity     int
}

// FromOrder builds the adapter request for an order.
func FromOrder(o model.Order) OrderRequest {
	return OrderRequest{
		OrderID:      o.ID,
		InstrumentID: o.InstrumentID,
		Offset:       o.Offset,
		Direction:    o.Direction,
		Price:        o.Price,
		Quantity:     o.Quantity,
	}
}

// TradeAdapter places and cancels orders. Require returns once the order
// has been accepted for sending; outcomes arrive asynchronously on the
// registered Listener.
type TradeAdapter interface {
	Require(ctx context.Context, req OrderRequest) error
	Cancel(ctx context.Context, orderID string) error
	SetListener(l Listener)
}

// Listener receives trade adapter callbacks. Callbacks for one order are
// delivered one at a time.
type Listener interface {
	OnTrade(ctx context.Context, t model.Trade) error
	OnReject(ctx context.Context, orderID string, code int, msg string) error
	OnCancel(ctx context.Context, orderID string) error
}

// MarketAdapter streams ticks for subscribed instruments.
type MarketAdapter interface {
	Subscribe(ctx context.Context, instrumentID string) error
	SetTickListener(l TickListener)
}

type TickListener interface {
	OnTick(ctx context.Context, t model.Tick) error
}

// TickListenerFunc adapts a function to TickListener.
type TickListenerFunc func(ctx context.Context, t model.Tick) error

func (f TickListenerFunc) OnTick(ctx context.Context, t model.Tick) error { return f(ctx, t) }

// FanOut delivers each tick to every listener in order, stopping at the
// first error.
type FanOut []TickListener

func (fo FanOut) OnTick(ctx context.Context, t model.Tick) error {
	for _, l := range fo {
		if err := l.OnTick(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
