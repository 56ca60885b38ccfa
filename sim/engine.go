// Package sim is an in-process trade and market adapter. Orders rest
// until a tick crosses their limit price; every callback is delivered
// asynchronously, in order, from the goroutine running Run.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/logger"
	"github.com/rustyeddy/tradecore/model"
	"github.com/rustyeddy/tradecore/pkg/id"
	"go.uber.org/zap"
)

var (
	ErrClosed         = errors.New("sim: engine closed")
	ErrUnknownOrder   = errors.New("sim: unknown order")
	ErrDuplicateOrder = errors.New("sim: duplicate order")
	ErrNoListener     = errors.New("sim: no listener")
)

// Reject codes reported through OnReject.
const (
	RejectInvalid           = 1
	RejectUnknownInstrument = 2
)

type InstrumentSource interface {
	Get(id string) (model.Instrument, error)
}

type Config struct {
	// MaxLotsPerFill caps the size of each fill; zero fills the whole
	// remainder in one trade.
	MaxLotsPerFill int
	// Instruments, when set, rejects orders for instruments it does not know.
	Instruments InstrumentSource
	Log         *zap.Logger
}

type eventKind int

const (
	evTick eventKind = iota
	evTrade
	evReject
	evCancel
)

type event struct {
	kind    eventKind
	tick    model.Tick
	trade   model.Trade
	orderID string
	code    int
	msg     string
}

type resting struct {
	req    broker.OrderRequest
	traded int
}

func (r *resting) remaining() int { return r.req.Quantity - r.traded }

type Engine struct {
	cfg Config
	log *zap.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	listener   broker.Listener
	ticker     broker.TickListener
	subscribed map[string]bool
	ticks      map[string]model.Tick
	book       []*resting // arrival order
	queue      []event
	busy       bool
	closed     bool
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		cfg:        cfg,
		log:        logger.OrNop(cfg.Log).Named("sim"),
		subscribed: make(map[string]bool),
		ticks:      make(map[string]model.Tick),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

var (
	_ broker.TradeAdapter  = (*Engine)(nil)
	_ broker.MarketAdapter = (*Engine)(nil)
	_ broker.TickListener  = (*Engine)(nil)
)

func (e *Engine) SetListener(l broker.Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

func (e *Engine) SetTickListener(l broker.TickListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ticker = l
}

// Subscribe forwards ticks of the instrument to the tick listener. Ticks
// of unsubscribed instruments still match resting orders.
func (e *Engine) Subscribe(_ context.Context, instrumentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.subscribed[instrumentID] = true
	return nil
}

// Require accepts an order. Malformed orders are accepted and then
// rejected through OnReject, the way an exchange would.
func (e *Engine) Require(_ context.Context, req broker.OrderRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.closed:
		return ErrClosed
	case e.listener == nil:
		return ErrNoListener
	case req.OrderID == "":
		return fmt.Errorf("sim: order id required")
	}
	for _, r := range e.book {
		if r.req.OrderID == req.OrderID {
			return fmt.Errorf("%w: %s", ErrDuplicateOrder, req.OrderID)
		}
	}

	if req.Quantity <= 0 || !req.Price.IsPositive() || !req.Direction.Valid() {
		e.push(event{kind: evReject, orderID: req.OrderID, code: RejectInvalid,
			msg: fmt.Sprintf("invalid order: %d lots at %s", req.Quantity, req.Price)})
		return nil
	}
	if e.cfg.Instruments != nil {
		if _, err := e.cfg.Instruments.Get(req.InstrumentID); err != nil {
			e.push(event{kind: evReject, orderID: req.OrderID, code: RejectUnknownInstrument,
				msg: fmt.Sprintf("unknown instrument %s", req.InstrumentID)})
			return nil
		}
	}

	r := &resting{req: req}
	e.book = append(e.book, r)
	e.log.Debug("order accepted",
		zap.String("order", req.OrderID),
		zap.String("instrument", req.InstrumentID),
		zap.String("direction", string(req.Direction)),
		zap.String("price", req.Price.String()),
		zap.Int("quantity", req.Quantity))

	// A marketable order fills against the last tick straight away.
	if t, ok := e.ticks[req.InstrumentID]; ok {
		e.fill(r, t)
		e.sweep()
	}
	return nil
}

// Cancel removes a resting order. An order that already filled, or was
// never accepted, returns ErrUnknownOrder.
func (e *Engine) Cancel(_ context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	for i, r := range e.book {
		if r.req.OrderID != orderID {
			continue
		}
		e.book = append(e.book[:i], e.book[i+1:]...)
		e.push(event{kind: evCancel, orderID: orderID})
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
}

// OnTick feeds one market update: it is forwarded to the tick listener
// when subscribed, then matched against resting orders.
func (e *Engine) OnTick(_ context.Context, t model.Tick) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.ticks[t.InstrumentID] = t
	if e.subscribed[t.InstrumentID] {
		e.push(event{kind: evTick, tick: t})
	}
	for _, r := range e.book {
		if r.req.InstrumentID == t.InstrumentID {
			e.fill(r, t)
		}
	}
	e.sweep()
	return nil
}

// Resting returns the number of orders waiting to fill.
func (e *Engine) Resting() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.book)
}

// fill matches one order against a tick; mu must be held. Buys take the
// ask and sells hit the bid, falling back to the last price.
func (e *Engine) fill(r *resting, t model.Tick) {
	price := t.AskPrice
	if r.req.Direction == model.Sell {
		price = t.BidPrice
	}
	if !price.IsPositive() {
		price = t.LastPrice
	}
	if !price.IsPositive() {
		return
	}
	crossed := price.LessThanOrEqual(r.req.Price)
	if r.req.Direction == model.Sell {
		crossed = price.GreaterThanOrEqual(r.req.Price)
	}
	if !crossed || r.remaining() <= 0 {
		return
	}

	qty := r.remaining()
	if limit := e.cfg.MaxLotsPerFill; limit > 0 && qty > limit {
		qty = limit
	}
	r.traded += qty
	e.push(event{kind: evTrade, trade: model.Trade{
		ID:           id.NewKind(id.Trade),
		OrderID:      r.req.OrderID,
		InstrumentID: r.req.InstrumentID,
		Direction:    r.req.Direction,
		Offset:       r.req.Offset,
		Price:        price,
		Quantity:     qty,
		TradingDay:   t.TradingDay,
		Time:         t.UpdateTime,
	}})
}

// sweep drops fully traded orders from the book; mu must be held.
func (e *Engine) sweep() {
	kept := e.book[:0]
	for _, r := range e.book {
		if r.remaining() > 0 {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(e.book); i++ {
		e.book[i] = nil
	}
	e.book = kept
}

// push queues a callback; mu must be held.
func (e *Engine) push(ev event) {
	e.queue = append(e.queue, ev)
	e.cond.Broadcast()
}
