package strategy

import (
	"context"
	"sort"
	"sync"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/execution"
	"github.com/rustyeddy/tradecore/logger"
	"github.com/rustyeddy/tradecore/model"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type EventType int

const (
	EventTick EventType = iota + 1
	EventBar
	EventTrade
	EventTradeUpdate
)

func (e EventType) String() string {
	switch e {
	case EventTick:
		return "tick"
	case EventBar:
		return "bar"
	case EventTrade:
		return "trade"
	case EventTradeUpdate:
		return "trade_update"
	}
	return "unknown"
}

// Key addresses one row of the registration table. An empty InstrumentID
// matches every instrument; Minutes is only used by bar events.
type Key struct {
	Event        EventType
	InstrumentID string
	Minutes      int
}

type handlers[T any] map[Key][]func(context.Context, T) error

func (h handlers[T]) add(k Key, fn func(context.Context, T) error) {
	h[k] = append(h[k], fn)
}

// lookup returns the instrument's handlers followed by the wildcard ones,
// each in registration order.
func (h handlers[T]) lookup(k Key) []func(context.Context, T) error {
	out := append([]func(context.Context, T) error(nil), h[k]...)
	if k.InstrumentID != "" {
		k.InstrumentID = ""
		out = append(out, h[k]...)
	}
	return out
}

func run[T any](ctx context.Context, fns []func(context.Context, T) error, v T) error {
	var err error
	for _, fn := range fns {
		err = multierr.Append(err, fn(ctx, v))
	}
	return err
}

type barKey struct {
	instrumentID string
	minutes      int
}

// Router fans market and trade events out to registered handlers. It is
// both the market adapter's tick listener and a coordinator listener.
// Every handler for an event runs even when an earlier one fails.
type Router struct {
	log *zap.Logger

	mu       sync.RWMutex
	ticks    handlers[model.Tick]
	bars     handlers[Bar]
	trades   handlers[model.Trade]
	updates  handlers[model.Transaction]
	builders map[barKey]*barBuilder

	// bmu serialises bar building; ticks may arrive from several feeds.
	bmu sync.Mutex
}

func NewRouter(log *zap.Logger) *Router {
	return &Router{
		log:      logger.OrNop(log).Named("router"),
		ticks:    handlers[model.Tick]{},
		bars:     handlers[Bar]{},
		trades:   handlers[model.Trade]{},
		updates:  handlers[model.Transaction]{},
		builders: make(map[barKey]*barBuilder),
	}
}

var (
	_ broker.TickListener = (*Router)(nil)
	_ execution.Listener  = (*Router)(nil)
)

func (r *Router) HandleTick(instrumentID string, fn func(context.Context, model.Tick) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks.add(Key{Event: EventTick, InstrumentID: instrumentID}, fn)
}

// HandleBar registers fn for bars of the given width in minutes.
func (r *Router) HandleBar(instrumentID string, minutes int, fn func(context.Context, Bar) error) {
	if minutes <= 0 {
		minutes = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bars.add(Key{Event: EventBar, InstrumentID: instrumentID, Minutes: minutes}, fn)
}

func (r *Router) HandleTrade(instrumentID string, fn func(context.Context, model.Trade) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades.add(Key{Event: EventTrade, InstrumentID: instrumentID}, fn)
}

func (r *Router) HandleTradeUpdate(instrumentID string, fn func(context.Context, model.Transaction) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates.add(Key{Event: EventTradeUpdate, InstrumentID: instrumentID}, fn)
}

// OnTick dispatches the tick, then any bars it completes.
func (r *Router) OnTick(ctx context.Context, t model.Tick) error {
	r.mu.RLock()
	fns := r.ticks.lookup(Key{Event: EventTick, InstrumentID: t.InstrumentID})
	widths := r.barWidths(t.InstrumentID)
	r.mu.RUnlock()

	err := run(ctx, fns, t)

	var finished []Bar
	r.bmu.Lock()
	for _, m := range widths {
		k := barKey{instrumentID: t.InstrumentID, minutes: m}
		b, ok := r.builders[k]
		if !ok {
			b = &barBuilder{minutes: m}
			r.builders[k] = b
		}
		if bar, done := b.add(t); done {
			finished = append(finished, bar)
		}
	}
	r.bmu.Unlock()

	for _, bar := range finished {
		err = multierr.Append(err, r.dispatchBar(ctx, bar))
	}
	return err
}

// barWidths lists the bar widths registered for an instrument, directly
// or through a wildcard; mu must be held.
func (r *Router) barWidths(instrumentID string) []int {
	seen := map[int]bool{}
	var out []int
	for k := range r.bars {
		if (k.InstrumentID == instrumentID || k.InstrumentID == "") && !seen[k.Minutes] {
			seen[k.Minutes] = true
			out = append(out, k.Minutes)
		}
	}
	sort.Ints(out)
	return out
}

func (r *Router) dispatchBar(ctx context.Context, b Bar) error {
	r.mu.RLock()
	fns := r.bars.lookup(Key{Event: EventBar, InstrumentID: b.InstrumentID, Minutes: b.Minutes})
	r.mu.RUnlock()
	return run(ctx, fns, b)
}

// Flush emits every bar still in progress, e.g. at the end of a session.
func (r *Router) Flush(ctx context.Context) error {
	var pending []Bar
	r.bmu.Lock()
	for _, b := range r.builders {
		if bar, ok := b.flush(); ok {
			pending = append(pending, bar)
		}
	}
	r.bmu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].InstrumentID != pending[j].InstrumentID {
			return pending[i].InstrumentID < pending[j].InstrumentID
		}
		return pending[i].Minutes < pending[j].Minutes
	})
	var err error
	for _, bar := range pending {
		err = multierr.Append(err, r.dispatchBar(ctx, bar))
	}
	return err
}

// Coordinator callbacks carry no context and cannot fail, so handler
// errors are logged here.

func (r *Router) OnFill(t model.Trade) {
	r.mu.RLock()
	fns := r.trades.lookup(Key{Event: EventTrade, InstrumentID: t.InstrumentID})
	r.mu.RUnlock()
	if err := run(context.Background(), fns, t); err != nil {
		r.log.Error("trade handler failed", zap.String("trade", t.ID), zap.String("order", t.OrderID), zap.Error(err))
	}
}

func (r *Router) OnTransactionUpdate(tx model.Transaction) {
	r.mu.RLock()
	fns := r.updates.lookup(Key{Event: EventTradeUpdate, InstrumentID: tx.InstrumentID})
	r.mu.RUnlock()
	if err := run(context.Background(), fns, tx); err != nil {
		r.log.Error("trade update handler failed", zap.String("transaction", tx.ID), zap.Error(err))
	}
}

// OnOrderUpdate is not routed; strategies follow transactions.
func (r *Router) OnOrderUpdate(model.Order) {}
