package sim

import (
	"context"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/model"
	"go.uber.org/zap"
)

// Run delivers queued callbacks until Close is called and the queue is
// empty, or ctx is done. Listeners run without the engine lock held, so
// they may place or cancel orders from inside a callback.
func (e *Engine) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	})
	defer stop()

	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed && ctx.Err() == nil {
			e.cond.Wait()
		}
		if err := ctx.Err(); err != nil {
			e.mu.Unlock()
			return err
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return nil
		}
		ev := e.queue[0]
		e.queue[0] = event{}
		e.queue = e.queue[1:]
		e.busy = true
		l, tl := e.listener, e.ticker
		e.mu.Unlock()

		e.deliver(ctx, l, tl, ev)

		e.mu.Lock()
		e.busy = false
		e.cond.Broadcast()
		e.mu.Unlock()
	}
}

func (e *Engine) deliver(ctx context.Context, l broker.Listener, tl broker.TickListener, ev event) {
	var err error
	switch ev.kind {
	case evTick:
		if tl != nil {
			err = tl.OnTick(ctx, ev.tick)
		}
	case evTrade:
		if l != nil {
			err = l.OnTrade(ctx, ev.trade)
		}
	case evReject:
		if l != nil {
			err = l.OnReject(ctx, ev.orderID, ev.code, ev.msg)
		}
	case evCancel:
		if l != nil {
			err = l.OnCancel(ctx, ev.orderID)
		}
	}
	if err == nil {
		return
	}
	orderID := ev.orderID
	if ev.kind == evTrade {
		orderID = ev.trade.OrderID
	}
	e.log.Warn("callback failed", zap.String("order", orderID), zap.Error(err))
}

// Drain blocks until every queued callback has been delivered. Run must
// be running on another goroutine.
func (e *Engine) Drain() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.queue) > 0 || e.busy {
		e.cond.Wait()
	}
}

// Step feeds one tick and waits for the callbacks it caused.
func (e *Engine) Step(ctx context.Context, t model.Tick) error {
	if err := e.OnTick(ctx, t); err != nil {
		return err
	}
	e.Drain()
	return nil
}

// Close stops accepting orders and ticks. Run returns once the callbacks
// already queued have been delivered.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.cond.Broadcast()
	return nil
}
