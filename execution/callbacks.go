package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/ledger"
	"github.com/rustyeddy/tradecore/model"
	"github.com/rustyeddy/tradecore/pkg/id"
	"github.com/rustyeddy/tradecore/risk"
	"github.com/rustyeddy/tradecore/store"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var _ broker.Listener = (*Coordinator)(nil)

// OnTrade applies one fill. Callbacks for the same order are serialised;
// fills for different orders run concurrently.
func (c *Coordinator) OnTrade(ctx context.Context, t model.Trade) error {
	oe, err := c.orderEntry(t.OrderID)
	if err != nil {
		c.log.Error("trade for unknown order", zap.String("order", t.OrderID), zap.String("trade", t.ID))
		return err
	}

	oe.mu.Lock()
	tx, o, applied, err := c.applyTrade(ctx, oe, t)
	oe.mu.Unlock()

	if o.ID != "" {
		c.notifyFill(applied)
		c.notifyOrder(o)
		c.notifyTx(tx)
	}
	return err
}

func (c *Coordinator) applyTrade(ctx context.Context, oe *orderEntry, t model.Trade) (model.Transaction, model.Order, model.Trade, error) {
	o := oe.order
	if o.State.Done() {
		err := fmt.Errorf("%w: trade %s on %s order %s", ErrOrderDone, t.ID, o.State, o.ID)
		c.log.Error("trade after order finished", zap.String("order", o.ID), zap.Error(err))
		return model.Transaction{}, model.Order{}, model.Trade{}, err
	}

	if t.ID == "" {
		t.ID = id.NewKind(id.Trade)
	}
	t.AccountID = o.AccountID
	t.InstrumentID = o.InstrumentID
	t.Direction = o.Direction
	t.Offset = o.Offset
	if t.TradingDay == "" {
		t.TradingDay = c.day()
	}
	if t.Time.IsZero() {
		t.Time = c.now()
	}

	release, err := c.accounts.Share(o.AccountID)
	if err != nil {
		return model.Transaction{}, model.Order{}, model.Trade{}, err
	}
	defer release()

	if t.Quantity <= 0 || t.Quantity > o.Remaining() {
		err := &ledger.Error{
			Kind:      ledger.KindInvalidFill,
			AccountID: o.AccountID,
			OrderID:   o.ID,
			Msg:       fmt.Sprintf("fill of %d lots with %d remaining", t.Quantity, o.Remaining()),
		}
		c.halt(ctx, o.AccountID, err)
		return model.Transaction{}, model.Order{}, model.Trade{}, err
	}

	var res ledger.FillResult
	if o.Offset.IsOpen() {
		res, err = c.ledger.ApplyOpenFill(o, t)
	} else {
		res, err = c.ledger.ApplyCloseFill(o, t)
	}
	if err != nil {
		if errors.Is(err, ledger.ErrConsistency) {
			c.halt(ctx, o.AccountID, err)
		}
		return model.Transaction{}, model.Order{}, model.Trade{}, err
	}

	inst, err := c.instruments.Get(o.InstrumentID)
	if err != nil {
		return model.Transaction{}, model.Order{}, model.Trade{}, err
	}
	q := decimal.NewFromInt(int64(t.Quantity))
	// Margin is recomputed under the account lock so concurrent fills on
	// the account cannot write back a stale figure.
	acct, err := c.accounts.Update(o.AccountID, func(a *model.Account) error {
		if o.Offset.IsOpen() {
			a.FrozenMargin = a.FrozenMargin.Sub(oe.frozenMargin.Mul(q))
			a.FrozenCommission = a.FrozenCommission.Sub(oe.frozenCommission.Mul(q))
			a.Commission = a.Commission.Add(inst.OpenCommission(t.Price).Mul(q))
		} else {
			for _, ct := range res.Contracts {
				a.CloseProfit = a.CloseProfit.Add(inst.Profit(ct.Direction, ct.OpenPrice, t.Price))
				fee := inst.CloseCommission(t.Price, ct.OpenTradingDay == t.TradingDay)
				a.Commission = a.Commission.Add(fee)
				a.ClosingCommission = a.ClosingCommission.Add(fee)
			}
		}
		a.Margin = c.margin(ctx, o.AccountID)
		a.Balance = a.YdBalance.Add(a.CloseProfit).Sub(a.Commission)
		return nil
	})
	if err != nil {
		c.log.Error("update account after fill",
			zap.String("account", o.AccountID),
			zap.String("order", o.ID),
			zap.String("trade", t.ID),
			zap.Error(err))
		return model.Transaction{}, model.Order{}, model.Trade{}, err
	}

	o.Traded += t.Quantity
	o.UpdateTime = t.Time
	if o.Remaining() == 0 {
		o.State = model.OrderAllTraded
	}
	oe.order = o

	te := oe.tx
	te.mu.Lock()
	te.tx.Traded += t.Quantity
	te.tx.UpdateTime = t.Time
	te.orders[o.ID] = o.State
	resolve(&te.tx, te.orders)
	txctx := risk.TxContext{Transaction: te.tx.Clone(), Account: acct}
	if n := c.risk.After(t, txctx); !n.OK() {
		te.tx.Code = n.Code
		te.tx.Reason = n.Message
		c.log.Warn("post-trade risk notice",
			zap.String("transaction", te.tx.ID),
			zap.String("trade", t.ID),
			zap.Int("code", n.Code),
			zap.String("reason", n.Message))
	}
	tx := te.tx.Clone()
	te.mu.Unlock()

	c.persist(ctx, "insert trade", func(st store.Store) error { return st.InsertTrade(ctx, t) })
	c.persist(ctx, "update order", func(st store.Store) error { return st.UpdateOrder(ctx, o) })
	c.persist(ctx, "update transaction", func(st store.Store) error { return st.UpdateTransaction(ctx, tx) })
	c.saveContracts(ctx, res.Contracts)
	c.saveAccount(ctx, o.AccountID)

	c.log.Info("trade applied",
		zap.String("trade", t.ID),
		zap.String("order", o.ID),
		zap.String("price", t.Price.String()),
		zap.Int("quantity", t.Quantity),
		zap.Int("remaining", o.Remaining()),
		zap.String("order_state", string(o.State)))
	return tx, o.Clone(), t, nil
}

// resolve settles the transaction state once every child order is done:
// all fully traded completes it, anything canceled or rejected rejects
// it. Traded keeps whatever filled.
func resolve(tx *model.Transaction, orders map[string]model.OrderState) {
	if len(orders) == 0 {
		return
	}
	allTraded := true
	for _, st := range orders {
		if !st.Done() {
			return
		}
		if st != model.OrderAllTraded {
			allTraded = false
		}
	}
	if allTraded {
		tx.State = model.TransactionCompleted
		return
	}
	tx.State = model.TransactionRejected
}

func (c *Coordinator) OnReject(ctx context.Context, orderID string, code int, msg string) error {
	return c.finish(ctx, orderID, model.OrderRejected, code, msg)
}

func (c *Coordinator) OnCancel(ctx context.Context, orderID string) error {
	return c.finish(ctx, orderID, model.OrderCanceled, 0, "order canceled")
}

// finish ends an order that will not fill further, releasing whatever it
// still reserves. Orders already done are left alone.
func (c *Coordinator) finish(ctx context.Context, orderID string, state model.OrderState, code int, msg string) error {
	oe, err := c.orderEntry(orderID)
	if err != nil {
		c.log.Warn("callback for unknown order", zap.String("order", orderID), zap.String("state", string(state)))
		return err
	}

	oe.mu.Lock()
	tx, o, err := c.finishLocked(ctx, oe, state, code, msg)
	oe.mu.Unlock()

	if o.ID != "" {
		c.notifyOrder(o)
		c.notifyTx(tx)
	}
	return err
}

func (c *Coordinator) finishLocked(ctx context.Context, oe *orderEntry, state model.OrderState, code int, msg string) (model.Transaction, model.Order, error) {
	o := oe.order
	if o.State.Done() {
		c.log.Debug("ignoring callback for finished order",
			zap.String("order", o.ID),
			zap.String("state", string(o.State)),
			zap.String("callback", string(state)))
		return model.Transaction{}, model.Order{}, nil
	}

	release, err := c.accounts.Share(o.AccountID)
	if err != nil {
		return model.Transaction{}, model.Order{}, err
	}
	defer release()

	res, err := c.ledger.Release(o)
	if err != nil {
		return model.Transaction{}, model.Order{}, err
	}
	if o.Offset.IsOpen() {
		c.unfreeze(o.AccountID, oe, o.Remaining())
	}

	o.State = state
	o.UpdateTime = c.now()
	if state == model.OrderRejected {
		o.RejectCode = code
		o.RejectReason = msg
	}
	oe.order = o

	te := oe.tx
	te.mu.Lock()
	te.tx.UpdateTime = o.UpdateTime
	te.orders[o.ID] = o.State
	resolve(&te.tx, te.orders)
	// An earlier post-trade notice is kept unless the order was rejected.
	if state == model.OrderRejected || te.tx.Code == 0 {
		te.tx.Code = code
		te.tx.Reason = msg
	}
	tx := te.tx.Clone()
	te.mu.Unlock()

	c.persist(ctx, "update order", func(st store.Store) error { return st.UpdateOrder(ctx, o) })
	c.persist(ctx, "update transaction", func(st store.Store) error { return st.UpdateTransaction(ctx, tx) })
	c.saveContracts(ctx, append(res.Reopened, res.Abandoned...))
	c.saveAccount(ctx, o.AccountID)

	c.log.Info("order finished",
		zap.String("order", o.ID),
		zap.String("state", string(state)),
		zap.Int("traded", o.Traded),
		zap.Int("reopened", len(res.Reopened)),
		zap.Int("abandoned", len(res.Abandoned)),
		zap.String("reason", msg))
	return tx, o.Clone(), nil
}

// ExpireOrders cancels every outstanding order of the account, without
// waiting for the adapter to confirm. Run it before settling the day.
func (c *Coordinator) ExpireOrders(ctx context.Context, accountID string) (int, error) {
	ids := c.Outstanding(accountID)
	var errs error
	for _, oid := range ids {
		if err := c.adapter.Cancel(ctx, oid); err != nil && !errors.Is(err, broker.ErrNotSupported) {
			c.log.Warn("adapter cancel failed during expiry", zap.String("order", oid), zap.Error(err))
		}
		errs = multierr.Append(errs, c.finish(ctx, oid, model.OrderCanceled, 0, "expired at end of trading day"))
	}
	return len(ids), errs
}

// halt stops all new trading on an account after a consistency violation.
func (c *Coordinator) halt(ctx context.Context, accountID string, cause error) {
	_, err := c.accounts.Update(accountID, func(a *model.Account) error {
		a.Status = model.AccountHalted
		return nil
	})
	c.log.Error("account halted", zap.String("account", accountID), zap.Error(cause))
	if err != nil {
		c.log.Error("halt account", zap.String("account", accountID), zap.Error(err))
		return
	}
	c.saveAccount(ctx, accountID)
}

// margin is the margin held by the account's OPEN and CLOSING contracts
// at the latest price for their instrument, falling back to the open
// price when no tick is available.
func (c *Coordinator) margin(ctx context.Context, accountID string) decimal.Decimal {
	total := decimal.Zero
	marks := make(map[string]decimal.Decimal)
	for _, ct := range c.ledger.Contracts(accountID) {
		if ct.State != model.ContractOpen && ct.State != model.ContractClosing {
			continue
		}
		inst, err := c.instruments.Get(ct.InstrumentID)
		if err != nil {
			continue
		}
		mark, ok := marks[ct.InstrumentID]
		if !ok {
			mark = c.tick(ctx, ct.InstrumentID).LastPrice
			marks[ct.InstrumentID] = mark
		}
		price := ct.OpenPrice
		if mark.IsPositive() {
			price = mark
		}
		total = total.Add(inst.Margin(price))
	}
	return total
}
