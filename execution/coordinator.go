// Package execution turns strategy intents into broker orders and keeps
// transactions, orders, contracts and account reservations in step as the
// broker reports back.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/ledger"
	"github.com/rustyeddy/tradecore/logger"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/model"
	"github.com/rustyeddy/tradecore/pkg/id"
	"github.com/rustyeddy/tradecore/risk"
	"github.com/rustyeddy/tradecore/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Listener is told about every applied fill and every transaction and
// order change, after the change is applied and no lock is held.
type Listener interface {
	OnFill(t model.Trade)
	OnTransactionUpdate(tx model.Transaction)
	OnOrderUpdate(o model.Order)
}

// Request is a strategy's intent. For Close, Direction is the direction of
// the closing order (Sell closes a long position) and Offset may narrow
// the close to today's or yesterday's contracts.
type Request struct {
	AccountID    string
	InstrumentID string
	Direction    model.Direction
	Offset       model.Offset
	Price        decimal.Decimal
	Quantity     int
}

type Config struct {
	Accounts    *ledger.Accounts
	Ledger      *ledger.Ledger
	Instruments *market.Instruments
	Adapter     broker.TradeAdapter

	// Optional collaborators.
	Ticks market.TickSource
	Risk  risk.Assessor
	Store store.Store

	TradingDay func() string
	Clock      func() time.Time
	Log        *zap.Logger
}

type Coordinator struct {
	accounts    *ledger.Accounts
	ledger      *ledger.Ledger
	instruments *market.Instruments
	adapter     broker.TradeAdapter
	ticks       market.TickSource
	risk        risk.Assessor
	store       store.Store
	day         func() string
	now         func() time.Time
	log         *zap.Logger

	mu        sync.RWMutex
	txs       map[string]*txEntry
	orders    map[string]*orderEntry
	listeners []Listener
}

type txEntry struct {
	mu sync.Mutex
	tx model.Transaction
	// orders holds the last known state of every child order.
	orders map[string]model.OrderState
}

// orderEntry serialises every callback for one order.
type orderEntry struct {
	mu    sync.Mutex
	order model.Order
	tx    *txEntry
	// Per-lot amounts frozen on the account while an opening order is
	// outstanding.
	frozenMargin     decimal.Decimal
	frozenCommission decimal.Decimal
}

// New builds a coordinator and registers it as the adapter's listener.
func New(cfg Config) (*Coordinator, error) {
	switch {
	case cfg.Accounts == nil:
		return nil, errors.New("execution: accounts required")
	case cfg.Ledger == nil:
		return nil, errors.New("execution: ledger required")
	case cfg.Instruments == nil:
		return nil, errors.New("execution: instruments required")
	case cfg.Adapter == nil:
		return nil, errors.New("execution: trade adapter required")
	}

	c := &Coordinator{
		accounts:    cfg.Accounts,
		ledger:      cfg.Ledger,
		instruments: cfg.Instruments,
		adapter:     cfg.Adapter,
		ticks:       cfg.Ticks,
		risk:        cfg.Risk,
		store:       cfg.Store,
		day:         cfg.TradingDay,
		now:         cfg.Clock,
		log:         logger.OrNop(cfg.Log).Named("execution"),
		txs:         make(map[string]*txEntry),
		orders:      make(map[string]*orderEntry),
	}
	if c.risk == nil {
		c.risk = risk.Allow{}
	}
	if c.day == nil {
		c.day = func() string { return time.Now().Format(market.DayLayout) }
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.adapter.SetListener(c)
	return c, nil
}

func (c *Coordinator) AddListener(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Open places an opening order. It returns once the adapter has accepted
// the order; fills arrive later through OnTrade.
func (c *Coordinator) Open(ctx context.Context, req Request) (model.Transaction, error) {
	req.Offset = model.OffsetOpen
	return c.submit(ctx, req)
}

// Close places a closing order against the account's opposite-direction
// contracts. Either the full quantity is locked or nothing is.
func (c *Coordinator) Close(ctx context.Context, req Request) (model.Transaction, error) {
	if req.Offset == "" {
		req.Offset = model.OffsetClose
	}
	if !req.Offset.IsClose() {
		return model.Transaction{}, invalid(CodeBadOffset, "close with offset %s", req.Offset)
	}
	return c.submit(ctx, req)
}

func (c *Coordinator) validate(req Request) (model.Account, model.Instrument, *TransactionError) {
	acct, err := c.accounts.Get(req.AccountID)
	if err != nil {
		return acct, model.Instrument{}, invalid(CodeUnknownAccount, "%v", err)
	}
	if acct.Status != model.AccountActive {
		return acct, model.Instrument{}, invalid(CodeAccountInactive, "account %s is %s", acct.ID, acct.Status)
	}
	inst, err := c.instruments.Get(req.InstrumentID)
	if err != nil {
		return acct, inst, invalid(CodeUnknownInstrument, "%v", err)
	}
	if req.Quantity <= 0 {
		return acct, inst, invalid(CodeBadQuantity, "quantity must be positive, got %d", req.Quantity)
	}
	if !req.Price.IsPositive() {
		return acct, inst, invalid(CodeBadPrice, "price must be positive, got %s", req.Price)
	}
	if !req.Direction.Valid() {
		return acct, inst, invalid(CodeBadDirection, "unknown direction %q", req.Direction)
	}
	return acct, inst, nil
}

func (c *Coordinator) submit(ctx context.Context, req Request) (model.Transaction, error) {
	acct, inst, verr := c.validate(req)
	if verr != nil {
		c.log.Info("transaction refused",
			zap.String("account", req.AccountID),
			zap.String("instrument", req.InstrumentID),
			zap.Int("code", verr.Code),
			zap.String("reason", verr.Reason))
		return model.Transaction{}, verr
	}

	tx, o, err := c.place(ctx, req, acct, inst)
	if tx.ID != "" {
		c.notifyTx(tx)
	}
	if err != nil {
		return tx, err
	}
	c.notifyOrder(o)

	if err := c.adapter.Require(ctx, broker.FromOrder(o)); err != nil {
		c.log.Error("adapter refused order",
			zap.String("order", o.ID),
			zap.String("transaction", tx.ID),
			zap.Error(err))
		if ferr := c.finish(ctx, o.ID, model.OrderRejected, CodeAdapterFailure, err.Error()); ferr != nil {
			c.log.Error("unwind after adapter failure", zap.String("order", o.ID), zap.Error(ferr))
		}
		tx, _ = c.Transaction(tx.ID)
		return tx, &TransactionError{
			TransactionID: tx.ID,
			Code:          CodeAdapterFailure,
			Reason:        err.Error(),
			Err:           fmt.Errorf("%w: %v", ErrAdapterFailure, err),
		}
	}
	return tx, nil
}

// place runs everything up to dispatch with the account gate held shared.
// Listeners are notified by the caller once the gate is released.
func (c *Coordinator) place(ctx context.Context, req Request, acct model.Account, inst model.Instrument) (model.Transaction, model.Order, error) {
	release, err := c.accounts.Share(req.AccountID)
	if err != nil {
		return model.Transaction{}, model.Order{}, invalid(CodeUnknownAccount, "%v", err)
	}
	defer release()

	// Settlement or a halt may have run since validation.
	if acct, err = c.accounts.Get(req.AccountID); err != nil || acct.Status != model.AccountActive {
		return model.Transaction{}, model.Order{}, invalid(CodeAccountInactive, "account %s is %s", req.AccountID, acct.Status)
	}

	now := c.now()
	day := c.day()
	te := &txEntry{orders: make(map[string]model.OrderState), tx: model.Transaction{
		ID:           id.NewKind(id.Transaction),
		AccountID:    req.AccountID,
		InstrumentID: req.InstrumentID,
		Direction:    req.Direction,
		Offset:       req.Offset,
		Price:        req.Price,
		Quantity:     req.Quantity,
		State:        model.TransactionPending,
		TradingDay:   day,
		CreateTime:   now,
		UpdateTime:   now,
	}}
	c.mu.Lock()
	c.txs[te.tx.ID] = te
	c.mu.Unlock()
	c.persist(ctx, "insert transaction", func(st store.Store) error {
		return st.InsertTransaction(ctx, te.tx)
	})

	txctx := risk.TxContext{Transaction: te.tx, Account: acct, HeldLots: c.heldLots(req)}
	if n := c.risk.Before(c.tick(ctx, req.InstrumentID), txctx); !n.OK() {
		return c.reject(ctx, te, n.Code, n.Message, ErrRiskRejected)
	}

	o := model.Order{
		ID:            id.NewKind(id.Order),
		TransactionID: te.tx.ID,
		AccountID:     req.AccountID,
		InstrumentID:  req.InstrumentID,
		Direction:     req.Direction,
		Offset:        req.Offset,
		Price:         req.Price,
		Quantity:      req.Quantity,
		TradingDay:    day,
		State:         model.OrderQueueing,
		InsertTime:    now,
		UpdateTime:    now,
	}
	oe := &orderEntry{tx: te}

	var touched []model.Contract
	if req.Offset.IsClose() {
		res, err := c.ledger.LockForClose(ledger.LockRequest{
			AccountID:    req.AccountID,
			InstrumentID: req.InstrumentID,
			Direction:    req.Direction,
			Offset:       req.Offset,
			Quantity:     req.Quantity,
			OrderID:      o.ID,
			TradingDay:   day,
			AllOrNothing: true,
		})
		if err != nil {
			return c.reject(ctx, te, CodeLedger, err.Error(), ErrInvalidTransaction)
		}
		if res.Shortfall > 0 {
			return c.reject(ctx, te, CodeInsufficientPosition,
				fmt.Sprintf("closing %d lots but only %d available", req.Quantity, req.Quantity-res.Shortfall),
				ErrInvalidTransaction)
		}
		touched = res.Locked
	} else {
		oe.frozenMargin = inst.Margin(req.Price)
		oe.frozenCommission = inst.OpenCommission(req.Price)
		if err := c.freeze(req.AccountID, oe, req.Quantity); err != nil {
			return c.reject(ctx, te, CodeInsufficientFunds, err.Error(), ErrInvalidTransaction)
		}
		reserved, err := c.ledger.ReserveOpen(o)
		if err != nil {
			c.unfreeze(req.AccountID, oe, req.Quantity)
			return c.reject(ctx, te, CodeLedger, err.Error(), ErrInvalidTransaction)
		}
		touched = reserved
	}
	for _, ct := range touched {
		o.ContractIDs = append(o.ContractIDs, ct.ID)
	}
	oe.order = o

	te.mu.Lock()
	te.tx.State = model.TransactionExecuting
	te.tx.OrderIDs = append(te.tx.OrderIDs, o.ID)
	te.orders[o.ID] = o.State
	te.tx.UpdateTime = now
	tx := te.tx.Clone()
	te.mu.Unlock()

	c.mu.Lock()
	c.orders[o.ID] = oe
	c.mu.Unlock()

	c.persist(ctx, "insert order", func(st store.Store) error {
		return st.InsertOrder(ctx, o)
	})
	c.persist(ctx, "update transaction", func(st store.Store) error {
		return st.UpdateTransaction(ctx, tx)
	})
	c.saveContracts(ctx, touched)
	c.saveAccount(ctx, req.AccountID)

	c.log.Info("order placed",
		zap.String("transaction", tx.ID),
		zap.String("order", o.ID),
		zap.String("account", o.AccountID),
		zap.String("instrument", o.InstrumentID),
		zap.String("direction", string(o.Direction)),
		zap.String("offset", string(o.Offset)),
		zap.String("price", o.Price.String()),
		zap.Int("quantity", o.Quantity))

	return tx, o.Clone(), nil
}

// reject ends a transaction that never produced an order.
func (c *Coordinator) reject(ctx context.Context, te *txEntry, code int, reason string, cause error) (model.Transaction, model.Order, error) {
	te.mu.Lock()
	te.tx.State = model.TransactionRejected
	te.tx.Code = code
	te.tx.Reason = reason
	te.tx.UpdateTime = c.now()
	tx := te.tx.Clone()
	te.mu.Unlock()

	c.persist(ctx, "update transaction", func(st store.Store) error {
		return st.UpdateTransaction(ctx, tx)
	})
	c.log.Info("transaction rejected",
		zap.String("transaction", tx.ID),
		zap.String("account", tx.AccountID),
		zap.Int("code", code),
		zap.String("reason", reason))
	return tx, model.Order{}, &TransactionError{TransactionID: tx.ID, Code: code, Reason: reason, Err: cause}
}

func (c *Coordinator) freeze(accountID string, oe *orderEntry, lots int) error {
	q := decimal.NewFromInt(int64(lots))
	m := oe.frozenMargin.Mul(q)
	cm := oe.frozenCommission.Mul(q)
	_, err := c.accounts.Update(accountID, func(a *model.Account) error {
		if a.Available.LessThan(m.Add(cm)) {
			return fmt.Errorf("need %s available, have %s", m.Add(cm), a.Available)
		}
		a.FrozenMargin = a.FrozenMargin.Add(m)
		a.FrozenCommission = a.FrozenCommission.Add(cm)
		return nil
	})
	return err
}

func (c *Coordinator) unfreeze(accountID string, oe *orderEntry, lots int) {
	if lots <= 0 {
		return
	}
	q := decimal.NewFromInt(int64(lots))
	_, _ = c.accounts.Update(accountID, func(a *model.Account) error {
		a.FrozenMargin = a.FrozenMargin.Sub(oe.frozenMargin.Mul(q))
		a.FrozenCommission = a.FrozenCommission.Sub(oe.frozenCommission.Mul(q))
		return nil
	})
}

// heldLots counts what the request's position already holds: open and
// pending lots for an open, closable lots for a close.
func (c *Coordinator) heldLots(req Request) int {
	key := model.GroupKey{AccountID: req.AccountID, InstrumentID: req.InstrumentID, Direction: req.Direction}
	if req.Offset.IsClose() {
		key.Direction = req.Direction.Opposite()
		return c.ledger.Volumes(key).Open
	}
	v := c.ledger.Volumes(key)
	return v.Opening + v.Open + v.Closing
}

func (c *Coordinator) tick(ctx context.Context, instrumentID string) model.Tick {
	if c.ticks == nil {
		return model.Tick{}
	}
	t, err := c.ticks.GetTick(ctx, instrumentID)
	if err != nil {
		return model.Tick{}
	}
	return t
}

// Cancel asks the adapter to cancel an outstanding order. The outcome
// arrives through OnCancel.
func (c *Coordinator) Cancel(ctx context.Context, orderID string) error {
	oe, err := c.orderEntry(orderID)
	if err != nil {
		return err
	}
	oe.mu.Lock()
	done := oe.order.State.Done()
	oe.mu.Unlock()
	if done {
		return fmt.Errorf("%w: %s", ErrOrderDone, orderID)
	}
	if err := c.adapter.Cancel(ctx, orderID); err != nil {
		return fmt.Errorf("%w: cancel %s: %v", ErrAdapterFailure, orderID, err)
	}
	return nil
}

func (c *Coordinator) Transaction(txID string) (model.Transaction, error) {
	c.mu.RLock()
	te, ok := c.txs[txID]
	c.mu.RUnlock()
	if !ok {
		return model.Transaction{}, fmt.Errorf("%w: %s", ErrUnknownTransaction, txID)
	}
	te.mu.Lock()
	defer te.mu.Unlock()
	return te.tx.Clone(), nil
}

func (c *Coordinator) Order(orderID string) (model.Order, error) {
	oe, err := c.orderEntry(orderID)
	if err != nil {
		return model.Order{}, err
	}
	oe.mu.Lock()
	defer oe.mu.Unlock()
	return oe.order.Clone(), nil
}

// Transactions returns the account's transactions in creation order.
func (c *Coordinator) Transactions(accountID string) []model.Transaction {
	c.mu.RLock()
	entries := make([]*txEntry, 0, len(c.txs))
	for _, te := range c.txs {
		entries = append(entries, te)
	}
	c.mu.RUnlock()

	var out []model.Transaction
	for _, te := range entries {
		te.mu.Lock()
		if te.tx.AccountID == accountID {
			out = append(out, te.tx.Clone())
		}
		te.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Outstanding returns the IDs of the account's orders still queueing.
func (c *Coordinator) Outstanding(accountID string) []string {
	c.mu.RLock()
	entries := make([]*orderEntry, 0, len(c.orders))
	for _, oe := range c.orders {
		entries = append(entries, oe)
	}
	c.mu.RUnlock()

	var out []string
	for _, oe := range entries {
		oe.mu.Lock()
		if oe.order.AccountID == accountID && !oe.order.State.Done() {
			out = append(out, oe.order.ID)
		}
		oe.mu.Unlock()
	}
	sort.Strings(out)
	return out
}

func (c *Coordinator) orderEntry(orderID string) (*orderEntry, error) {
	c.mu.RLock()
	oe, ok := c.orders[orderID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	return oe, nil
}

func (c *Coordinator) notifyTx(tx model.Transaction) {
	c.mu.RLock()
	ls := c.listeners
	c.mu.RUnlock()
	for _, l := range ls {
		l.OnTransactionUpdate(tx.Clone())
	}
}

func (c *Coordinator) notifyFill(t model.Trade) {
	c.mu.RLock()
	ls := c.listeners
	c.mu.RUnlock()
	for _, l := range ls {
		l.OnFill(t)
	}
}

func (c *Coordinator) notifyOrder(o model.Order) {
	c.mu.RLock()
	ls := c.listeners
	c.mu.RUnlock()
	for _, l := range ls {
		l.OnOrderUpdate(o.Clone())
	}
}
