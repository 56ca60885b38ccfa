// Package ledger owns the set of contracts held by every account and
// the reservations orders hold on them.
//
// Contracts are grouped by account+instrument+direction. Each group has
// its own mutex: lock, fill and release calls on one group never
// interleave, while unrelated groups proceed in parallel.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/tradecore/logger"
	"github.com/rustyeddy/tradecore/model"
	"github.com/rustyeddy/tradecore/pkg/id"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Ledger struct {
	mu     sync.RWMutex
	groups map[model.GroupKey]*group

	imu   sync.RWMutex
	index map[string]model.GroupKey

	day func() string
	now func() time.Time
	log *zap.Logger
}

type group struct {
	mu        sync.Mutex
	contracts map[string]*model.Contract
	// reserved maps an order to the contracts it still holds: CLOSING
	// contracts for a close order, OPENING placeholders for an open order.
	// The entry stays (possibly empty) until the order is released so an
	// overfill can be told apart from an order that never reserved.
	reserved map[string][]string
}

type Option func(*Ledger)

// WithTradingDay sets the source of the current trading day, used when a
// trade does not carry one.
func WithTradingDay(fn func() string) Option {
	return func(l *Ledger) { l.day = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) { l.now = fn }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		groups: make(map[model.GroupKey]*group),
		index:  make(map[string]model.GroupKey),
		day:    func() string { return "" },
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	l.log = logger.OrNop(l.log).Named("ledger")
	return l
}

// LockRequest asks for Quantity OPEN contracts to be reserved for a
// closing order. Direction is the order's direction; the contracts
// selected are held in the opposite direction.
type LockRequest struct {
	AccountID    string
	InstrumentID string
	Direction    model.Direction
	Offset       model.Offset
	Quantity     int
	OrderID      string
	// TradingDay splits CLOSE_TODAY from CLOSE_YESTERDAY.
	TradingDay string
	// AllOrNothing locks nothing when supply cannot cover Quantity.
	AllOrNothing bool
}

type LockResult struct {
	Locked    []model.Contract
	Shortfall int
}

type FillResult struct {
	Contracts []model.Contract
}

type ReleaseResult struct {
	// Reopened are CLOSING contracts returned to OPEN.
	Reopened []model.Contract
	// Abandoned are OPENING placeholders whose quantity was never filled.
	Abandoned []model.Contract
}

// Volumes counts lots per state within one group.
type Volumes struct {
	Opening   int
	Open      int
	Closing   int
	Closed    int
	Abandoned int
}

// Held is the lot count that conservation is checked against across
// lock, close-fill and release.
func (v Volumes) Held() int { return v.Open + v.Closing + v.Closed }

func (v Volumes) Total() int { return v.Opening + v.Held() + v.Abandoned }

// LockForClose reserves OPEN contracts for a closing order, oldest open
// trading day first with ties broken by contract ID.
func (l *Ledger) LockForClose(req LockRequest) (LockResult, error) {
	if req.Quantity <= 0 || req.OrderID == "" || !req.Direction.Valid() {
		return LockResult{}, newError(KindInvalidRequest, req.AccountID, req.OrderID,
			"bad lock request: quantity=%d direction=%q", req.Quantity, req.Direction)
	}
	if !req.Offset.IsClose() {
		return LockResult{}, newError(KindInvalidRequest, req.AccountID, req.OrderID,
			"lock requires a closing offset, got %s", req.Offset)
	}

	key := model.GroupKey{AccountID: req.AccountID, InstrumentID: req.InstrumentID, Direction: req.Direction.Opposite()}
	g := l.group(key)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.reserved[req.OrderID]; ok {
		return LockResult{}, newError(KindDoubleLock, req.AccountID, req.OrderID,
			"order already holds a reservation in %s", key)
	}

	candidates := make([]*model.Contract, 0, len(g.contracts))
	for _, c := range g.contracts {
		if c.State != model.ContractOpen {
			continue
		}
		switch req.Offset {
		case model.OffsetCloseToday:
			if c.OpenTradingDay != req.TradingDay {
				continue
			}
		case model.OffsetCloseYesterday:
			if c.OpenTradingDay >= req.TradingDay {
				continue
			}
		}
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].OpenTradingDay != candidates[j].OpenTradingDay {
			return candidates[i].OpenTradingDay < candidates[j].OpenTradingDay
		}
		return candidates[i].ID < candidates[j].ID
	})

	n := min(req.Quantity, len(candidates))
	res := LockResult{Shortfall: req.Quantity - n}
	if res.Shortfall > 0 && req.AllOrNothing {
		return res, nil
	}

	ids := make([]string, 0, n)
	for _, c := range candidates[:n] {
		c.State = model.ContractClosing
		c.CloseOrderID = req.OrderID
		ids = append(ids, c.ID)
		res.Locked = append(res.Locked, *c)
	}
	if n > 0 {
		g.reserved[req.OrderID] = ids
	}

	l.log.Debug("locked contracts",
		zap.String("group", key.String()),
		zap.String("order", req.OrderID),
		zap.Int("locked", n),
		zap.Int("shortfall", res.Shortfall))
	return res, nil
}

// ReserveOpen creates one OPENING placeholder per lot of an opening order.
// The placeholders carry the order price until a fill sets the real one.
func (l *Ledger) ReserveOpen(order model.Order) ([]model.Contract, error) {
	if !order.Offset.IsOpen() {
		return nil, newError(KindInvalidRequest, order.AccountID, order.ID,
			"reserve requires an opening offset, got %s", order.Offset)
	}
	if order.Quantity <= 0 || !order.Direction.Valid() {
		return nil, newError(KindInvalidRequest, order.AccountID, order.ID,
			"bad reserve request: quantity=%d direction=%q", order.Quantity, order.Direction)
	}

	key := model.GroupKey{AccountID: order.AccountID, InstrumentID: order.InstrumentID, Direction: order.Direction}
	g := l.group(key)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.reserved[order.ID]; ok {
		return nil, newError(KindDoubleLock, order.AccountID, order.ID, "order already reserved in %s", key)
	}

	day := order.TradingDay
	if day == "" {
		day = l.day()
	}
	out := make([]model.Contract, 0, order.Quantity)
	ids := make([]string, 0, order.Quantity)
	for i := 0; i < order.Quantity; i++ {
		c := &model.Contract{
			ID:             id.NewKind(id.Contract),
			AccountID:      order.AccountID,
			InstrumentID:   order.InstrumentID,
			Direction:      order.Direction,
			OpenPrice:      order.Price,
			State:          model.ContractOpening,
			OpenTradingDay: day,
			OpenOrderID:    order.ID,
		}
		g.contracts[c.ID] = c
		ids = append(ids, c.ID)
		out = append(out, *c)
	}
	g.reserved[order.ID] = ids
	l.indexAdd(key, ids...)
	return out, nil
}

// ApplyOpenFill turns trade.Quantity OPENING placeholders of the order
// into OPEN contracts at the trade price. Orders that never reserved (for
// example ones hydrated from storage) get fresh OPEN contracts.
func (l *Ledger) ApplyOpenFill(order model.Order, trade model.Trade) (FillResult, error) {
	if !order.Offset.IsOpen() {
		return FillResult{}, newError(KindInvalidFill, order.AccountID, order.ID,
			"open fill on %s order", order.Offset)
	}
	if trade.Quantity <= 0 {
		return FillResult{}, newError(KindInvalidFill, order.AccountID, order.ID,
			"fill quantity %d", trade.Quantity)
	}

	key := model.GroupKey{AccountID: order.AccountID, InstrumentID: order.InstrumentID, Direction: order.Direction}
	g := l.group(key)

	g.mu.Lock()
	defer g.mu.Unlock()

	day := l.tradeDay(trade)
	openTime := trade.Time
	if openTime.IsZero() {
		openTime = l.now()
	}

	held, reserved := g.reserved[order.ID]
	var res FillResult
	if !reserved {
		ids := make([]string, 0, trade.Quantity)
		for i := 0; i < trade.Quantity; i++ {
			c := &model.Contract{
				ID:             id.NewKind(id.Contract),
				AccountID:      order.AccountID,
				InstrumentID:   order.InstrumentID,
				Direction:      order.Direction,
				OpenPrice:      trade.Price,
				State:          model.ContractOpen,
				OpenTradingDay: day,
				OpenTime:       openTime,
				OpenOrderID:    order.ID,
			}
			g.contracts[c.ID] = c
			ids = append(ids, c.ID)
			res.Contracts = append(res.Contracts, *c)
		}
		l.indexAdd(key, ids...)
		return res, nil
	}

	if len(held) < trade.Quantity {
		return FillResult{}, newError(KindInvalidFill, order.AccountID, order.ID,
			"fill of %d exceeds %d outstanding opening lots", trade.Quantity, len(held))
	}
	for _, cid := range held[:trade.Quantity] {
		c := g.contracts[cid]
		c.State = model.ContractOpen
		c.OpenPrice = trade.Price
		c.OpenTradingDay = day
		c.OpenTime = openTime
		res.Contracts = append(res.Contracts, *c)
	}
	g.reserved[order.ID] = held[trade.Quantity:]
	return res, nil
}

// ApplyCloseFill closes trade.Quantity of the contracts the order locked.
// Running out of locked contracts is a consistency violation.
func (l *Ledger) ApplyCloseFill(order model.Order, trade model.Trade) (FillResult, error) {
	if !order.Offset.IsClose() {
		return FillResult{}, newError(KindInvalidFill, order.AccountID, order.ID,
			"close fill on %s order", order.Offset)
	}
	if trade.Quantity <= 0 {
		return FillResult{}, newError(KindInvalidFill, order.AccountID, order.ID,
			"fill quantity %d", trade.Quantity)
	}

	key := model.GroupKey{AccountID: order.AccountID, InstrumentID: order.InstrumentID, Direction: order.Direction.Opposite()}
	g := l.group(key)

	g.mu.Lock()
	defer g.mu.Unlock()

	held := g.reserved[order.ID]
	if len(held) < trade.Quantity {
		return FillResult{}, newError(KindNoLockedContract, order.AccountID, order.ID,
			"fill of %d lots but only %d locked", trade.Quantity, len(held))
	}

	day := l.tradeDay(trade)
	var res FillResult
	for _, cid := range held[:trade.Quantity] {
		c := g.contracts[cid]
		c.State = model.ContractClosed
		c.ClosePrice = decimal.NewNullDecimal(trade.Price)
		c.SettlementTradingDay = day
		res.Contracts = append(res.Contracts, *c)
	}
	g.reserved[order.ID] = held[trade.Quantity:]
	return res, nil
}

// Release abandons whatever the order still reserves: CLOSING contracts
// go back to OPEN and OPENING placeholders become ABANDONED. Contracts
// already filled are left alone, so a fill that lands before the release
// wins. Releasing an order with nothing reserved is a no-op.
func (l *Ledger) Release(order model.Order) (ReleaseResult, error) {
	dir := order.Direction
	if order.Offset.IsClose() {
		dir = dir.Opposite()
	}
	key := model.GroupKey{AccountID: order.AccountID, InstrumentID: order.InstrumentID, Direction: dir}

	l.mu.RLock()
	g, ok := l.groups[key]
	l.mu.RUnlock()
	if !ok {
		return ReleaseResult{}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var res ReleaseResult
	for _, cid := range g.reserved[order.ID] {
		c := g.contracts[cid]
		switch c.State {
		case model.ContractClosing:
			c.State = model.ContractOpen
			c.CloseOrderID = ""
			res.Reopened = append(res.Reopened, *c)
		case model.ContractOpening:
			c.State = model.ContractAbandoned
			res.Abandoned = append(res.Abandoned, *c)
		}
	}
	delete(g.reserved, order.ID)

	if n := len(res.Reopened) + len(res.Abandoned); n > 0 {
		l.log.Debug("released reservation",
			zap.String("group", key.String()),
			zap.String("order", order.ID),
			zap.Int("reopened", len(res.Reopened)),
			zap.Int("abandoned", len(res.Abandoned)))
	}
	return res, nil
}

// Load hydrates the ledger with persisted contracts, rebuilding order
// reservations from CLOSING and OPENING states.
func (l *Ledger) Load(contracts []model.Contract) {
	sorted := append([]model.Contract(nil), contracts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, in := range sorted {
		c := in
		key := c.Key()
		g := l.group(key)
		g.mu.Lock()
		g.contracts[c.ID] = &c
		switch {
		case c.State == model.ContractClosing && c.CloseOrderID != "":
			g.reserved[c.CloseOrderID] = append(g.reserved[c.CloseOrderID], c.ID)
		case c.State == model.ContractOpening && c.OpenOrderID != "":
			g.reserved[c.OpenOrderID] = append(g.reserved[c.OpenOrderID], c.ID)
		}
		g.mu.Unlock()
		l.indexAdd(key, c.ID)
	}
}

// Get returns a copy of one contract.
func (l *Ledger) Get(contractID string) (model.Contract, bool) {
	l.imu.RLock()
	key, ok := l.index[contractID]
	l.imu.RUnlock()
	if !ok {
		return model.Contract{}, false
	}
	l.mu.RLock()
	g := l.groups[key]
	l.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.contracts[contractID]
	if !ok {
		return model.Contract{}, false
	}
	return *c, true
}

// Contracts returns copies of every active contract of the account,
// ordered by ID.
func (l *Ledger) Contracts(accountID string) []model.Contract {
	var out []model.Contract
	for _, g := range l.accountGroups(accountID) {
		g.mu.Lock()
		for _, c := range g.contracts {
			out = append(out, *c)
		}
		g.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Volumes counts the lots of one group by state.
func (l *Ledger) Volumes(key model.GroupKey) Volumes {
	l.mu.RLock()
	g, ok := l.groups[key]
	l.mu.RUnlock()
	if !ok {
		return Volumes{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	var v Volumes
	for _, c := range g.contracts {
		switch c.State {
		case model.ContractOpening:
			v.Opening++
		case model.ContractOpen:
			v.Open++
		case model.ContractClosing:
			v.Closing++
		case model.ContractClosed:
			v.Closed++
		case model.ContractAbandoned:
			v.Abandoned++
		}
	}
	return v
}

// Archive drops the account's CLOSED and ABANDONED contracts from the
// active set and returns them. Called by settlement at roll-forward.
func (l *Ledger) Archive(accountID string) []model.Contract {
	var out []model.Contract
	for _, g := range l.accountGroups(accountID) {
		g.mu.Lock()
		for cid, c := range g.contracts {
			if c.State.Terminal() {
				out = append(out, *c)
				delete(g.contracts, cid)
			}
		}
		g.mu.Unlock()
	}

	l.imu.Lock()
	for _, c := range out {
		delete(l.index, c.ID)
	}
	l.imu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) group(key model.GroupKey) *group {
	l.mu.RLock()
	g, ok := l.groups[key]
	l.mu.RUnlock()
	if ok {
		return g
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if g, ok = l.groups[key]; ok {
		return g
	}
	g = &group{
		contracts: make(map[string]*model.Contract),
		reserved:  make(map[string][]string),
	}
	l.groups[key] = g
	return g
}

func (l *Ledger) accountGroups(accountID string) []*group {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*group
	for k, g := range l.groups {
		if k.AccountID == accountID {
			out = append(out, g)
		}
	}
	return out
}

func (l *Ledger) indexAdd(key model.GroupKey, ids ...string) {
	l.imu.Lock()
	for _, cid := range ids {
		l.index[cid] = key
	}
	l.imu.Unlock()
}

func (l *Ledger) tradeDay(t model.Trade) string {
	if t.TradingDay != "" {
		return t.TradingDay
	}
	return l.day()
}
