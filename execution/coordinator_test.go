package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/ledger"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/model"
	"github.com/rustyeddy/tradecore/risk"
	"github.com/rustyeddy/tradecore/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	acctID = "A1"
	instID = "rb2405"
	today  = "20240410"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "%s: want %s got %s", field, want, got)
}

type fakeAdapter struct {
	mu         sync.Mutex
	requireErr error
	required   []broker.OrderRequest
	canceled   []string
	listener   broker.Listener
}

func (f *fakeAdapter) Require(_ context.Context, req broker.OrderRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requireErr != nil {
		return f.requireErr
	}
	f.required = append(f.required, req)
	return nil
}

func (f *fakeAdapter) Cancel(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeAdapter) SetListener(l broker.Listener) { f.listener = l }

func (f *fakeAdapter) requests() []broker.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broker.OrderRequest(nil), f.required...)
}

type fakeRisk struct {
	before risk.Notice
	after  risk.Notice
}

func (f fakeRisk) Before(model.Tick, risk.TxContext) risk.Notice  { return f.before }
func (f fakeRisk) After(model.Trade, risk.TxContext) risk.Notice { return f.after }

type recorder struct {
	mu     sync.Mutex
	fills  []model.Trade
	txs    []model.Transaction
	orders []model.Order
}

func (r *recorder) OnFill(t model.Trade) {
	r.mu.Lock()
	r.fills = append(r.fills, t)
	r.mu.Unlock()
}

func (r *recorder) OnTransactionUpdate(tx model.Transaction) {
	r.mu.Lock()
	r.txs = append(r.txs, tx)
	r.mu.Unlock()
}

func (r *recorder) OnOrderUpdate(o model.Order) {
	r.mu.Lock()
	r.orders = append(r.orders, o)
	r.mu.Unlock()
}

type fixture struct {
	c        *Coordinator
	adapter  *fakeAdapter
	accounts *ledger.Accounts
	ledger   *ledger.Ledger
	store    store.Store
}

func instrument() model.Instrument {
	return model.Instrument{
		ID:                         instID,
		ExchangeID:                 "SHFE",
		Multiple:                   d("10"),
		PriceTick:                  d("1"),
		VolumeMargin:               d("0.1"),
		OpenVolumeCommission:       d("1.2"),
		CloseVolumeCommission:      d("1.2"),
		CloseTodayVolumeCommission: d("1.2"),
	}
}

func newFixture(t *testing.T, assessor risk.Assessor) *fixture {
	t.Helper()
	st, err := store.NewJSON("")
	require.NoError(t, err)

	accts := ledger.NewAccounts(model.Account{
		ID:         acctID,
		Status:     model.AccountActive,
		Balance:    d("20000"),
		YdBalance:  d("20000"),
		TradingDay: today,
	})
	l := ledger.New(ledger.WithTradingDay(func() string { return today }))
	fa := &fakeAdapter{}
	c, err := New(Config{
		Accounts:    accts,
		Ledger:      l,
		Instruments: market.NewInstruments(instrument()),
		Adapter:     fa,
		Risk:        assessor,
		Store:       st,
		TradingDay:  func() string { return today },
		Clock:       func() time.Time { return time.Date(2024, 4, 10, 10, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	require.Same(t, c, fa.listener)
	return &fixture{c: c, adapter: fa, accounts: accts, ledger: l, store: st}
}

func (f *fixture) account(t *testing.T) model.Account {
	t.Helper()
	a, err := f.accounts.Get(acctID)
	require.NoError(t, err)
	return a
}

func (f *fixture) volumes(dir model.Direction) ledger.Volumes {
	return f.ledger.Volumes(model.GroupKey{AccountID: acctID, InstrumentID: instID, Direction: dir})
}

func req(dir model.Direction, qty int, price string) Request {
	return Request{AccountID: acctID, InstrumentID: instID, Direction: dir, Quantity: qty, Price: d(price)}
}

func fill(tx model.Transaction, qty int, price string) model.Trade {
	return model.Trade{OrderID: tx.OrderIDs[0], Quantity: qty, Price: d(price)}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestOpenFillLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	rec := &recorder{}
	f.c.AddListener(rec)

	tx, err := f.c.Open(ctx, req(model.Buy, 2, "2565"))
	require.NoError(t, err)
	assert.Equal(t, model.TransactionExecuting, tx.State)
	require.Len(t, tx.OrderIDs, 1)
	require.Len(t, f.adapter.requests(), 1)
	assert.Equal(t, model.OffsetOpen, f.adapter.requests()[0].Offset)

	o, err := f.c.Order(tx.OrderIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.OrderQueueing, o.State)
	assert.Len(t, o.ContractIDs, 2)
	assert.Equal(t, 2, f.volumes(model.Buy).Opening)

	a := f.account(t)
	assertDec(t, "5130", a.FrozenMargin, "frozen margin")
	assertDec(t, "2.4", a.FrozenCommission, "frozen commission")
	assertDec(t, "14867.6", a.Available, "available")

	require.NoError(t, f.c.OnTrade(ctx, fill(tx, 1, "2565")))
	o, _ = f.c.Order(tx.OrderIDs[0])
	assert.Equal(t, model.OrderQueueing, o.State)
	assert.Equal(t, 1, o.Traded)
	v := f.volumes(model.Buy)
	assert.Equal(t, 1, v.Opening)
	assert.Equal(t, 1, v.Open)

	require.NoError(t, f.c.OnTrade(ctx, fill(tx, 1, "2565")))
	o, _ = f.c.Order(tx.OrderIDs[0])
	assert.Equal(t, model.OrderAllTraded, o.State)
	tx, err = f.c.Transaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionCompleted, tx.State)
	assert.Equal(t, 2, tx.Traded)

	a = f.account(t)
	assert.True(t, a.FrozenMargin.IsZero())
	assert.True(t, a.FrozenCommission.IsZero())
	assertDec(t, "5130", a.Margin, "margin")
	assertDec(t, "2.4", a.Commission, "commission")
	assertDec(t, "19997.6", a.Balance, "balance")
	assertDec(t, "14867.6", a.Available, "available")

	rec.mu.Lock()
	assert.GreaterOrEqual(t, len(rec.txs), 3)
	assert.Equal(t, model.TransactionCompleted, rec.txs[len(rec.txs)-1].State)
	assert.Equal(t, model.OrderAllTraded, rec.orders[len(rec.orders)-1].State)
	require.Len(t, rec.fills, 2)
	assert.NotEmpty(t, rec.fills[0].ID)
	assert.Equal(t, acctID, rec.fills[0].AccountID)
	assert.Equal(t, today, rec.fills[1].TradingDay)
	rec.mu.Unlock()

	stored, err := f.store.SelectOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderAllTraded, stored.State)
	trades, err := f.store.ListTrades(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
	contracts, err := f.store.ListContracts(ctx, acctID)
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	for _, ct := range contracts {
		assert.Equal(t, model.ContractOpen, ct.State)
	}
	storedAcct, err := f.store.SelectAccount(ctx, acctID)
	require.NoError(t, err)
	assertDec(t, "19997.6", storedAcct.Balance, "stored balance")
}

// openFilled opens and fully fills qty buy lots at price.
func openFilled(t *testing.T, f *fixture, qty int, price string) {
	t.Helper()
	tx, err := f.c.Open(context.Background(), req(model.Buy, qty, price))
	require.NoError(t, err)
	require.NoError(t, f.c.OnTrade(context.Background(), fill(tx, qty, price)))
}

func TestCloseFill(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	openFilled(t, f, 2, "2565")

	tx, err := f.c.Close(ctx, req(model.Sell, 1, "2580"))
	require.NoError(t, err)
	assert.Equal(t, model.OffsetClose, tx.Offset)
	v := f.volumes(model.Buy)
	assert.Equal(t, 1, v.Closing)
	assert.Equal(t, 1, v.Open)

	require.NoError(t, f.c.OnTrade(ctx, fill(tx, 1, "2580")))
	tx, _ = f.c.Transaction(tx.ID)
	assert.Equal(t, model.TransactionCompleted, tx.State)

	v = f.volumes(model.Buy)
	assert.Equal(t, 1, v.Closed)
	assert.Equal(t, 1, v.Open)

	a := f.account(t)
	assertDec(t, "150", a.CloseProfit, "close profit")
	assertDec(t, "3.6", a.Commission, "commission")
	assertDec(t, "1.2", a.ClosingCommission, "closing commission")
	assertDec(t, "20146.4", a.Balance, "balance")
	assertDec(t, "2565", a.Margin, "margin")
	assertDec(t, "17581.4", a.Available, "available")
}

func TestCloseShortfallLocksNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	openFilled(t, f, 2, "2565")
	sent := len(f.adapter.requests())

	tx, err := f.c.Close(ctx, req(model.Sell, 3, "2580"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransaction)
	var te *TransactionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeInsufficientPosition, te.Code)
	assert.Equal(t, model.TransactionRejected, tx.State)
	assert.Equal(t, CodeInsufficientPosition, tx.Code)
	assert.Empty(t, tx.OrderIDs)

	assert.Equal(t, 2, f.volumes(model.Buy).Open)
	assert.Equal(t, 0, f.volumes(model.Buy).Closing)
	assert.Len(t, f.adapter.requests(), sent)

	stored, err := f.store.SelectTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionRejected, stored.State)
}

func TestCloseRejectsOpenOffset(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	r := req(model.Sell, 1, "2580")
	r.Offset = model.OffsetOpen
	_, err := f.c.Close(context.Background(), r)
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestInvalidRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(r *Request)
		setup    func(f *fixture)
		wantCode int
	}{
		{"unknown account", func(r *Request) { r.AccountID = "nope" }, nil, CodeUnknownAccount},
		{"unknown instrument", func(r *Request) { r.InstrumentID = "cu2405" }, nil, CodeUnknownInstrument},
		{"zero quantity", func(r *Request) { r.Quantity = 0 }, nil, CodeBadQuantity},
		{"zero price", func(r *Request) { r.Price = decimal.Zero }, nil, CodeBadPrice},
		{"bad direction", func(r *Request) { r.Direction = "UP" }, nil, CodeBadDirection},
		{
			"halted account",
			func(r *Request) {},
			func(f *fixture) {
				_, _ = f.accounts.Update(acctID, func(a *model.Account) error {
					a.Status = model.AccountHalted
					return nil
				})
			},
			CodeAccountInactive,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			if tt.setup != nil {
				tt.setup(f)
			}
			r := req(model.Buy, 1, "2565")
			tt.mutate(&r)

			_, err := f.c.Open(context.Background(), r)
			require.ErrorIs(t, err, ErrInvalidTransaction)
			var te *TransactionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.wantCode, te.Code)
			assert.Empty(t, f.adapter.requests())
			assert.Empty(t, f.c.Transactions(acctID))
		})
	}
}

func TestRiskRejection(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fakeRisk{before: risk.Notice{Code: risk.CodeOrderTooLarge, Message: "too big"}})

	tx, err := f.c.Open(context.Background(), req(model.Buy, 1, "2565"))
	require.ErrorIs(t, err, ErrRiskRejected)
	assert.Equal(t, model.TransactionRejected, tx.State)
	assert.Equal(t, risk.CodeOrderTooLarge, tx.Code)
	assert.Equal(t, "too big", tx.Reason)
	assert.Equal(t, 0, f.volumes(model.Buy).Total())
	assert.Empty(t, f.adapter.requests())
	assert.True(t, f.account(t).FrozenMargin.IsZero())
}

func TestPostTradeNoticeKeepsFill(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fakeRisk{after: risk.Notice{Code: risk.CodeSlippage, Message: "slipped"}})

	tx, err := f.c.Open(ctx, req(model.Buy, 1, "2565"))
	require.NoError(t, err)
	require.NoError(t, f.c.OnTrade(ctx, fill(tx, 1, "2600")))

	tx, _ = f.c.Transaction(tx.ID)
	assert.Equal(t, model.TransactionCompleted, tx.State)
	assert.Equal(t, risk.CodeSlippage, tx.Code)
	assert.Equal(t, "slipped", tx.Reason)
	assert.Equal(t, 1, f.volumes(model.Buy).Open)
}

func TestCancelKeepsPostTradeNotice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fakeRisk{after: risk.Notice{Code: risk.CodeSlippage, Message: "slipped"}})

	tx, err := f.c.Open(ctx, req(model.Buy, 2, "2565"))
	require.NoError(t, err)
	require.NoError(t, f.c.OnTrade(ctx, fill(tx, 1, "2600")))
	require.NoError(t, f.c.OnCancel(ctx, tx.OrderIDs[0]))

	tx, _ = f.c.Transaction(tx.ID)
	assert.Equal(t, model.TransactionRejected, tx.State)
	assert.Equal(t, risk.CodeSlippage, tx.Code)
	assert.Equal(t, "slipped", tx.Reason)
}

func TestRejectAfterPartialFillOverridesNotice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, fakeRisk{after: risk.Notice{Code: risk.CodeSlippage, Message: "slipped"}})

	tx, err := f.c.Open(ctx, req(model.Buy, 2, "2565"))
	require.NoError(t, err)
	require.NoError(t, f.c.OnTrade(ctx, fill(tx, 1, "2600")))
	require.NoError(t, f.c.OnReject(ctx, tx.OrderIDs[0], 42, "limit down"))

	tx, _ = f.c.Transaction(tx.ID)
	assert.Equal(t, model.TransactionRejected, tx.State)
	assert.Equal(t, 1, tx.Traded)
	assert.Equal(t, 42, tx.Code)
	assert.Equal(t, "limit down", tx.Reason)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		orders map[string]model.OrderState
		want   model.TransactionState
	}{
		{"no orders", nil, model.TransactionExecuting},
		{"still queueing", map[string]model.OrderState{"a": model.OrderAllTraded, "b": model.OrderQueueing}, model.TransactionExecuting},
		{"all traded", map[string]model.OrderState{"a": model.OrderAllTraded, "b": model.OrderAllTraded}, model.TransactionCompleted},
		{"one canceled", map[string]model.OrderState{"a": model.OrderAllTraded, "b": model.OrderCanceled}, model.TransactionRejected},
		{"rejected", map[string]model.OrderState{"a": model.OrderRejected}, model.TransactionRejected},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tx := model.Transaction{State: model.TransactionExecuting}
			resolve(&tx, tt.orders)
			assert.Equal(t, tt.want, tx.State)
		})
	}
}

func TestInsufficientFunds(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	tx, err := f.c.Open(context.Background(), req(model.Buy, 100, "2565"))
	require.ErrorIs(t, err, ErrInvalidTransaction)
	assert.Equal(t, CodeInsufficientFunds, tx.Code)
	assert.Equal(t, 0, f.volumes(model.Buy).Total())
	assertDec(t, "20000", f.account(t).Available, "available")
}

func TestAdapterFailureUnwinds(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.adapter.requireErr = errors.New("link down")

	tx, err := f.c.Open(context.Background(), req(model.Buy, 2, "2565"))
	require.ErrorIs(t, err, ErrAdapterFailure)
	assert.Contains(t, err.Error(), "link down")
	assert.Equal(t, model.TransactionRejected, tx.State)
	assert.Equal(t, CodeAdapterFailure, tx.Code)

	o, err := f.c.Order(tx.OrderIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.OrderRejected, o.State)
	assert.Equal(t, CodeAdapterFailure, o.RejectCode)

	v := f.volumes(model.Buy)
	assert.Equal(t, 0, v.Opening)
	assert.Equal(t, 2, v.Abandoned)
	assertDec(t, "20000", f.account(t).Available, "available")
}

func TestAdapterFailureOnCloseReopens(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	openFilled(t, f, 2, "2565")
	f.adapter.requireErr = errors.New("link down")

	_, err := f.c.Close(context.Background(), req(model.Sell, 2, "2580"))
	require.ErrorIs(t, err, ErrAdapterFailure)
	v := f.volumes(model.Buy)
	assert.Equal(t, 2, v.Open)
	assert.Equal(t, 0, v.Closing)
}

func TestOnRejectReleases(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	tx, err := f.c.Open(ctx, req(model.Buy, 2, "2565"))
	require.NoError(t, err)
	require.NoError(t, f.c.OnReject(ctx, tx.OrderIDs[0], 42, "exchange closed"))

	o, _ := f.c.Order(tx.OrderIDs[0])
	assert.Equal(t, model.OrderRejected, o.State)
	assert.Equal(t, 42, o.RejectCode)
	assert.Equal(t, "exchange closed", o.RejectReason)

	tx, _ = f.c.Transaction(tx.ID)
	assert.Equal(t, model.TransactionRejected, tx.State)
	assert.Equal(t, 42, tx.Code)
	assert.Equal(t, 2, f.volumes(model.Buy).Abandoned)
	assertDec(t, "20000", f.account(t).Available, "available")

	// A second terminal callback is ignored.
	require.NoError(t, f.c.OnCancel(ctx, tx.OrderIDs[0]))
	o, _ = f.c.Order(tx.OrderIDs[0])
	assert.Equal(t, model.OrderRejected, o.State)

	err = f.c.OnTrade(ctx, fill(tx, 1, "2565"))
	assert.ErrorIs(t, err, ErrOrderDone)
}

func TestCancelAfterPartialFill(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	tx, err := f.c.Open(ctx, req(model.Buy, 3, "2565"))
	require.NoError(t, err)
	require.NoError(t, f.c.OnTrade(ctx, fill(tx, 1, "2565")))

	require.NoError(t, f.c.Cancel(ctx, tx.OrderIDs[0]))
	assert.Equal(t, []string{tx.OrderIDs[0]}, f.adapter.canceled)
	require.NoError(t, f.c.OnCancel(ctx, tx.OrderIDs[0]))

	o, _ := f.c.Order(tx.OrderIDs[0])
	assert.Equal(t, model.OrderCanceled, o.State)
	assert.Equal(t, 1, o.Traded)
	tx, _ = f.c.Transaction(tx.ID)
	assert.Equal(t, model.TransactionRejected, tx.State, "a canceled order cannot complete the transaction")
	assert.Equal(t, 1, tx.Traded, "the partial fill is kept")
	assert.Equal(t, "order canceled", tx.Reason)
	stored, err := f.store.SelectTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionRejected, stored.State)

	v := f.volumes(model.Buy)
	assert.Equal(t, 1, v.Open)
	assert.Equal(t, 2, v.Abandoned)
	a := f.account(t)
	assert.True(t, a.FrozenMargin.IsZero())
	assert.True(t, a.FrozenCommission.IsZero())

	err = f.c.Cancel(ctx, tx.OrderIDs[0])
	assert.ErrorIs(t, err, ErrOrderDone)
	assert.ErrorIs(t, f.c.Cancel(ctx, "OR-nope"), ErrUnknownOrder)
}

func TestCancelCloseReopensRemainder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	openFilled(t, f, 3, "2565")

	tx, err := f.c.Close(ctx, req(model.Sell, 3, "2580"))
	require.NoError(t, err)
	require.NoError(t, f.c.OnTrade(ctx, fill(tx, 1, "2580")))
	require.NoError(t, f.c.OnCancel(ctx, tx.OrderIDs[0]))

	v := f.volumes(model.Buy)
	assert.Equal(t, 1, v.Closed)
	assert.Equal(t, 2, v.Open)
	assert.Equal(t, 0, v.Closing)
	assert.Equal(t, 3, v.Held())
}

func TestOverfillHaltsAccount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	tx, err := f.c.Open(ctx, req(model.Buy, 1, "2565"))
	require.NoError(t, err)

	err = f.c.OnTrade(ctx, fill(tx, 2, "2565"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrConsistency)
	assert.ErrorIs(t, err, ledger.ErrInvalidFill)
	assert.Equal(t, model.AccountHalted, f.account(t).Status)

	_, err = f.c.Open(ctx, req(model.Buy, 1, "2565"))
	var te *TransactionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeAccountInactive, te.Code)

	stored, err := f.store.SelectAccount(ctx, acctID)
	require.NoError(t, err)
	assert.Equal(t, model.AccountHalted, stored.Status)
}

func TestTradeForUnknownOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	err := f.c.OnTrade(context.Background(), model.Trade{OrderID: "OR-x", Quantity: 1, Price: d("1")})
	assert.ErrorIs(t, err, ErrUnknownOrder)
	_, err = f.c.Transaction("TX-x")
	assert.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestExpireOrders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	openFilled(t, f, 2, "2565")

	open, err := f.c.Open(ctx, req(model.Buy, 1, "2570"))
	require.NoError(t, err)
	closing, err := f.c.Close(ctx, req(model.Sell, 2, "2590"))
	require.NoError(t, err)
	assert.Len(t, f.c.Outstanding(acctID), 2)

	n, err := f.c.ExpireOrders(ctx, acctID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, f.c.Outstanding(acctID))
	assert.Len(t, f.adapter.canceled, 2)

	for _, txID := range []string{open.ID, closing.ID} {
		tx, err := f.c.Transaction(txID)
		require.NoError(t, err)
		assert.Equal(t, model.TransactionRejected, tx.State)
	}
	v := f.volumes(model.Buy)
	assert.Equal(t, 2, v.Open)
	assert.Equal(t, 0, v.Opening)
	assert.Equal(t, 0, v.Closing)
}

func TestConcurrentOrders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := f.c.Open(ctx, req(model.Buy, 1, "100"))
			if err != nil {
				errs <- err
				return
			}
			if err := f.c.OnTrade(ctx, fill(tx, 1, fmt.Sprintf("%d", 100+i))); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, workers, f.volumes(model.Buy).Open)
	assert.Len(t, f.c.Transactions(acctID), workers)
	a := f.account(t)
	assert.True(t, a.FrozenMargin.IsZero())
	assertDec(t, "9.6", a.Commission, "commission")
}

func TestConcurrentFillsKeepMargin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	// 100 one-lot opens at 100 hold 100 margin each once filled.
	const orders = 100
	txs := make([]model.Transaction, 0, orders)
	for i := 0; i < orders; i++ {
		tx, err := f.c.Open(ctx, req(model.Buy, 1, "100"))
		require.NoError(t, err)
		txs = append(txs, tx)
	}

	var wg sync.WaitGroup
	errs := make(chan error, orders)
	for _, tx := range txs {
		wg.Add(1)
		go func(tx model.Transaction) {
			defer wg.Done()
			if err := f.c.OnTrade(ctx, fill(tx, 1, "100")); err != nil {
				errs <- err
			}
		}(tx)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	a := f.account(t)
	assertDec(t, "10000", a.Margin, "margin")
	assertDec(t, "120", a.Commission, "commission")
	assert.True(t, a.FrozenMargin.IsZero())
	assertDec(t, "9880", a.Available, "available")
}
