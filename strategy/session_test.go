package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rustyeddy/tradecore/execution"
	"github.com/rustyeddy/tradecore/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrader struct {
	mu       sync.Mutex
	opens    []execution.Request
	closes   []execution.Request
	canceled []string
	err      error
}

func (f *fakeTrader) Open(_ context.Context, req execution.Request) (model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Transaction{}, f.err
	}
	f.opens = append(f.opens, req)
	return model.Transaction{ID: fmt.Sprintf("TX-%d", len(f.opens)), AccountID: req.AccountID}, nil
}

func (f *fakeTrader) Close(_ context.Context, req execution.Request) (model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Transaction{}, f.err
	}
	f.closes = append(f.closes, req)
	return model.Transaction{ID: fmt.Sprintf("TX-C%d", len(f.closes)), AccountID: req.AccountID}, nil
}

func (f *fakeTrader) Cancel(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, orderID)
	return nil
}

// probe counts the events it sees.
type probe struct {
	Base
	session *Session
	ticks   int
	bars    int
	trades  []model.Trade
	updates []model.Transaction
	stopped bool
	failOn  error
}

func (p *probe) OnStart(_ context.Context, s *Session) error {
	p.session = s
	return p.failOn
}

func (p *probe) OnStop(context.Context) error { p.stopped = true; return nil }

func (p *probe) OnTick(context.Context, model.Tick) error { p.ticks++; return nil }

func (p *probe) OnBar(context.Context, Bar) error { p.bars++; return nil }

func (p *probe) OnTrade(_ context.Context, t model.Trade) error {
	p.trades = append(p.trades, t)
	return nil
}

func (p *probe) OnTradeUpdate(_ context.Context, tx model.Transaction) error {
	p.updates = append(p.updates, tx)
	return nil
}

func newSession(t *testing.T, st Strategy) (*Session, *Router, *fakeTrader) {
	t.Helper()
	r := NewRouter(nil)
	tr := &fakeTrader{}
	s, err := NewSession(SessionConfig{
		AccountID:   "A1",
		Instruments: []string{instID},
		BarMinutes:  []int{1},
		Strategy:    st,
		Trader:      tr,
		Router:      r,
	})
	require.NoError(t, err)
	return s, r, tr
}

func TestNewSessionValidates(t *testing.T) {
	t.Parallel()
	r := NewRouter(nil)
	tests := []struct {
		name string
		cfg  SessionConfig
	}{
		{"no account", SessionConfig{Strategy: &Noop{}, Trader: &fakeTrader{}, Router: r}},
		{"no strategy", SessionConfig{AccountID: "A1", Trader: &fakeTrader{}, Router: r}},
		{"no trader", SessionConfig{AccountID: "A1", Strategy: &Noop{}, Router: r}},
		{"no router", SessionConfig{AccountID: "A1", Strategy: &Noop{}, Trader: &fakeTrader{}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewSession(tt.cfg)
			assert.Error(t, err)
		})
	}

	s, err := NewSession(SessionConfig{AccountID: "A1", Strategy: &Noop{}, Trader: &fakeTrader{}, Router: r})
	require.NoError(t, err)
	assert.Equal(t, "A1", s.Name())
	assert.Equal(t, "A1", s.AccountID())
}

func TestSessionDeliversEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := &probe{}
	s, r, _ := newSession(t, p)

	// Nothing is delivered before Start.
	require.NoError(t, r.OnTick(ctx, tickAt(instID, "3600", t0)))
	assert.Equal(t, 0, p.ticks)

	require.NoError(t, s.Start(ctx))
	assert.Same(t, s, p.session)
	assert.Error(t, s.Start(ctx))

	require.NoError(t, r.OnTick(ctx, tickAt(instID, "3600", t0.Add(70e9))))
	require.NoError(t, r.OnTick(ctx, tickAt("cu2405", "70000", t0.Add(70e9))))
	require.NoError(t, r.OnTick(ctx, tickAt(instID, "3601", t0.Add(130e9))))
	assert.Equal(t, 2, p.ticks)
	assert.Equal(t, 1, p.bars)

	r.OnFill(model.Trade{ID: "T1", AccountID: "A1", InstrumentID: instID})
	r.OnFill(model.Trade{ID: "T2", AccountID: "A2", InstrumentID: instID})
	r.OnTransactionUpdate(model.Transaction{ID: "X1", AccountID: "A1", InstrumentID: "cu2405"})
	r.OnTransactionUpdate(model.Transaction{ID: "X2", AccountID: "A2", InstrumentID: instID})
	require.Len(t, p.trades, 1)
	assert.Equal(t, "T1", p.trades[0].ID)
	require.Len(t, p.updates, 1)
	assert.Equal(t, "X1", p.updates[0].ID)

	require.NoError(t, s.Stop(ctx))
	assert.True(t, p.stopped)
	require.NoError(t, r.OnTick(ctx, tickAt(instID, "3602", t0.Add(200e9))))
	assert.Equal(t, 2, p.ticks)
	require.NoError(t, s.Stop(ctx))
}

func TestSessionStartFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("boom")
	p := &probe{failOn: boom}
	s, r, _ := newSession(t, p)

	assert.ErrorIs(t, s.Start(ctx), boom)
	require.NoError(t, r.OnTick(ctx, tickAt(instID, "3600", t0)))
	assert.Equal(t, 0, p.ticks)
}

func TestSessionOrders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _, tr := newSession(t, &Noop{})

	tx, err := s.Open(ctx, instID, model.Buy, d("3600"), 2)
	require.NoError(t, err)
	assert.Equal(t, "TX-1", tx.ID)
	_, err = s.Close(ctx, instID, model.Sell, d("3610"), 2)
	require.NoError(t, err)
	require.NoError(t, s.Cancel(ctx, "O1"))

	require.Len(t, tr.opens, 1)
	assert.Equal(t, execution.Request{
		AccountID: "A1", InstrumentID: instID, Direction: model.Buy, Price: d("3600"), Quantity: 2,
	}, tr.opens[0])
	require.Len(t, tr.closes, 1)
	assert.Equal(t, model.Sell, tr.closes[0].Direction)
	assert.Equal(t, []string{"O1"}, tr.canceled)
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	st, err := New(" Open-Once ", Params{InstrumentID: instID})
	require.NoError(t, err)
	oo, ok := st.(*OpenOnce)
	require.True(t, ok)
	assert.Equal(t, 1, oo.Quantity)
	assert.Equal(t, model.Buy, oo.Direction)

	_, err = New("noop", Params{})
	require.NoError(t, err)

	_, err = New("martingale", Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open-once")

	_, err = New("open-once", Params{})
	assert.Error(t, err)
	assert.Contains(t, Names(), "noop")
}
