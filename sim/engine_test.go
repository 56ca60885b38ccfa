package sim

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const instID = "rb2405"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recorder struct {
	mu     sync.Mutex
	events []string
	trades []model.Trade
}

func (r *recorder) OnTrade(_ context.Context, t model.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("trade %s %d@%s", t.OrderID, t.Quantity, t.Price))
	r.trades = append(r.trades, t)
	return nil
}

func (r *recorder) OnReject(_ context.Context, orderID string, code int, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("reject %s %d", orderID, code))
	return nil
}

func (r *recorder) OnCancel(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "cancel "+orderID)
	return nil
}

func (r *recorder) OnTick(_ context.Context, t model.Tick) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "tick "+t.InstrumentID+" "+t.LastPrice.String())
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// start runs the engine's delivery loop for the duration of the test.
func start(t *testing.T, e *Engine, l broker.Listener) {
	t.Helper()
	e.SetListener(l)
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	t.Cleanup(func() {
		require.NoError(t, e.Close())
		require.NoError(t, <-done)
	})
}

func newEngine(t *testing.T, cfg Config) (*Engine, *recorder) {
	t.Helper()
	e := NewEngine(cfg)
	rec := &recorder{}
	e.SetTickListener(rec)
	start(t, e, rec)
	return e, rec
}

func buy(orderID string, qty int, price string) broker.OrderRequest {
	return broker.OrderRequest{
		OrderID:      orderID,
		InstrumentID: instID,
		Offset:       model.OffsetOpen,
		Direction:    model.Buy,
		Price:        d(price),
		Quantity:     qty,
	}
}

func quote(bid, ask string) model.Tick {
	return model.Tick{
		InstrumentID: instID,
		TradingDay:   "20240410",
		LastPrice:    d(bid),
		BidPrice:     d(bid),
		AskPrice:     d(ask),
		UpdateTime:   time.Date(2024, 4, 10, 9, 30, 0, 0, time.UTC),
	}
}

func TestRestingOrderFillsWhenCrossed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, rec := newEngine(t, Config{})

	require.NoError(t, e.Require(ctx, buy("O1", 5, "3600")))
	require.NoError(t, e.Step(ctx, quote("3600", "3601")))
	assert.Empty(t, rec.seen())
	assert.Equal(t, 1, e.Resting())

	require.NoError(t, e.Step(ctx, quote("3598", "3599")))
	assert.Equal(t, []string{"trade O1 5@3599"}, rec.seen())
	assert.Equal(t, 0, e.Resting())

	tr := rec.trades[0]
	assert.NotEmpty(t, tr.ID)
	assert.Equal(t, "20240410", tr.TradingDay)
	assert.Equal(t, model.OffsetOpen, tr.Offset)
	assert.False(t, tr.Time.IsZero())
}

func TestMarketableOrderFillsOnLastTick(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, rec := newEngine(t, Config{})

	require.NoError(t, e.Step(ctx, quote("3600", "3602")))

	sell := buy("O1", 2, "3590")
	sell.Direction = model.Sell
	require.NoError(t, e.Require(ctx, sell))
	e.Drain()

	assert.Equal(t, []string{"trade O1 2@3600"}, rec.seen())
}

func TestFallsBackToLastPrice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, rec := newEngine(t, Config{})

	require.NoError(t, e.Require(ctx, buy("O1", 1, "3600")))
	require.NoError(t, e.Step(ctx, model.Tick{InstrumentID: instID, LastPrice: d("3595")}))
	assert.Equal(t, []string{"trade O1 1@3595"}, rec.seen())
}

func TestPartialFills(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, rec := newEngine(t, Config{MaxLotsPerFill: 2})

	require.NoError(t, e.Require(ctx, buy("O1", 5, "3600")))
	for i := 0; i < 4; i++ {
		require.NoError(t, e.Step(ctx, quote("3590", "3591")))
	}
	assert.Equal(t, []string{
		"trade O1 2@3591",
		"trade O1 2@3591",
		"trade O1 1@3591",
	}, rec.seen())
}

func TestCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, rec := newEngine(t, Config{})

	require.NoError(t, e.Require(ctx, buy("O1", 1, "3600")))
	require.NoError(t, e.Cancel(ctx, "O1"))
	require.NoError(t, e.Step(ctx, quote("3590", "3591")))
	assert.Equal(t, []string{"cancel O1"}, rec.seen())

	assert.ErrorIs(t, e.Cancel(ctx, "O1"), ErrUnknownOrder)
}

func TestRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  broker.OrderRequest
		want string
	}{
		{"zero quantity", buy("O1", 0, "3600"), "reject O1 1"},
		{"zero price", buy("O1", 1, "0"), "reject O1 1"},
		{"unknown instrument", broker.OrderRequest{
			OrderID: "O1", InstrumentID: "cu2405", Direction: model.Buy, Price: d("70000"), Quantity: 1,
		}, "reject O1 2"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, rec := newEngine(t, Config{Instruments: market.NewInstruments(model.Instrument{ID: instID})})
			require.NoError(t, e.Require(context.Background(), tt.req))
			e.Drain()
			assert.Equal(t, []string{tt.want}, rec.seen())
			assert.Equal(t, 0, e.Resting())
		})
	}
}

func TestTicksForwardedWhenSubscribed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, rec := newEngine(t, Config{})

	require.NoError(t, e.Subscribe(ctx, instID))
	require.NoError(t, e.Require(ctx, buy("O1", 1, "3600")))
	require.NoError(t, e.Step(ctx, quote("3590", "3591")))
	require.NoError(t, e.Step(ctx, model.Tick{InstrumentID: "cu2405", LastPrice: d("70000")}))

	// The tick reaches listeners before the fill it causes.
	assert.Equal(t, []string{"tick rb2405 3590", "trade O1 1@3591"}, rec.seen())
}

func TestRequireErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := NewEngine(Config{})
	assert.ErrorIs(t, e.Require(ctx, buy("O1", 1, "3600")), ErrNoListener)

	e.SetListener(&recorder{})
	require.NoError(t, e.Require(ctx, buy("O1", 1, "3600")))
	assert.ErrorIs(t, e.Require(ctx, buy("O1", 1, "3600")), ErrDuplicateOrder)
	assert.Error(t, e.Require(ctx, buy("", 1, "3600")))

	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Require(ctx, buy("O2", 1, "3600")), ErrClosed)
	assert.ErrorIs(t, e.OnTick(ctx, quote("1", "2")), ErrClosed)
	assert.ErrorIs(t, e.Subscribe(ctx, instID), ErrClosed)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	e := NewEngine(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// chaser places a follow-up order from inside its trade callback.
type chaser struct {
	recorder
	e    *Engine
	once sync.Once
	err  error
}

func (c *chaser) OnTrade(ctx context.Context, t model.Trade) error {
	c.once.Do(func() { c.err = c.e.Require(ctx, buy("O2", 1, "3600")) })
	return c.recorder.OnTrade(ctx, t)
}

func TestCallbackMayPlaceOrders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := NewEngine(Config{})
	c := &chaser{e: e}
	start(t, e, c)

	require.NoError(t, e.Require(ctx, buy("O1", 1, "3600")))
	require.NoError(t, e.Step(ctx, quote("3590", "3591")))

	require.NoError(t, c.err)
	assert.Equal(t, []string{"trade O1 1@3591", "trade O2 1@3591"}, c.seen())
}
