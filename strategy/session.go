package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rustyeddy/tradecore/execution"
	"github.com/rustyeddy/tradecore/logger"
	"github.com/rustyeddy/tradecore/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Trader is the part of the coordinator a session trades through.
type Trader interface {
	Open(ctx context.Context, req execution.Request) (model.Transaction, error)
	Close(ctx context.Context, req execution.Request) (model.Transaction, error)
	Cancel(ctx context.Context, orderID string) error
}

type SessionConfig struct {
	Name      string
	AccountID string
	// Instruments the strategy receives ticks and bars for.
	Instruments []string
	// BarMinutes lists the bar widths delivered to OnBar.
	BarMinutes []int

	Strategy Strategy
	Trader   Trader
	Router   *Router
	Log      *zap.Logger
}

// Session runs one strategy against one account. Events are only
// delivered between Start and Stop.
type Session struct {
	cfg     SessionConfig
	log     *zap.Logger
	running atomic.Bool
	started atomic.Bool
}

func NewSession(cfg SessionConfig) (*Session, error) {
	switch {
	case cfg.AccountID == "":
		return nil, errors.New("strategy: session account required")
	case cfg.Strategy == nil:
		return nil, errors.New("strategy: session strategy required")
	case cfg.Trader == nil:
		return nil, errors.New("strategy: session trader required")
	case cfg.Router == nil:
		return nil, errors.New("strategy: session router required")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.AccountID
	}
	return &Session{
		cfg: cfg,
		log: logger.OrNop(cfg.Log).Named("session").With(zap.String("session", cfg.Name), zap.String("account", cfg.AccountID)),
	}, nil
}

func (s *Session) Name() string      { return s.cfg.Name }
func (s *Session) AccountID() string { return s.cfg.AccountID }

// Start registers the session with the router and calls OnStart. A
// session can be started once.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("strategy: session %s already started", s.cfg.Name)
	}
	st := s.cfg.Strategy
	r := s.cfg.Router

	for _, inst := range s.cfg.Instruments {
		r.HandleTick(inst, func(ctx context.Context, t model.Tick) error {
			if !s.running.Load() {
				return nil
			}
			return st.OnTick(ctx, t)
		})
		for _, m := range s.cfg.BarMinutes {
			r.HandleBar(inst, m, func(ctx context.Context, b Bar) error {
				if !s.running.Load() {
					return nil
				}
				return st.OnBar(ctx, b)
			})
		}
	}
	r.HandleTrade("", func(ctx context.Context, t model.Trade) error {
		if !s.running.Load() || t.AccountID != s.cfg.AccountID {
			return nil
		}
		return st.OnTrade(ctx, t)
	})
	r.HandleTradeUpdate("", func(ctx context.Context, tx model.Transaction) error {
		if !s.running.Load() || tx.AccountID != s.cfg.AccountID {
			return nil
		}
		return st.OnTradeUpdate(ctx, tx)
	})

	s.running.Store(true)
	if err := st.OnStart(ctx, s); err != nil {
		s.running.Store(false)
		return fmt.Errorf("start %s: %w", s.cfg.Name, err)
	}
	s.log.Info("session started", zap.Strings("instruments", s.cfg.Instruments))
	return nil
}

// Stop detaches the strategy from further events and calls OnStop.
func (s *Session) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.log.Info("session stopped")
	return s.cfg.Strategy.OnStop(ctx)
}

func (s *Session) Open(ctx context.Context, instrumentID string, dir model.Direction, price decimal.Decimal, qty int) (model.Transaction, error) {
	return s.cfg.Trader.Open(ctx, execution.Request{
		AccountID:    s.cfg.AccountID,
		InstrumentID: instrumentID,
		Direction:    dir,
		Price:        price,
		Quantity:     qty,
	})
}

// Close places a closing order; dir is the direction of the order, so
// Sell closes a long position.
func (s *Session) Close(ctx context.Context, instrumentID string, dir model.Direction, price decimal.Decimal, qty int) (model.Transaction, error) {
	return s.cfg.Trader.Close(ctx, execution.Request{
		AccountID:    s.cfg.AccountID,
		InstrumentID: instrumentID,
		Direction:    dir,
		Price:        price,
		Quantity:     qty,
	})
}

func (s *Session) Cancel(ctx context.Context, orderID string) error {
	return s.cfg.Trader.Cancel(ctx, orderID)
}
