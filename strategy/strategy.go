// Package strategy is the callback surface strategies are written
// against. A Router dispatches market and trade events through a
// registration table; a Session binds one strategy to one account.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rustyeddy/tradecore/model"
)

// Strategy receives the events of the session it runs in. OnStart hands
// it the session it trades through.
type Strategy interface {
	OnStart(ctx context.Context, s *Session) error
	OnStop(ctx context.Context) error
	OnTick(ctx context.Context, t model.Tick) error
	OnBar(ctx context.Context, b Bar) error
	// OnTrade is called for every fill on the session's account.
	OnTrade(ctx context.Context, t model.Trade) error
	// OnTradeUpdate is called for every change to one of the account's
	// transactions.
	OnTradeUpdate(ctx context.Context, tx model.Transaction) error
}

// Base implements every callback as a no-op; embed it and override what
// the strategy needs.
type Base struct{}

func (Base) OnStart(context.Context, *Session) error                { return nil }
func (Base) OnStop(context.Context) error                           { return nil }
func (Base) OnTick(context.Context, model.Tick) error               { return nil }
func (Base) OnBar(context.Context, Bar) error                       { return nil }
func (Base) OnTrade(context.Context, model.Trade) error             { return nil }
func (Base) OnTradeUpdate(context.Context, model.Transaction) error { return nil }

// Noop does nothing.
type Noop struct{ Base }

// Params configures a strategy built by name.
type Params struct {
	InstrumentID string
	Direction    model.Direction
	Quantity     int
	// CloseAfter is the number of ticks a position is held before it is
	// closed; zero holds it.
	CloseAfter int
	// Moving-average periods, in bars, for crossover strategies.
	FastPeriod int
	SlowPeriod int
}

type Factory func(p Params) (Strategy, error)

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

func init() {
	Register("noop", func(Params) (Strategy, error) { return &Noop{}, nil })
	Register("open-once", func(p Params) (Strategy, error) { return NewOpenOnce(p) })
	Register("ema-cross", func(p Params) (Strategy, error) { return NewEMACross(p) })
}

func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[strings.ToLower(name)] = f
}

// New builds the strategy registered under name.
func New(name string, p Params) (Strategy, error) {
	regMu.RLock()
	f, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return f(p)
}

func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
