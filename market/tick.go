package market

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rustyeddy/tradecore/model"
)

var ErrNoTick = errors.New("tick not found")

type TickSource interface {
	GetTick(ctx context.Context, instrumentID string) (model.Tick, error)
}

// TickStore keeps the latest tick per instrument.
type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]model.Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]model.Tick)}
}

func (ts *TickStore) Set(t model.Tick) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.ticks[t.InstrumentID] = t
}

func (ts *TickStore) Get(instrumentID string) (model.Tick, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.ticks[instrumentID]
	if !ok {
		return model.Tick{}, fmt.Errorf("%w: %q", ErrNoTick, instrumentID)
	}
	return t, nil
}

func (ts *TickStore) GetTick(_ context.Context, instrumentID string) (model.Tick, error) {
	return ts.Get(instrumentID)
}

// OnTick lets a TickStore be registered directly as a market listener.
func (ts *TickStore) OnTick(_ context.Context, t model.Tick) error {
	ts.Set(t)
	return nil
}
