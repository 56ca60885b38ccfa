package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rustyeddy/tradecore/model"
)

var ErrUnknownInstrument = errors.New("unknown instrument")

// Instruments is the registry of instrument rate schedules. It is
// read-only to the core and refreshed by an external feed through Set.
type Instruments struct {
	mu    sync.RWMutex
	items map[string]model.Instrument
}

func NewInstruments(items ...model.Instrument) *Instruments {
	in := &Instruments{items: make(map[string]model.Instrument, len(items))}
	for _, it := range items {
		in.items[it.ID] = it
	}
	return in
}

func (in *Instruments) Set(it model.Instrument) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.items[it.ID] = it
}

func (in *Instruments) Get(id string) (model.Instrument, error) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	it, ok := in.items[id]
	if !ok {
		return model.Instrument{}, fmt.Errorf("%w: %q", ErrUnknownInstrument, id)
	}
	return it, nil
}

// All returns the instruments ordered by ID.
func (in *Instruments) All() []model.Instrument {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]model.Instrument, 0, len(in.items))
	for _, it := range in.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
