package settle

import (
	"context"

	"github.com/rustyeddy/tradecore/model"
	"github.com/rustyeddy/tradecore/store"
)

// StoreTicks serves the ticks persisted for the current trading day, for
// settling outside a live session.
type StoreTicks struct {
	Store store.Market
	Day   func() string
}

func (s StoreTicks) GetTick(ctx context.Context, instrumentID string) (model.Tick, error) {
	return s.Store.SelectTick(ctx, instrumentID, s.Day())
}
