package execution

import (
	"context"
	"errors"

	"github.com/rustyeddy/tradecore/model"
	"github.com/rustyeddy/tradecore/store"
	"go.uber.org/zap"
)

// persist runs fn against the store when one is configured. Failures are
// logged; the in-memory state stays authoritative.
func (c *Coordinator) persist(ctx context.Context, op string, fn func(st store.Store) error) {
	if c.store == nil {
		return
	}
	if err := fn(c.store); err != nil {
		c.log.Error("persist failed", zap.String("op", op), zap.Error(err))
	}
}

func (c *Coordinator) saveContracts(ctx context.Context, cs []model.Contract) {
	for _, ct := range cs {
		ct := ct
		c.persist(ctx, "save contract", func(st store.Store) error {
			err := st.UpdateContract(ctx, ct)
			if errors.Is(err, store.ErrNotFound) {
				err = st.InsertContract(ctx, ct)
			}
			return err
		})
	}
}

func (c *Coordinator) saveAccount(ctx context.Context, accountID string) {
	acct, err := c.accounts.Get(accountID)
	if err != nil {
		return
	}
	c.persist(ctx, "save account", func(st store.Store) error {
		err := st.UpdateAccount(ctx, acct)
		if errors.Is(err, store.ErrNotFound) {
			err = st.InsertAccount(ctx, acct)
		}
		return err
	})
}
