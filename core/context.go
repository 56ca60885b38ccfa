// Package core holds the process-wide state shared by the execution
// components: the current trading day, the store and the root logger.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/tradecore/logger"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/model"
	"github.com/rustyeddy/tradecore/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrNotInitialised = errors.New("core context not initialised")

type Context struct {
	Store    store.Store
	Log      *zap.Logger
	Calendar *market.Calendar

	mu  sync.RWMutex
	day string
	now func() time.Time
}

func New(st store.Store, log *zap.Logger, cal *market.Calendar) *Context {
	return &Context{
		Store:    st,
		Log:      logger.OrNop(log),
		Calendar: cal,
		now:      time.Now,
	}
}

// TradingDay returns the current trading day, empty before Init.
func (c *Context) TradingDay() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.day
}

// Init loads the latest persisted trading day. When none has been
// recorded yet, fallback is used (or the calendar's next trading day
// from today when fallback is empty) and persisted.
func (c *Context) Init(ctx context.Context, fallback string) error {
	d, err := c.Store.SelectTradingDay(ctx)
	switch {
	case err == nil:
		c.setDay(d.Day)
		c.Log.Info("trading day loaded", zap.String("trading_day", d.Day))
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("load trading day: %w", err)
	}

	day := fallback
	if day == "" {
		today := c.now()
		day = today.Format(market.DayLayout)
		if !c.Calendar.IsTradingDay(today) {
			if day, err = c.Calendar.Next(day); err != nil {
				return err
			}
		}
	}
	if !market.ValidDay(day) {
		return fmt.Errorf("invalid trading day %q", day)
	}
	if err := c.record(ctx, day); err != nil {
		return err
	}
	c.Log.Info("trading day initialised", zap.String("trading_day", day))
	return nil
}

// Advance moves to the next trading day on the calendar and persists it.
func (c *Context) Advance(ctx context.Context) (string, error) {
	cur := c.TradingDay()
	if cur == "" {
		return "", ErrNotInitialised
	}
	next, err := c.Calendar.Next(cur)
	if err != nil {
		return "", err
	}
	if err := c.record(ctx, next); err != nil {
		return "", err
	}
	c.Log.Info("trading day advanced", zap.String("from", cur), zap.String("to", next))
	return next, nil
}

func (c *Context) record(ctx context.Context, day string) error {
	err := c.Store.InsertTradingDay(ctx, model.TradingDay{Day: day, UpdateTime: c.now()})
	if err != nil && !errors.Is(err, store.ErrDuplicateKey) {
		return fmt.Errorf("persist trading day: %w", err)
	}
	c.setDay(day)
	return nil
}

func (c *Context) setDay(day string) {
	c.mu.Lock()
	c.day = day
	c.mu.Unlock()
}

// Close flushes the logger and closes the store.
func (c *Context) Close() error {
	err := c.Store.Close()
	// Sync on stderr returns EINVAL on some platforms; only file sinks
	// matter here.
	if serr := c.Log.Sync(); serr != nil && !isIgnorableSync(serr) {
		err = multierr.Append(err, serr)
	}
	return err
}
