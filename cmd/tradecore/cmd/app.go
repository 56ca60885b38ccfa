package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rustyeddy/tradecore/config"
	"github.com/rustyeddy/tradecore/core"
	"github.com/rustyeddy/tradecore/ledger"
	"github.com/rustyeddy/tradecore/logger"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/model"
	"github.com/rustyeddy/tradecore/settle"
	"github.com/rustyeddy/tradecore/store"
	"go.uber.org/zap"
)

// app is the state every command shares: the core context plus the
// in-memory accounts, ledger and instruments hydrated from the store.
type app struct {
	cfg         *config.Config
	log         *zap.Logger
	core        *core.Context
	accounts    *ledger.Accounts
	ledger      *ledger.Ledger
	instruments *market.Instruments
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	st, err := store.Open(cfg.Store.Type, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cc := core.New(st, log, market.NewCalendar(cfg.Core.Holidays...))
	if err := cc.Init(ctx, cfg.Core.TradingDay); err != nil {
		_ = cc.Close()
		return nil, err
	}

	a := &app{
		cfg:         cfg,
		log:         log,
		core:        cc,
		accounts:    ledger.NewAccounts(),
		ledger:      ledger.New(ledger.WithTradingDay(cc.TradingDay), ledger.WithLogger(log)),
		instruments: market.NewInstruments(),
	}
	if err := a.hydrate(ctx); err != nil {
		_ = cc.Close()
		return nil, err
	}
	return a, nil
}

// hydrate loads instruments, accounts and live contracts. Configured
// instruments replace stored ones; configured accounts are only created
// when the store does not know them yet.
func (a *app) hydrate(ctx context.Context) error {
	st := a.core.Store
	day := a.core.TradingDay()

	stored, err := st.ListInstruments(ctx)
	if err != nil {
		return err
	}
	for _, inst := range stored {
		a.instruments.Set(inst)
	}
	for _, ic := range a.cfg.Instruments {
		inst := ic.Instrument()
		err := st.InsertInstrument(ctx, inst)
		if errors.Is(err, store.ErrDuplicateKey) {
			err = st.UpdateInstrument(ctx, inst)
		}
		if err != nil {
			return err
		}
		a.instruments.Set(inst)
	}

	accts, err := st.ListAccounts(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(accts))
	for _, acct := range accts {
		a.accounts.Put(acct)
		known[acct.ID] = true
	}
	for _, ac := range a.cfg.Accounts {
		if known[ac.ID] {
			continue
		}
		acct := ac.Account(day)
		if err := st.InsertAccount(ctx, acct); err != nil {
			return err
		}
		a.accounts.Put(acct)
		a.log.Info("account created", zap.String("account", acct.ID), zap.String("balance", acct.Balance.String()))
	}

	for _, id := range a.accounts.IDs() {
		contracts, err := st.ListContracts(ctx, id)
		if err != nil {
			return err
		}
		live := contracts[:0]
		for _, c := range contracts {
			if !c.State.Terminal() || c.SettlementTradingDay == day {
				live = append(live, c)
			}
		}
		a.ledger.Load(live)
	}
	return nil
}

func (a *app) settler(ticks market.TickSource) (*settle.Engine, error) {
	return settle.New(settle.Config{
		Accounts:    a.accounts,
		Ledger:      a.ledger,
		Instruments: a.instruments,
		Ticks:       ticks,
		Days:        a.core,
		Calendar:    a.core.Calendar,
		Store:       a.core.Store,
		Parallel:    a.cfg.Core.SettleParallel,
		Log:         a.log,
	})
}

func (a *app) Close() error {
	return a.core.Close()
}

func printSettlement(day, next string, results map[string]settle.Result) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("\n=== Settlement %s ===\n", day)
	for _, id := range ids {
		res := results[id]
		s := res.Settled
		fmt.Printf("Account %s\n", id)
		fmt.Printf("  Balance:         %s (yesterday %s)\n", s.Balance.StringFixed(2), s.YdBalance.StringFixed(2))
		fmt.Printf("  Close profit:    %s\n", s.CloseProfit.StringFixed(2))
		fmt.Printf("  Position profit: %s\n", s.PositionProfit.StringFixed(2))
		fmt.Printf("  Commission:      %s\n", s.Commission.StringFixed(2))
		fmt.Printf("  Margin:          %s\n", s.Margin.StringFixed(2))
		fmt.Printf("  Available:       %s\n", s.Available.StringFixed(2))
		for _, l := range res.Lines {
			fmt.Printf("    %-8s %-4s held=%d closed=%d @ %s  profit=%s\n",
				l.InstrumentID, l.Direction, l.HeldLots, l.ClosedLots,
				l.SettlePrice.String(), l.PositionProfit.Add(l.CloseProfit).StringFixed(2))
		}
	}
	if next != "" {
		fmt.Printf("✓ Trading day advanced to %s\n", next)
	}
}

func printAccount(acct model.Account) {
	fmt.Printf("%-12s %-8s day=%s balance=%s available=%s margin=%s\n",
		acct.ID, acct.Status, acct.TradingDay,
		acct.Balance.StringFixed(2), acct.Available.StringFixed(2), acct.Margin.StringFixed(2))
}
