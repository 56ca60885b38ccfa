package settle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/tradecore/ledger"
	"github.com/rustyeddy/tradecore/logger"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/model"
	"github.com/rustyeddy/tradecore/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type InstrumentSource interface {
	Get(id string) (model.Instrument, error)
}

// Days tracks the current trading day. core.Context implements it.
type Days interface {
	TradingDay() string
	Advance(ctx context.Context) (string, error)
}

type Config struct {
	Accounts    *ledger.Accounts
	Ledger      *ledger.Ledger
	Instruments InstrumentSource
	Ticks       market.TickSource
	Days        Days
	Calendar    *market.Calendar

	Store store.Store
	// Parallel bounds how many accounts SettleAll runs at once; zero
	// means no limit.
	Parallel int
	Clock    func() time.Time
	Log      *zap.Logger
}

type Engine struct {
	cfg Config
	now func() time.Time
	log *zap.Logger
}

func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Accounts == nil:
		return nil, errors.New("settle: accounts required")
	case cfg.Ledger == nil:
		return nil, errors.New("settle: ledger required")
	case cfg.Instruments == nil:
		return nil, errors.New("settle: instruments required")
	case cfg.Ticks == nil:
		return nil, errors.New("settle: tick source required")
	case cfg.Days == nil:
		return nil, errors.New("settle: trading day source required")
	}
	e := &Engine{cfg: cfg, now: cfg.Clock, log: logger.OrNop(cfg.Log).Named("settle")}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Settle closes the current trading day for one account. The account gate
// is held exclusively, so no trading call on the account interleaves.
func (e *Engine) Settle(ctx context.Context, accountID string) (Result, error) {
	release, err := e.cfg.Accounts.Exclusive(accountID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	acct, err := e.cfg.Accounts.Get(accountID)
	if err != nil {
		return Result{}, err
	}
	day := e.cfg.Days.TradingDay()
	if acct.TradingDay > day {
		return Result{}, fmt.Errorf("%w: %s is on %s, day is %s", ErrAlreadySettled, accountID, acct.TradingDay, day)
	}
	next, err := e.cfg.Calendar.Next(day)
	if err != nil {
		return Result{}, err
	}

	contracts := e.cfg.Ledger.Contracts(accountID)
	in := Input{
		Account:        acct,
		Contracts:      contracts,
		Instruments:    make(map[string]model.Instrument),
		Ticks:          make(map[string]model.Tick),
		TradingDay:     day,
		NextTradingDay: next,
	}
	for _, ct := range contracts {
		if ct.State == model.ContractAbandoned {
			continue
		}
		if _, ok := in.Instruments[ct.InstrumentID]; !ok {
			inst, err := e.cfg.Instruments.Get(ct.InstrumentID)
			if err == nil {
				in.Instruments[ct.InstrumentID] = inst
			}
		}
		if ct.State != model.ContractOpen && ct.State != model.ContractClosing {
			continue
		}
		if _, ok := in.Ticks[ct.InstrumentID]; !ok {
			tick, err := e.cfg.Ticks.GetTick(ctx, ct.InstrumentID)
			if err == nil {
				in.Ticks[ct.InstrumentID] = tick
			}
		}
	}

	res, err := Compute(in)
	if err != nil {
		e.log.Error("settlement failed", zap.String("account", accountID), zap.String("trading_day", day), zap.Error(err))
		return Result{}, err
	}

	now := e.now()
	res.Settled.SettleTime = now
	res.Next.SettleTime = now
	if st := e.cfg.Store; st != nil {
		err := st.InsertAccountSnapshot(ctx, model.AccountSnapshot{Account: res.Settled, SettledDay: day})
		if errors.Is(err, store.ErrDuplicateKey) {
			return Result{}, fmt.Errorf("%w: %s on %s", ErrAlreadySettled, accountID, day)
		}
		if err != nil {
			return Result{}, fmt.Errorf("snapshot %s: %w", accountID, err)
		}
	}

	if _, err := e.cfg.Accounts.Update(accountID, func(a *model.Account) error {
		*a = res.Next
		return nil
	}); err != nil {
		return Result{}, err
	}
	archived := e.cfg.Ledger.Archive(accountID)

	var perr error
	if st := e.cfg.Store; st != nil {
		perr = e.persist(ctx, st, res.Next, archived, in.Ticks, day)
	}

	e.log.Info("account settled",
		zap.String("account", accountID),
		zap.String("trading_day", day),
		zap.String("next_trading_day", next),
		zap.String("balance", res.Settled.Balance.String()),
		zap.String("margin", res.Settled.Margin.String()),
		zap.String("commission", res.Settled.Commission.String()),
		zap.String("close_profit", res.Settled.CloseProfit.String()),
		zap.String("position_profit", res.Settled.PositionProfit.String()),
		zap.String("available", res.Settled.Available.String()),
		zap.Int("archived", len(archived)))
	return res, perr
}

func (e *Engine) persist(ctx context.Context, st store.Store, next model.Account, archived []model.Contract, ticks map[string]model.Tick, day string) error {
	var err error
	uerr := st.UpdateAccount(ctx, next)
	if errors.Is(uerr, store.ErrNotFound) {
		uerr = st.InsertAccount(ctx, next)
	}
	err = multierr.Append(err, uerr)

	for _, ct := range archived {
		cerr := st.UpdateContract(ctx, ct)
		if errors.Is(cerr, store.ErrNotFound) {
			cerr = st.InsertContract(ctx, ct)
		}
		err = multierr.Append(err, cerr)
	}
	for _, t := range ticks {
		if t.TradingDay == "" {
			t.TradingDay = day
		}
		err = multierr.Append(err, st.InsertTick(ctx, t))
	}
	if err != nil {
		e.log.Error("persist settlement", zap.String("account", next.ID), zap.Error(err))
	}
	return err
}

// SettleAll settles every account in parallel. One account failing does
// not stop the others; all failures are returned together. Accounts
// already rolled past the day are skipped.
func (e *Engine) SettleAll(ctx context.Context) (map[string]Result, error) {
	ids := e.cfg.Accounts.IDs()

	var (
		mu      sync.Mutex
		results = make(map[string]Result, len(ids))
		errs    error
		g       errgroup.Group
	)
	if e.cfg.Parallel > 0 {
		g.SetLimit(e.cfg.Parallel)
	}
	for _, accountID := range ids {
		accountID := accountID
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("settle %s: %w", accountID, err))
				mu.Unlock()
				return nil
			}
			res, err := e.Settle(ctx, accountID)
			if errors.Is(err, ErrAlreadySettled) {
				e.log.Info("account already settled", zap.String("account", accountID))
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("settle %s: %w", accountID, err))
				return nil
			}
			results[accountID] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, errs
}

// CloseDay settles every account and, when all succeed, advances the
// trading day. A failed account leaves the day open so it can be retried.
func (e *Engine) CloseDay(ctx context.Context) (string, map[string]Result, error) {
	results, err := e.SettleAll(ctx)
	if err != nil {
		failed := len(multierr.Errors(err))
		e.log.Error("close day incomplete",
			zap.String("trading_day", e.cfg.Days.TradingDay()),
			zap.Int("settled", len(results)),
			zap.Int("failed", failed),
			zap.Error(err))
		return "", results, err
	}
	next, err := e.cfg.Days.Advance(ctx)
	if err != nil {
		return "", results, fmt.Errorf("advance trading day: %w", err)
	}
	return next, results, nil
}
