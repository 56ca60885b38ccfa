package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/config"
	"github.com/rustyeddy/tradecore/execution"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/model"
	"github.com/rustyeddy/tradecore/risk"
	"github.com/rustyeddy/tradecore/settle"
	"github.com/rustyeddy/tradecore/sim"
	"github.com/rustyeddy/tradecore/strategy"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a strategy against the simulated broker and settle the day",
	Long: `Feed the configured price steps through the simulated broker while
a strategy trades one account, then expire outstanding orders and settle
every account at the configured settlement price.

Examples:
  tradecore demo
  tradecore demo -c tradecore.yaml
  tradecore demo -c tradecore.yaml --memory`,
	RunE: runDemo,
}

var demoMemory bool

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().BoolVar(&demoMemory, "memory", false, "keep the store in memory instead of the configured one")
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if demoMemory {
		cfg.Store = config.StoreConfig{Type: "json"}
	}
	_, _, err = simulate(context.Background(), cfg)
	return err
}

// simulate runs the configured strategy through the simulated broker for
// one trading day and settles it.
func simulate(parent context.Context, cfg *config.Config) (string, map[string]settle.Result, error) {
	if cfg.Sim.Instrument == "" || len(cfg.Sim.Steps) == 0 {
		return "", nil, errors.New("demo: sim.instrument and sim.steps are required")
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return "", nil, err
	}
	defer a.Close()

	ticks := market.NewTickStore()
	router := strategy.NewRouter(a.log)
	eng := sim.NewEngine(sim.Config{
		MaxLotsPerFill: cfg.Sim.MaxLotsPerFill,
		Instruments:    a.instruments,
		Log:            a.log,
	})
	// The tick store sees each quote before any strategy reacts to it.
	eng.SetTickListener(broker.FanOut{ticks, router})

	coord, err := execution.New(execution.Config{
		Accounts:    a.accounts,
		Ledger:      a.ledger,
		Instruments: a.instruments,
		Adapter:     eng,
		Ticks:       ticks,
		Risk:        risk.NewPolicyAssessor(cfg.Risk),
		Store:       a.core.Store,
		TradingDay:  a.core.TradingDay,
		Log:         a.log,
	})
	if err != nil {
		return "", nil, err
	}
	coord.AddListener(router)

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	accountID := cfg.Accounts[0].ID
	strat, err := strategy.New(cfg.Sim.Strategy, strategy.Params{
		InstrumentID: cfg.Sim.Instrument,
		Direction:    model.Direction(strings.ToUpper(cfg.Sim.Direction)),
		Quantity:     cfg.Sim.Quantity,
		CloseAfter:   cfg.Sim.CloseAfter,
		FastPeriod:   cfg.Sim.FastPeriod,
		SlowPeriod:   cfg.Sim.SlowPeriod,
	})
	if err != nil {
		return "", nil, err
	}
	sess, err := strategy.NewSession(strategy.SessionConfig{
		Name:        cfg.Sim.Strategy,
		AccountID:   accountID,
		Instruments: []string{cfg.Sim.Instrument},
		BarMinutes:  []int{1},
		Strategy:    strat,
		Trader:      coord,
		Router:      router,
		Log:         a.log,
	})
	if err != nil {
		return "", nil, err
	}
	if err := eng.Subscribe(ctx, cfg.Sim.Instrument); err != nil {
		return "", nil, err
	}
	if err := sess.Start(ctx); err != nil {
		return "", nil, err
	}

	day := a.core.TradingDay()
	fmt.Printf("=== Demo: %s on %s, account %s, trading day %s ===\n\n",
		cfg.Sim.Strategy, cfg.Sim.Instrument, accountID, day)

	last, err := replaySteps(ctx, eng, cfg.Sim, day)
	if err != nil {
		return "", nil, err
	}

	if err := sess.Stop(ctx); err != nil {
		return "", nil, err
	}
	if err := router.Flush(ctx); err != nil {
		return "", nil, err
	}
	for _, id := range a.accounts.IDs() {
		n, err := coord.ExpireOrders(ctx, id)
		if err != nil {
			return "", nil, err
		}
		if n > 0 {
			fmt.Printf("Expired %d outstanding orders for %s\n", n, id)
		}
	}
	eng.Drain()

	fmt.Println("\nTransactions:")
	for _, tx := range coord.Transactions(accountID) {
		fmt.Printf("  %s %-5s %-4s %d @ %s  traded=%d  %s\n",
			tx.ID, tx.Offset, tx.Direction, tx.Quantity, tx.Price.String(), tx.Traded, tx.State)
	}

	if cfg.Sim.Settlement > 0 {
		last.SettlementPrice = decimal.NewFromFloat(cfg.Sim.Settlement)
		ticks.Set(last)
		if err := a.core.Store.InsertTick(ctx, last); err != nil {
			return "", nil, err
		}
	}
	settler, err := a.settler(ticks)
	if err != nil {
		return "", nil, err
	}
	next, results, settleErr := settler.CloseDay(ctx)
	printSettlement(day, next, results)

	_ = eng.Close()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return "", results, err
	}
	if settleErr != nil {
		return "", results, fmt.Errorf("settle %s: %w", day, settleErr)
	}
	return next, results, nil
}

// replaySteps feeds each configured quote, starting at 09:00 on the
// trading day, and returns the last tick sent.
func replaySteps(ctx context.Context, eng *sim.Engine, sc config.SimConfig, day string) (model.Tick, error) {
	at, err := time.ParseInLocation(market.DayLayout, day, time.Local)
	if err != nil {
		return model.Tick{}, err
	}
	at = at.Add(9 * time.Hour)

	var last model.Tick
	for i, step := range sc.Steps {
		delay, err := step.ParseDuration()
		if err != nil {
			return last, fmt.Errorf("sim.steps[%d]: %w", i, err)
		}
		at = at.Add(delay)

		bid := decimal.NewFromFloat(step.Bid)
		ask := decimal.NewFromFloat(step.Ask)
		last = model.Tick{
			InstrumentID: sc.Instrument,
			TradingDay:   day,
			BidPrice:     bid,
			AskPrice:     ask,
			LastPrice:    bid.Add(ask).Div(decimal.NewFromInt(2)),
			Volume:       int64(i + 1),
			UpdateTime:   at,
		}
		fmt.Printf("%s  %s  bid %s  ask %s\n", at.Format("15:04:05"), sc.Instrument, bid, ask)
		if err := eng.Step(ctx, last); err != nil {
			return last, err
		}
	}
	return last, nil
}
