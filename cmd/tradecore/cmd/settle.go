package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/tradecore/model"
	"github.com/rustyeddy/tradecore/settle"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Settle every account and advance the trading day",
	Long: `Settle the current trading day for every account in the store.

Settlement prices are read from the ticks stored for the day; --price
records (or replaces) one before settling. When any account fails the
trading day is left open and the command can be run again.

Example:
  tradecore settle -c tradecore.yaml --price rb2405=3612 --price cu2405=71250`,
	RunE: runSettle,
}

var settlePrices []string

func init() {
	rootCmd.AddCommand(settleCmd)
	settleCmd.Flags().StringArrayVarP(&settlePrices, "price", "p", nil, "settlement price as instrument=price (repeatable)")
}

func parseSettlePrice(s string) (string, decimal.Decimal, error) {
	inst, raw, ok := strings.Cut(s, "=")
	inst = strings.TrimSpace(inst)
	if !ok || inst == "" {
		return "", decimal.Zero, fmt.Errorf("price %q: want instrument=price", s)
	}
	p, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("price %q: %w", s, err)
	}
	if !p.IsPositive() {
		return "", decimal.Zero, fmt.Errorf("price %q: must be positive", s)
	}
	return inst, p, nil
}

func runSettle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	day := a.core.TradingDay()
	for _, s := range settlePrices {
		inst, p, err := parseSettlePrice(s)
		if err != nil {
			return err
		}
		if _, err := a.instruments.Get(inst); err != nil {
			return err
		}
		tick := model.Tick{
			InstrumentID:    inst,
			TradingDay:      day,
			LastPrice:       p,
			SettlementPrice: p,
			UpdateTime:      time.Now(),
		}
		if err := a.core.Store.InsertTick(ctx, tick); err != nil {
			return err
		}
	}

	eng, err := a.settler(settle.StoreTicks{Store: a.core.Store, Day: a.core.TradingDay})
	if err != nil {
		return err
	}
	next, results, err := eng.CloseDay(ctx)
	printSettlement(day, next, results)
	if err != nil {
		return fmt.Errorf("settle %s: %w", day, err)
	}
	return nil
}
