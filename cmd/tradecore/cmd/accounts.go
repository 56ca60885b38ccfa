package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List accounts in the store",
	Long: `List every account known to the store with its live figures.
Accounts named in the configuration are created on first use.

Examples:
  tradecore accounts -c tradecore.yaml
  tradecore accounts history SIM-001 -c tradecore.yaml`,
	RunE: runAccounts,
}

var accountsHistoryCmd = &cobra.Command{
	Use:   "history <account-id>",
	Short: "Show the settlement history of an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsHistory,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsHistoryCmd)
}

func runAccounts(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("Trading day: %s\n\n", a.core.TradingDay())
	for _, id := range a.accounts.IDs() {
		acct, err := a.accounts.Get(id)
		if err != nil {
			return err
		}
		printAccount(acct)
		fmt.Printf("  contracts: %d\n", len(a.ledger.Contracts(id)))
	}
	return nil
}

func runAccountsHistory(cmd *cobra.Command, args []string) error {
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

	snaps, err := a.core.Store.ListAccountSnapshots(ctx, args[0])
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Printf("No settlements recorded for %s\n", args[0])
		return nil
	}
	fmt.Printf("%-10s %14s %14s %12s %12s %12s\n", "DAY", "BALANCE", "AVAILABLE", "CLOSE P/L", "POSITION P/L", "COMMISSION")
	for _, s := range snaps {
		fmt.Printf("%-10s %14s %14s %12s %12s %12s\n",
			s.SettledDay,
			s.Balance.StringFixed(2), s.Available.StringFixed(2),
			s.CloseProfit.StringFixed(2), s.PositionProfit.StringFixed(2), s.Commission.StringFixed(2))
	}
	return nil
}
