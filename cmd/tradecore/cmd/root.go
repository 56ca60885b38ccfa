package cmd

import (
	"github.com/rustyeddy/tradecore/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tradecore",
	Short: "Order, position and settlement core for algorithmic trading",
	Long: `Tradecore turns strategy trading intents into broker orders, tracks
every lot of position it opens, and settles accounts at the end of each
trading day.

It provides tools for:
  - Running a strategy against the built-in simulated broker
  - Settling the trading day for every account in a store
  - Inspecting accounts and their settlement history
  - Generating and validating configuration files`,
	SilenceUsage: true,
}

var cfgFile string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default settings when empty)")
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(cfgFile)
}
