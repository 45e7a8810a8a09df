// Command orderdesk runs the order desk API, its schema migrations and the
// stale order sweeper.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "orderdesk",
	Short: "Order payment and fulfillment service",
	Long: `orderdesk accepts paid document orders, charges customer wallets and
lets administrators upload the results.

Configuration is read from the environment, optionally seeded from an env file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "env file loaded before reading the environment")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	migrateDownCmd.Flags().IntVar(&downSteps, "steps", 1, "migrations to roll back, 0 for all")
	sweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", 0, "override SWEEP_STALE_AFTER")

	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
