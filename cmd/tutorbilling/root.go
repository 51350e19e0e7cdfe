package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tutorbilling",
	Short: "Premium billing-state reconciliation for the tutoring marketplace",
	Long: `tutorbilling keeps tutor and student premium status in step with Stripe.

It receives Stripe webhooks, records subscription and one-time payment
state per account, opens checkout sessions and answers premium queries.

Quick start:
  tutorbilling migrate   # Apply database migrations
  tutorbilling serve     # Start the HTTP server

Operations:
  tutorbilling replay    # Re-run a missed checkout session
  tutorbilling status    # Show an account's premium status
  tutorbilling validate  # Validate configuration`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "tutorbilling.yaml", "config file path")
}
