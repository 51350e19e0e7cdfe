package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tutorlink/tutorbilling/bootstrap"
	"github.com/tutorlink/tutorbilling/domain/purchase"
)

var replayKind string

var replayCmd = &cobra.Command{
	Use:   "replay <session-id>",
	Short: "Re-run checkout completion for a session",
	Long: `Fetch a checkout session from the payment provider and run the
checkout-completed handling again. Use it to recover a missed webhook.

Subscription sessions also re-sync their subscription; the session
metadata is authoritative.

Examples:
  tutorbilling replay cs_test_a1b2c3
  tutorbilling replay cs_test_a1b2c3 --type contact_purchase`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&replayKind, "type", "", "purchase type to use when the session metadata has none")
}

func runReplay(cmd *cobra.Command, args []string) error {
	var kind purchase.Kind
	if replayKind != "" {
		k, err := purchase.ParseKind(replayKind)
		if err != nil {
			return err
		}
		kind = k
	}

	ctx := cmd.Context()
	app, err := bootstrap.New(ctx, bootstrap.Options{ConfigPath: cfgFile, LogOutput: cmd.ErrOrStderr()})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}
	defer app.Shutdown(ctx)

	res, err := app.Dispatcher.ReplaySession(ctx, args[0], kind)
	if err != nil {
		return fmt.Errorf("replay %s: %w", args[0], err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
