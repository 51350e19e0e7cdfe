package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tutorlink/tutorbilling/bootstrap"
	"github.com/tutorlink/tutorbilling/domain/billing"
)

var statusCmd = &cobra.Command{
	Use:   "status <tutor|student> <email>",
	Short: "Show an account's premium status",
	Long: `Compute the premium status of one account from the stored billing
record, using the configured premium policy.

Examples:
  tutorbilling status tutor jane@example.com
  tutorbilling status student sam@example.com`,
	Args: cobra.ExactArgs(2),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusOutput struct {
	Class          billing.AccountClass       `json:"class"`
	Email          string                     `json:"email"`
	Status         billing.Status             `json:"status"`
	CustomerID     string                     `json:"customer_id,omitempty"`
	SubscriptionID string                     `json:"subscription_id,omitempty"`
	Subscription   billing.SubscriptionStatus `json:"subscription_status,omitempty"`
	LegacyPaid     bool                       `json:"legacy_paid"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	class, err := billing.ParseAccountClass(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := bootstrap.New(ctx, bootstrap.Options{ConfigPath: cfgFile, LogOutput: cmd.ErrOrStderr()})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}
	defer app.Shutdown(ctx)

	view, err := app.Premium.Status(ctx, class, args[1])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	out := statusOutput{Class: view.Class, Email: view.Email, Status: view.Status}
	if rec := view.Record; rec != nil {
		out.CustomerID = rec.CustomerID
		out.SubscriptionID = rec.SubscriptionID
		out.Subscription = rec.Status
		out.LegacyPaid = rec.LegacyPaid
	}
	return enc.Encode(out)
}
