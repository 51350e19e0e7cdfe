package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tutorlink/tutorbilling/bootstrap"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the billing HTTP server",
	Long: `Start the tutorbilling HTTP server.

The server will:
  - Load configuration from tutorbilling.yaml (or --config)
  - Or load configuration from TUTORBILLING_* environment variables
  - Apply database migrations
  - Receive Stripe webhooks at /webhooks/stripe
  - Run the catalog refresh and stale-subscription jobs

Environment variables (for container deployments):
  TUTORBILLING_DATABASE_DSN       - Database path (default: tutorbilling.db)
  TUTORBILLING_SERVER_PORT        - Server port (default: 8080)
  TUTORBILLING_BILLING_PROVIDER   - stripe, fake or none
  STRIPE_SECRET_KEY               - Stripe API key
  STRIPE_WEBHOOK_SECRET           - Stripe webhook signing secret
  TUTORBILLING_ADMIN_TOKEN        - Bearer token for admin routes

Examples:
  tutorbilling serve
  tutorbilling serve --config /etc/tutorbilling/config.yaml
  tutorbilling serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Running with environment variables (no config file)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, bootstrap.Options{
		ConfigPath: cfgFile,
		Watch:      hotReload,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run(ctx)
}
