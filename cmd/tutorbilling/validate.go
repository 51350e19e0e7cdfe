package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tutorlink/tutorbilling/adapters/sqlite"
	"github.com/tutorlink/tutorbilling/bootstrap"
	"github.com/tutorlink/tutorbilling/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the tutorbilling configuration.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Offers and one-time prices name known purchase types
  - Database is writable (optional)

Examples:
  tutorbilling validate
  tutorbilling validate --config /etc/tutorbilling/config.yaml`,
	RunE: runValidate,
}

var validateCheckDatabase bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); err != nil {
		fmt.Fprintf(out, "  %s Config file not found, using environment\n", crossMark)
	} else {
		fmt.Fprintf(out, "  %s Config file exists\n", checkMark)
	}

	cfg, err := bootstrap.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	printSummary(cmd, cfg)

	if validateCheckDatabase {
		if err := checkDatabaseWritable(cmd.Context(), cfg.Database.DSN); err != nil {
			fmt.Fprintf(out, "  %s Database writable\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Database writable\n", checkMark)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func printSummary(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  %s Listen: %s\n", checkMark, cfg.Server.Addr())
	fmt.Fprintf(out, "  %s Database: %s\n", checkMark, cfg.Database.DSN)
	fmt.Fprintf(out, "  %s Payment provider: %s\n", checkMark, cfg.Billing.Provider)
	fmt.Fprintf(out, "  %s Email provider: %s\n", checkMark, cfg.Email.Provider)
	fmt.Fprintf(out, "  %s Offers: %d, one-time prices: %d\n", checkMark, len(cfg.Billing.Offers), len(cfg.Billing.OneTime))
	if cfg.Redis.URL != "" {
		fmt.Fprintf(out, "  %s Price cache: redis\n", checkMark)
	} else {
		fmt.Fprintf(out, "  %s Price cache: in-process\n", checkMark)
	}
	if cfg.Admin.Token == "" {
		fmt.Fprintf(out, "  %s Admin API disabled (no admin.token)\n", crossMark)
	}
}

func checkDatabaseWritable(ctx context.Context, dsn string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	// Transactions begin IMMEDIATE, which takes the write lock.
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	return tx.Rollback()
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
