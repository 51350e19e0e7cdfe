package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/tutorlink/tutorbilling/adapters/sqlite"
	"github.com/tutorlink/tutorbilling/bootstrap"
)

var migrateStatusOnly bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply pending schema migrations to the configured SQLite database.

Examples:
  tutorbilling migrate
  tutorbilling migrate --status`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&migrateStatusOnly, "status", false, "print the schema version without migrating")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	if !migrateStatusOnly {
		logger := bootstrap.NewLogger(cfg.Logging, cmd.ErrOrStderr())
		if err := db.Migrate(ctx, logger.Level(zerolog.WarnLevel)); err != nil {
			return err
		}
	}

	version, err := db.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s schema version %d (%s)\n", checkMark, version, cfg.Database.DSN)
	return nil
}
