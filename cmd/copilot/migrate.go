package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/statement-copilot/internal/cli"
	"github.com/Veraticus/statement-copilot/internal/storage"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

An existing database on an older schema is checkpointed before it changes.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if status {
		store, err := storage.NewSQLiteStorage(cfg.Database.Path, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() { _ = store.Close() }()

		current, err := store.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, cli.RenderKeyValues([]cli.KV{
			{Key: "Database", Value: cfg.Database.Path},
			{Key: "Current version", Value: fmt.Sprint(current)},
			{Key: "Latest version", Value: fmt.Sprint(storage.ExpectedSchemaVersion)},
		}))
		if current < storage.ExpectedSchemaVersion {
			fmt.Fprintln(out, cli.FormatWarning("Migrations pending; run copilot migrate"))
		}
		return nil
	}

	slog.Info("Running database migrations", "database", cfg.Database.Path)

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s Database at schema version %d", cli.FolderIcon, storage.ExpectedSchemaVersion)))
	return nil
}
