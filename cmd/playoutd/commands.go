package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nerrad567/playout-core/internal/infrastructure/config"
	"github.com/nerrad567/playout-core/internal/infrastructure/database"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "playoutd",
		Short:         "Run the rundown playout engine for one studio",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
	rootCmd.AddCommand(newMigrateCommand())
	return rootCmd
}

func newMigrateCommand() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or roll back the database schema",
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, db *database.DB) error {
				status, err := db.SchemaStatus(ctx)
				if err != nil {
					return err
				}
				printSchemaStatus(cmd.OutOrStdout(), status)
				return nil
			})
		},
	})

	var steps int
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the newest applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, db *database.DB) error {
				reverted, err := db.Rollback(ctx, steps)
				for _, v := range reverted {
					fmt.Fprintf(cmd.OutOrStdout(), "reverted %s\n", v)
				}
				if err != nil {
					return err
				}
				if len(reverted) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
				}
				return nil
			})
		},
	}
	downCmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	migrateCmd.AddCommand(downCmd)

	return migrateCmd
}

// withDatabase opens the configured database under the daemon lock, so the
// schema is never changed beneath a running playoutd.
func withDatabase(ctx context.Context, fn func(ctx context.Context, db *database.DB) error) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	unlock, err := lockDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer unlock()

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly command
	return fn(ctx, db)
}

func printSchemaStatus(w io.Writer, status database.SchemaStatus) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Version", "Name", "State", "Applied"})

	for _, a := range status.Applied {
		tw.AppendRow(table.Row{a.Version, a.Name, "applied", a.AppliedAt.Local().Format(time.DateTime)})
	}
	for _, m := range status.Pending {
		tw.AppendRow(table.Row{m.Version, m.Name, "pending", ""})
	}
	tw.Render()

	if status.UpToDate() {
		fmt.Fprintf(w, "schema %s is up to date\n", status.Version)
	} else {
		fmt.Fprintf(w, "%d migration(s) pending\n", len(status.Pending))
	}
}
