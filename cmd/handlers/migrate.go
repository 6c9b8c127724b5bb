package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"topicflow/internal/logger"
	"topicflow/internal/persistence"
)

// NewMigrateCmd creates the migrate command for database migrations
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Manage database schema migrations.

Subcommands:
  up       Apply all pending migrations
  status   Show migration status
  rollback Roll back the last migration record (use with caution!)

The migration system tracks applied migrations in the schema_migrations table
and applies the migrations of the configured driver (postgres or sqlite3) in
sequential order.

Examples:
  topicflow migrate up
  topicflow migrate status`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateRollbackCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd.Context())
		},
	}
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd.Context())
		},
	}
}

func newMigrateRollbackCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the last migration record",
		Long: `Remove the record of the last applied migration.

WARNING: This only removes the migration record from schema_migrations.
You must manually revert any database schema changes!

Use --force to skip the confirmation prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateRollback(cmd.Context(), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

func runMigrateUp(ctx context.Context) error {
	logger.Info("Starting database migration")

	db, err := getDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := persistence.NewMigrationManager(db).Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println(okStyle.Render("All migrations applied successfully"))
	return nil
}

func runMigrateStatus(ctx context.Context) error {
	db, err := getDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := persistence.NewMigrationManager(db).Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	if len(status) == 0 {
		fmt.Println("No migrations found")
		return nil
	}

	pending := 0
	rows := make([][]string, 0, len(status))
	for _, m := range status {
		state := okStyle.Render("applied")
		if !m.Applied {
			state = warnStyle.Render("pending")
			pending++
		}
		rows = append(rows, []string{fmt.Sprintf("%03d", m.Version), state, m.Description})
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Migrations (%s)", db.Dialect())))
	fmt.Println(renderTable([]string{"Version", "Status", "Description"}, rows))
	fmt.Printf("Applied: %d | Pending: %d | Total: %d\n", len(status)-pending, pending, len(status))

	if pending > 0 {
		fmt.Println("\nRun 'topicflow migrate up' to apply pending migrations")
	}
	return nil
}

func runMigrateRollback(ctx context.Context, force bool) error {
	if !force {
		fmt.Println(warnStyle.Render("WARNING: Rolling back migrations is dangerous!"))
		fmt.Println("This will only remove the migration record from schema_migrations.")
		fmt.Println("You must manually revert any database schema changes.")
		fmt.Println()
		fmt.Print("Are you sure you want to proceed? (yes/no): ")

		var response string
		if _, err := fmt.Scanln(&response); err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if response != "yes" {
			fmt.Println("Rollback cancelled")
			return nil
		}
	}

	db, err := getDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := persistence.NewMigrationManager(db).Rollback(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	logger.Warn("Migration record removed - remember to manually revert database changes")
	fmt.Println(warnStyle.Render("Migration record removed"))
	return nil
}
