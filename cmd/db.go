package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/marketcore/gatekeeper/internal/db/bunx"
	"github.com/marketcore/gatekeeper/internal/migrations"
)

// openMigrator connects to the configured database and returns a migrator
// for the registered migrations. Callers close the returned db.
func openMigrator() (*bun.DB, *migrate.Migrator, error) {
	db, err := bunx.NewDB(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, migrate.NewMigrator(db, migrations.Migrations), nil
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
	Long:  `Commands for managing database migrations and schema.`,
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize migration tables",
	Long:  `Creates the migration tracking tables in the database. Run this once during initial setup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, migrator, err := openMigrator()
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		ctx := cmd.Context()
		if err := migrator.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize migrator: %w", err)
		}

		logger.Info("migration tables initialized")
		return nil
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  `Creates the migration tables if needed, then applies all pending migrations under the migration lock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, migrator, err := openMigrator()
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		ctx := cmd.Context()
		if err := migrator.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize migrator: %w", err)
		}

		// Acquire lock to prevent concurrent migrations
		if err := migrator.Lock(ctx); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		defer func() {
			if err := migrator.Unlock(ctx); err != nil {
				logger.WithError(err).Warn("failed to release migration lock")
			}
		}()

		group, err := migrator.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		if group.IsZero() {
			logger.Info("no new migrations to apply")
		} else {
			logger.WithField("group", group.ID).WithField("migrations", group.Migrations.String()).Info("applied migration group")
		}

		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long:  `Displays the current migration status and pending migrations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, migrator, err := openMigrator()
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		ctx := cmd.Context()
		ms, err := migrator.MigrationsWithStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}

		table := pterm.TableData{{"MIGRATION", "STATUS", "APPLIED_AT"}}
		for _, m := range ms {
			status, appliedAt := "pending", ""
			if m.GroupID > 0 {
				status = fmt.Sprintf("applied (group %d)", m.GroupID)
				appliedAt = m.MigratedAt.Format("2006-01-02 15:04:05")
			}
			table = append(table, []string{m.Name, status, appliedAt})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(table).Render()

		return nil
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Rollback last migration group",
	Long:  `Rolls back the most recently applied migration group with locking to prevent concurrent operations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, migrator, err := openMigrator()
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		ctx := cmd.Context()

		// Acquire lock to prevent concurrent rollbacks
		if err := migrator.Lock(ctx); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		defer func() {
			if err := migrator.Unlock(ctx); err != nil {
				logger.WithError(err).Warn("failed to release migration lock")
			}
		}()

		group, err := migrator.Rollback(ctx)
		if err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}

		if group.IsZero() {
			logger.Info("no migrations to roll back")
		} else {
			logger.WithField("group", group.ID).WithField("migrations", group.Migrations.String()).Info("rolled back migration group")
		}

		return nil
	},
}

var dbLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Manually acquire migration lock",
	Long:  `Acquires the migration lock. Useful for debugging or maintenance operations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, migrator, err := openMigrator()
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		ctx := cmd.Context()
		if err := migrator.Lock(ctx); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}

		logger.Info("migration lock acquired")
		pterm.Warning.Println("Remember to run 'gatekeeper db unlock' when finished")
		return nil
	},
}

var dbUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Force release migration lock",
	Long:  `Force releases the migration lock. Use this if a migration crashed while holding the lock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, migrator, err := openMigrator()
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		ctx := cmd.Context()
		if err := migrator.Unlock(ctx); err != nil {
			return fmt.Errorf("failed to release migration lock: %w", err)
		}

		logger.Info("migration lock released")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbInitCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
	dbCmd.AddCommand(dbLockCmd)
	dbCmd.AddCommand(dbUnlockCmd)
}
