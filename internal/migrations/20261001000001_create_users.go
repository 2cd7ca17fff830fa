package migrations

import (
	"context"
	"fmt"

	"github.com/marketcore/gatekeeper/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001000001, down_20261001000001)
}

// up_20261001000001 creates the local user shadow table
func up_20261001000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating users table...")
	_, err := db.NewCreateTable().
		Model((*models.User)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	err = createIndexes(ctx, db, "users",
		index{name: "idx_users_email", columns: "email", unique: true},
		index{name: "idx_users_role", columns: "role"},
	)
	if err != nil {
		return err
	}
	if err := addCheck(ctx, db, "users", "users_role_check", "role IN ('BUYER', 'MERCHANT')"); err != nil {
		return err
	}
	fmt.Println(" OK")
	return nil
}

func down_20261001000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping users table...")
	_, err := db.NewDropTable().
		Model((*models.User)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop users table: %w", err)
	}
	fmt.Println(" OK")
	return nil
}
