package migrations

import (
	"context"
	"fmt"

	"github.com/marketcore/gatekeeper/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001000002, down_20261001000002)
}

// up_20261001000002 creates merchant profiles, one per user
func up_20261001000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating merchant_profiles table...")
	_, err := db.NewCreateTable().
		Model((*models.MerchantProfile)(nil)).
		IfNotExists().
		ForeignKey(`("user_id") REFERENCES "users" ("id") ON DELETE RESTRICT`).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create merchant_profiles table: %w", err)
	}

	// idx_merchant_profiles_user_id is the upsert conflict target
	err = createIndexes(ctx, db, "merchant_profiles",
		index{name: "idx_merchant_profiles_user_id", columns: "user_id", unique: true},
		index{name: "idx_merchant_profiles_status", columns: "status"},
	)
	if err != nil {
		return err
	}
	err = addCheck(ctx, db, "merchant_profiles", "merchant_profiles_status_check",
		"status IN ('PENDING', 'APPROVED', 'REJECTED')")
	if err != nil {
		return err
	}
	fmt.Println(" OK")
	return nil
}

func down_20261001000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping merchant_profiles table...")
	_, err := db.NewDropTable().
		Model((*models.MerchantProfile)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop merchant_profiles table: %w", err)
	}
	fmt.Println(" OK")
	return nil
}
