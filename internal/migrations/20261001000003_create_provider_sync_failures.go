package migrations

import (
	"context"
	"fmt"

	"github.com/marketcore/gatekeeper/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001000003, down_20261001000003)
}

// up_20261001000003 creates the reconciliation queue for provider sync failures
func up_20261001000003(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating provider_sync_failures table...")
	_, err := db.NewCreateTable().
		Model((*models.ProviderSyncFailure)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create provider_sync_failures table: %w", err)
	}

	err = createIndexes(ctx, db, "provider_sync_failures",
		index{name: "idx_provider_sync_failures_open", columns: "resolved_at, created_at"},
		index{name: "idx_provider_sync_failures_email", columns: "email, target_group"},
	)
	if err != nil {
		return err
	}
	fmt.Println(" OK")
	return nil
}

func down_20261001000003(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping provider_sync_failures table...")
	_, err := db.NewDropTable().
		Model((*models.ProviderSyncFailure)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop provider_sync_failures table: %w", err)
	}
	fmt.Println(" OK")
	return nil
}
