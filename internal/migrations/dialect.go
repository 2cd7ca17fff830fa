package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// addCheck adds a CHECK constraint on PostgreSQL. SQLite cannot alter
// constraints on an existing table, so there the column stays unchecked and
// the repositories are the only guard.
func addCheck(ctx context.Context, db *bun.DB, table, name, expr string) error {
	if db.Dialect().Name() != dialect.PG {
		return nil
	}
	query := fmt.Sprintf(`ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s)`, table, name, expr)
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	return nil
}

type index struct {
	name    string
	columns string
	unique  bool
}

func createIndexes(ctx context.Context, db *bun.DB, table string, indexes ...index) error {
	for _, idx := range indexes {
		kind := "INDEX"
		if idx.unique {
			kind = "UNIQUE INDEX"
		}
		query := fmt.Sprintf(`CREATE %s IF NOT EXISTS %s ON %s(%s)`, kind, idx.name, table, idx.columns)
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create %s: %w", idx.name, err)
		}
	}
	return nil
}
