package migrations

import "github.com/uptrace/bun/migrate"

// Migrations collects every schema migration registered by this package.
// Files register themselves from init, ordered by their timestamp name.
var Migrations = migrate.NewMigrations()
