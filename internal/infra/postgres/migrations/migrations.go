// Package migrations holds the embedded schema, applied with bun's migrator.
package migrations

import "github.com/uptrace/bun/migrate"

var Migrations = migrate.NewMigrations()
