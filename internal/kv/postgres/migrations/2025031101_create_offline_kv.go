package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

const createOfflineKVSQL = `
CREATE TABLE IF NOT EXISTS offline_kv (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createOfflineKVSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`DROP TABLE IF EXISTS offline_kv`)
			return err
		},
	)
}
