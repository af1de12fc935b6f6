package app

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Migrate applies pending schema migrations through a database/sql view of pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log Logger) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrate: sub filesystem: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	provider, err := goose.NewProvider(database.DialectPostgres, db, migrationFS)
	if err != nil {
		return fmt.Errorf("migrate: create provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: apply: %w", err)
	}
	for _, r := range results {
		log.Info("db.migrate.applied", "version", r.Source.Version, "dur_ms", r.Duration.Milliseconds())
	}
	return nil
}
