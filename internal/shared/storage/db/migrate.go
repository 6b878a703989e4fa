package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsDir = "migrations"

func useEmbedded() error {
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return nil
}

// RunMigrations brings the journal schema up to date. A nil pool is a no-op.
func RunMigrations(ctx context.Context, pool *sql.DB) error {
	if pool == nil {
		return nil
	}
	if err := useEmbedded(); err != nil {
		return err
	}
	return goose.UpContext(ctx, pool, migrationsDir)
}

// MigrationStatus logs which embedded migrations have been applied.
func MigrationStatus(ctx context.Context, pool *sql.DB) error {
	if err := useEmbedded(); err != nil {
		return err
	}
	return goose.StatusContext(ctx, pool, migrationsDir)
}
