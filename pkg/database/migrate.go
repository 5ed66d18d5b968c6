package database

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

const postgresDialect = "postgres"

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate runs all pending embedded SQL migrations.
func (db *DB) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationFS)
	goose.SetLogger(gooseLogger{db: db})

	if err := goose.SetDialect(postgresDialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db.DB.DB, "migrations"); err != nil {
		return fmt.Errorf("run goose up migrations: %w", err)
	}

	return nil
}

// MigrationVersion returns the currently applied schema version.
func (db *DB) MigrationVersion(ctx context.Context) (int64, error) {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect(postgresDialect); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.GetDBVersionContext(ctx, db.DB.DB)
}

// gooseLogger routes goose output through zerolog.
type gooseLogger struct {
	db *DB
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	if l.db.logger != nil {
		l.db.logger.Fatal().Msgf(format, v...)
	}
}

func (l gooseLogger) Printf(format string, v ...any) {
	if l.db.logger != nil {
		l.db.logger.Info().Str("component", "migrations").Msgf(format, v...)
	}
}
