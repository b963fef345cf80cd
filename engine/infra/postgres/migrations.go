package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/daz23456/workflow-sub005/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// advisory lock id shared by all gateway instances migrating the same
// database.
const migrationLockID = 7452

// Migrate applies the embedded migrations. An advisory lock serializes
// concurrent gateway instances starting against the same database.
func Migrate(ctx context.Context, connString string) error {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("postgres: open migration connection: %w", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("postgres: acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			logger.FromContext(ctx).Error("failed to release migration lock", "error", err)
		}
	}()
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("postgres: run migrations: %w", err)
	}
	logger.FromContext(ctx).Info("database migrations applied")
	return nil
}
