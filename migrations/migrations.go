// Package migrations applies the application schema. River's own tables are migrated
// separately with rivermigrate.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed *.sql
var files embed.FS

// lockID serializes concurrent migrators (api and backfill starting together).
const lockID = 7283910455

// Apply runs every embedded *.sql file not yet recorded in schema_migrations, in name order,
// each in its own transaction.
func Apply(ctx context.Context, db *pgxpool.Pool) error {
	conn, err := db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("migrations: acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		return fmt.Errorf("migrations: lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", lockID)
	}()

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("migrations: create table: %w", err)
	}

	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return fmt.Errorf("migrations: list: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		applied, err := apply(ctx, conn.Conn(), name)
		if err != nil {
			return err
		}
		if applied {
			slog.Info("migrations: applied", "version", name)
		}
	}

	return nil
}

func apply(ctx context.Context, conn *pgx.Conn, name string) (bool, error) {
	var exists bool
	if err := conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", name,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("migrations: check %s: %w", name, err)
	}
	if exists {
		return false, nil
	}

	body, err := files.ReadFile(name)
	if err != nil {
		return false, fmt.Errorf("migrations: read %s: %w", name, err)
	}

	err = pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(body)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", name)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("migrations: apply %s: %w", name, err)
	}

	return true, nil
}
