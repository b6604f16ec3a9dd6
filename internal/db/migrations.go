package db

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/aliuyar1234/guidedq/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// migrationLockID is the advisory lock key held while migrating, so two
// processes starting together apply each file once.
const migrationLockID = 7_310_442_051

// RunMigrations applies pending migrations in file-name order and returns the
// versions it applied.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return nil, fmt.Errorf("failed to take migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	pending, err := PendingMigrations(ctx, conn)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, version := range pending {
		content, err := fs.ReadFile(migrations.FS, version)
		if err != nil {
			return done, fmt.Errorf("failed to read migration %s: %w", version, err)
		}

		log.Info().Str("migration", version).Msg("Applying migration")

		// Multi-statement files need the simple protocol; the version row is
		// written in the same transaction as the schema change.
		script := "BEGIN;\n" + string(content) +
			"\nINSERT INTO schema_migrations (version) VALUES ('" + strings.ReplaceAll(version, "'", "''") + "');\nCOMMIT;"
		if _, err := conn.Conn().PgConn().Exec(ctx, script).ReadAll(); err != nil {
			_, _ = conn.Conn().PgConn().Exec(ctx, "ROLLBACK").ReadAll()
			return done, fmt.Errorf("failed to apply migration %s: %w", version, err)
		}
		done = append(done, version)
	}

	log.Info().Int("applied", len(done)).Msg("Database schema up to date")
	return done, nil
}

// PendingMigrations lists embedded migrations not yet recorded in schema_migrations.
func PendingMigrations(ctx context.Context, q DBTX) ([]string, error) {
	if _, err := q.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migration files: %w", err)
	}
	slices.Sort(files)

	rows, err := q.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migrations: %w", err)
	}

	pending := files[:0]
	for _, f := range files {
		if _, ok := applied[f]; !ok {
			pending = append(pending, f)
		}
	}
	return pending, nil
}
