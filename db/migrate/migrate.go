// Package migrate provides automatic database migration with version tracking.
//
// Migrations are embedded in the binary at compile time, so the hub always
// carries the schema it needs without external file dependencies.
//
// # Usage
//
// Call Run() after establishing a database connection but before starting
// the engine and workers:
//
//	pool, _ := pgxpool.New(ctx, databaseURL)
//	if err := migrate.Run(ctx, pool, logger); err != nil {
//	    log.Fatal("migration failed:", err)
//	}
//
// # Migration Files
//
// Migrations are SQL files in db/migrate/migrations with the format:
//
//	NNN_descriptive_name.sql
//
// where NNN is a zero-padded version number (001, 002, ...). Migrations are
// applied in version order, each in its own transaction.
//
// # Version Tracking
//
// Applied migrations are tracked in the schema_migrations table:
//
//	CREATE TABLE schema_migrations (
//	    version INTEGER PRIMARY KEY,
//	    name TEXT NOT NULL,
//	    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
package migrate

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Record represents a completed migration in the database.
type Record struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}

// Status contains information about the current migration state.
type Status struct {
	Applied []Record `json:"applied"`
	Pending []string `json:"pending"`
}

// Run executes all pending database migrations.
//
// It creates the schema_migrations table if it doesn't exist, then applies
// any migrations that haven't run yet, each in its own transaction.
func Run(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	logger.Info("checking database migrations")

	if err := ensureMigrationsTable(ctx, pool); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := getAppliedMigrations(ctx, pool)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}
	appliedSet := make(map[int]bool)
	for _, m := range applied {
		appliedSet[m.Version] = true
	}

	available, err := getAvailableMigrations()
	if err != nil {
		return fmt.Errorf("reading migration files: %w", err)
	}

	pendingCount := 0
	for _, mig := range available {
		if appliedSet[mig.version] {
			continue
		}

		logger.Info("applying migration",
			"version", mig.version,
			"name", mig.name,
		)

		if err := applyMigration(ctx, pool, mig); err != nil {
			return fmt.Errorf("applying migration %03d_%s: %w", mig.version, mig.name, err)
		}
		pendingCount++
	}

	if pendingCount == 0 {
		logger.Info("database schema is up to date",
			"version", len(applied),
		)
	} else {
		logger.Info("migrations complete",
			"applied", pendingCount,
			"total", len(applied)+pendingCount,
		)
	}

	return nil
}

// GetStatus returns the current migration status for diagnostics.
func GetStatus(ctx context.Context, pool *pgxpool.Pool) (*Status, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = 'schema_migrations'
		)
	`).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking migrations table: %w", err)
	}

	status := &Status{}

	if exists {
		status.Applied, err = getAppliedMigrations(ctx, pool)
		if err != nil {
			return nil, err
		}
	}

	appliedSet := make(map[int]bool)
	for _, m := range status.Applied {
		appliedSet[m.Version] = true
	}

	available, err := getAvailableMigrations()
	if err != nil {
		return nil, err
	}

	for _, m := range available {
		if !appliedSet[m.version] {
			status.Pending = append(status.Pending, fmt.Sprintf("%03d_%s", m.version, m.name))
		}
	}

	return status, nil
}

func ensureMigrationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func getAppliedMigrations(ctx context.Context, pool *pgxpool.Pool) ([]Record, error) {
	rows, err := pool.Query(ctx, `
		SELECT version, name, applied_at
		FROM schema_migrations
		ORDER BY version
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var migrations []Record
	for rows.Next() {
		var m Record
		if err := rows.Scan(&m.Version, &m.Name, &m.AppliedAt); err != nil {
			return nil, err
		}
		migrations = append(migrations, m)
	}

	return migrations, rows.Err()
}

// migration is a migration file waiting to be applied.
type migration struct {
	version int
	name    string
	sql     string
}

// getAvailableMigrations reads all migration files from the embedded filesystem.
func getAvailableMigrations() ([]migration, error) {
	var migrations []migration

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, name, err := parseMigrationFilename(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("parsing migration filename %s: %w", entry.Name(), err)
		}

		content, err := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, migration{
			version: version,
			name:    name,
			sql:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})

	return migrations, nil
}

// parseMigrationFilename extracts version and name from a migration filename.
// Expected format: NNN_name.sql (e.g., "001_init.sql")
func parseMigrationFilename(filename string) (int, string, error) {
	base := strings.TrimSuffix(filename, ".sql")

	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", filename)
	}

	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", fmt.Errorf("invalid version number in %s: %w", filename, err)
	}

	return version, parts[1], nil
}

// applyMigration executes a single migration within a transaction.
func applyMigration(ctx context.Context, pool *pgxpool.Pool, mig migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if committed

	if _, err := tx.Exec(ctx, mig.sql); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO schema_migrations (version, name) VALUES ($1, $2)
	`, mig.version, mig.name); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	return tx.Commit(ctx)
}
