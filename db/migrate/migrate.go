// Package migrate applies the embedded event store schema on startup.
//
// Migrations are compiled into the binary, so a control plane instance always
// carries the schema it expects.
//
// # Usage
//
//	pool, _ := pgxpool.New(ctx, databaseURL)
//	if err := migrate.Run(ctx, pool, logger); err != nil {
//	    log.Fatal("migration failed:", err)
//	}
//
// # Migration Files
//
// Files live in db/migrate/migrations and are named NNN_descriptive_name.sql.
// They are applied in version order, each inside its own transaction, while
// holding a transaction-scoped advisory lock so that two instances starting
// at once cannot apply the same version twice.
//
// Applied versions are recorded in schema_migrations.
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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// advisoryLockKey serializes concurrent migration runs.
const advisoryLockKey = 0x70756c7365 // "pulse"

// Record is an applied migration.
type Record struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}

// Status describes applied and pending migrations.
type Status struct {
	Applied []Record `json:"applied"`
	Pending []string `json:"pending"`
}

type migration struct {
	version int
	name    string
	sql     string
}

func (m migration) label() string {
	return fmt.Sprintf("%03d_%s", m.version, m.name)
}

// Run applies every pending migration.
func Run(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	available, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("reading migration files: %w", err)
	}

	applied := 0
	for _, mig := range available {
		done, err := applyIfPending(ctx, pool, mig)
		if err != nil {
			return fmt.Errorf("applying migration %s: %w", mig.label(), err)
		}
		if done {
			applied++
			logger.Info("migration applied", "version", mig.version, "name", mig.name)
		}
	}

	if applied == 0 {
		logger.Info("database schema is up to date", "migrations", len(available))
	} else {
		logger.Info("migrations complete", "applied", applied, "total", len(available))
	}
	return nil
}

// GetStatus reports applied and pending migrations for diagnostics.
func GetStatus(ctx context.Context, pool *pgxpool.Pool) (*Status, error) {
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass('public.schema_migrations') IS NOT NULL`).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking migrations table: %w", err)
	}

	status := &Status{}
	if exists {
		rows, err := pool.Query(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
		if err != nil {
			return nil, err
		}
		status.Applied, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
			var r Record
			err := row.Scan(&r.Version, &r.Name, &r.AppliedAt)
			return r, err
		})
		if err != nil {
			return nil, err
		}
	}

	done := make(map[int]bool, len(status.Applied))
	for _, r := range status.Applied {
		done[r.Version] = true
	}

	available, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	for _, m := range available {
		if !done[m.version] {
			status.Pending = append(status.Pending, m.label())
		}
	}
	return status, nil
}

// applyIfPending runs one migration unless it is already recorded.
// It reports whether the migration was applied by this call.
func applyIfPending(ctx context.Context, pool *pgxpool.Pool, mig migration) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
		return false, fmt.Errorf("acquiring migration lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, mig.version).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking version: %w", err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, mig.sql); err != nil {
		return false, fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.version, mig.name); err != nil {
		return false, fmt.Errorf("recording migration: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return true, nil
}

// loadMigrations reads the embedded migration files sorted by version.
func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, name, err := parseMigrationFilename(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %03d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, migration{version: version, name: name, sql: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}

// parseMigrationFilename splits "NNN_name.sql" into version and name.
func parseMigrationFilename(filename string) (int, string, error) {
	base := strings.TrimSuffix(filename, ".sql")
	versionPart, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("invalid migration filename %s (expected NNN_name.sql)", filename)
	}
	version, err := strconv.Atoi(versionPart)
	if err != nil {
		return 0, "", fmt.Errorf("invalid version number in %s: %w", filename, err)
	}
	return version, name, nil
}
