package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type migrationFile struct {
	version int
	name    string
	path    string
	kind    string // up or down
}

// MigrationDirection selects which half of each migration runs
type MigrationDirection string

const (
	MigrateUp   MigrationDirection = "up"
	MigrateDown MigrationDirection = "down"
)

// Migrate applies (up) or reverts (down) the embedded migrations. Each
// migration runs in its own transaction together with its bookkeeping row.
func Migrate(ctx context.Context, db *sql.DB, direction MigrationDirection) ([]string, error) {
	if err := ensureSchemaMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to ensure schema_migrations: %w", err)
	}

	files, err := loadMigrationFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	switch direction {
	case MigrateUp:
		return applyUp(ctx, db, files)
	case MigrateDown:
		return applyDown(ctx, db, files)
	}
	return nil, fmt.Errorf("unknown migration direction: %s", direction)
}

func ensureSchemaMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	return err
}

func loadMigrationFiles() ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, err
	}

	var files []migrationFile
	for _, e := range entries {
		name := e.Name()
		kind := "up"
		switch {
		case strings.HasSuffix(name, ".down.sql"):
			kind = "down"
		case strings.HasSuffix(name, ".up.sql"):
		default:
			continue
		}

		version, migName, err := parseVersionAndName(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		files = append(files, migrationFile{
			version: version,
			name:    migName,
			path:    "migrations/" + name,
			kind:    kind,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// parseVersionAndName splits "001_create_documents.up.sql"
func parseVersionAndName(filename string) (int, string, error) {
	parts := strings.SplitN(filename, "_", 2)
	if len(parts) < 2 {
		return 0, "", errors.New("invalid migration filename")
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", errors.New("invalid migration version")
	}
	name := strings.TrimSuffix(strings.TrimSuffix(parts[1], ".up.sql"), ".down.sql")
	return version, name, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func applyUp(ctx context.Context, db *sql.DB, files []migrationFile) ([]string, error) {
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, f := range files {
		if f.kind != "up" || applied[f.version] {
			continue
		}
		err := runMigration(ctx, db, f, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations(version, name, applied_at) VALUES($1,$2,$3)",
				f.version, f.name, time.Now())
			return err
		})
		if err != nil {
			return done, err
		}
		done = append(done, f.path)
	}
	return done, nil
}

func applyDown(ctx context.Context, db *sql.DB, files []migrationFile) ([]string, error) {
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	var done []string
	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		if f.kind != "down" || !applied[f.version] {
			continue
		}
		err := runMigration(ctx, db, f, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version=$1", f.version)
			return err
		})
		if err != nil {
			return done, err
		}
		done = append(done, f.path)
	}
	return done, nil
}

func runMigration(ctx context.Context, db *sql.DB, f migrationFile, bookkeeping func(tx *sql.Tx) error) error {
	body, err := migrationFS.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.path, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("migration %s failed: %w", f.path, err)
	}
	if err := bookkeeping(tx); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", f.path, err)
	}
	return tx.Commit()
}
