package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"time"
)

// MigrationsFS holds the schema files. The migrations package sets it from
// an embedded directory; tests swap in their own.
var MigrationsFS fs.FS

// MigrationsDir is the directory inside MigrationsFS holding the files.
var MigrationsDir = "."

// migrationFile matches <YYYYMMDD>_<HHMMSS>_<name>.up.sql and .down.sql.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_(\w+)\.(up|down)\.sql$`)

// ErrNoDownMigration is returned when a rollback reaches a migration
// shipped without a .down.sql file.
var ErrNoDownMigration = errors.New("database: migration has no down file")

// Migration is one versioned schema change.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	Up      string
	Down    string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version string
	// Name is empty when this build does not ship the migration.
	Name      string
	AppliedAt time.Time
}

// SchemaStatus compares the database against the shipped migrations.
type SchemaStatus struct {
	// Version is the newest applied migration, empty for a fresh database.
	Version string
	Applied []AppliedMigration
	Pending []Migration
}

// UpToDate reports whether every shipped migration has been applied.
func (s SchemaStatus) UpToDate() bool { return len(s.Pending) == 0 }

// Migrate applies pending migrations oldest first. Each one commits on its
// own, so a failure leaves earlier migrations in place and a later Migrate
// resumes at the one that failed.
func (db *DB) Migrate(ctx context.Context) error {
	status, err := db.SchemaStatus(ctx)
	if err != nil {
		return err
	}
	for _, m := range status.Pending {
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// Rollback reverts up to steps applied migrations, newest first, and returns
// the versions it reverted. It stops at the first migration without a down
// file.
func (db *DB) Rollback(ctx context.Context, steps int) ([]string, error) {
	if steps < 1 {
		return nil, fmt.Errorf("rollback steps must be at least 1, got %d", steps)
	}
	status, err := db.SchemaStatus(ctx)
	if err != nil {
		return nil, err
	}
	shipped, err := readMigrations()
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]Migration, len(shipped))
	for _, m := range shipped {
		byVersion[m.Version] = m
	}

	var reverted []string
	for i := len(status.Applied) - 1; i >= 0 && len(reverted) < steps; i-- {
		version := status.Applied[i].Version
		m, ok := byVersion[version]
		if !ok {
			return reverted, fmt.Errorf("applied migration %s is not shipped with this build", version)
		}
		if m.Down == "" {
			return reverted, fmt.Errorf("%w: %s (%s)", ErrNoDownMigration, m.Version, m.Name)
		}
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Down); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
			return err
		})
		if err != nil {
			return reverted, fmt.Errorf("reverting migration %s (%s): %w", m.Version, m.Name, err)
		}
		reverted = append(reverted, m.Version)
	}
	return reverted, nil
}

// SchemaStatus reports applied and pending migrations. It creates the
// bookkeeping table when missing.
func (db *DB) SchemaStatus(ctx context.Context) (SchemaStatus, error) {
	var status SchemaStatus
	if _, err := db.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return status, fmt.Errorf("creating migrations table: %w", err)
	}

	rows, err := db.DB.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return status, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()
	done := make(map[string]bool)
	for rows.Next() {
		var a AppliedMigration
		var at string
		if err := rows.Scan(&a.Version, &at); err != nil {
			return status, fmt.Errorf("scanning migration row: %w", err)
		}
		a.AppliedAt, _ = time.Parse(time.RFC3339, at) //nolint:errcheck // written by Migrate
		status.Applied = append(status.Applied, a)
		done[a.Version] = true
	}
	if err := rows.Err(); err != nil {
		return status, fmt.Errorf("iterating migrations: %w", err)
	}
	if n := len(status.Applied); n > 0 {
		status.Version = status.Applied[n-1].Version
	}

	shipped, err := readMigrations()
	if err != nil {
		return status, err
	}
	names := make(map[string]string, len(shipped))
	for _, m := range shipped {
		names[m.Version] = m.Name
		if !done[m.Version] {
			status.Pending = append(status.Pending, m)
		}
	}
	for i := range status.Applied {
		status.Applied[i].Name = names[status.Applied[i].Version]
	}
	return status, nil
}

func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// readMigrations loads the shipped migrations sorted by version. Files that
// do not follow the naming scheme are ignored.
func readMigrations() ([]Migration, error) {
	if MigrationsFS == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(MigrationsFS, MigrationsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		match := migrationFile.FindStringSubmatch(e.Name())
		if e.IsDir() || match == nil {
			continue
		}
		body, err := fs.ReadFile(MigrationsFS, path.Join(MigrationsDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		version, name, direction := match[1], match[2], match[3]
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if direction == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s (%s) has a down file but no up file", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Migration) int {
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		}
		return 0
	})
	return out, nil
}
