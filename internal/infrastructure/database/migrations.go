package database

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

// Migrations names a directory of migration files, usually inside an
// embed.FS. Files are named VERSIONDATE_VERSIONTIME_name.up.sql with an
// optional matching .down.sql, for example 20261001_120000_journal.up.sql.
type Migrations struct {
	FS  fs.FS
	Dir string
}

// Migration is one parsed up/down pair.
type Migration struct {
	Version string // 20261001_120000
	Name    string // journal
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

const schemaMigrations = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`

// Migrate applies every pending migration, oldest first, one transaction
// each. A failed migration is rolled back; earlier ones stay committed and
// the next Migrate resumes at the failure.
func (db *DB) Migrate(ctx context.Context, src Migrations) error {
	_, pending, err := db.GetMigrationStatus(ctx, src)
	if err != nil {
		return err
	}
	for _, m := range pending {
		err := db.InTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the most recently applied migration. It is a no-op
// when nothing is applied and fails when that migration has no down file.
func (db *DB) MigrateDown(ctx context.Context, src Migrations) error {
	applied, err := db.applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1].Version

	all, err := src.load()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(all, func(m Migration) bool { return m.Version == latest })
	switch {
	case i < 0:
		return fmt.Errorf("migration %s: not in %s", latest, src.Dir)
	case all[i].DownSQL == "":
		return fmt.Errorf("migration %s: no down SQL", latest)
	}

	return db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, all[i].DownSQL); err != nil {
			return fmt.Errorf("migration %s down: %w", latest, err)
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", latest)
		return err
	})
}

// GetMigrationStatus returns the applied records and the migrations still
// to run.
func (db *DB) GetMigrationStatus(ctx context.Context, src Migrations) ([]MigrationRecord, []Migration, error) {
	applied, err := db.applied(ctx)
	if err != nil {
		return nil, nil, err
	}
	all, err := src.load()
	if err != nil {
		return nil, nil, err
	}

	done := make(map[string]bool, len(applied))
	for _, r := range applied {
		done[r.Version] = true
	}
	var pending []Migration
	for _, m := range all {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

// applied lists schema_migrations in version order, creating the table on
// first use.
func (db *DB) applied(ctx context.Context) ([]MigrationRecord, error) {
	if _, err := db.ExecContext(ctx, schemaMigrations); err != nil {
		return nil, fmt.Errorf("creating schema_migrations: %w", err)
	}
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	var out []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		var at string
		if err := rows.Scan(&r.Version, &at); err != nil {
			return nil, fmt.Errorf("reading schema_migrations: %w", err)
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// load pairs up and down files and sorts them by version. A nil FS or a
// missing directory means there is nothing to migrate.
func (src Migrations) load() ([]Migration, error) {
	if src.FS == nil {
		return nil, nil
	}
	dir := cmp.Or(src.Dir, ".")
	entries, err := fs.ReadDir(src.FS, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, ok := parseFilename(e.Name())
		if !ok {
			continue
		}
		body, err := fs.ReadFile(src.FS, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		m := byVersion[f.version]
		if m == nil {
			m = &Migration{Version: f.version, Name: f.name}
			byVersion[f.version] = m
		}
		if f.up {
			m.UpSQL = string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		// A lone down file is not a migration.
		if m.UpSQL != "" {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

type migrationFile struct {
	version string
	name    string
	up      bool
}

// parseFilename splits "20261001_120000_journal.up.sql" into its version,
// name and direction.
func parseFilename(filename string) (migrationFile, bool) {
	base, ok := strings.CutSuffix(filename, ".sql")
	if !ok {
		return migrationFile{}, false
	}
	var f migrationFile
	switch {
	case strings.HasSuffix(base, ".up"):
		f.up, base = true, strings.TrimSuffix(base, ".up")
	case strings.HasSuffix(base, ".down"):
		base = strings.TrimSuffix(base, ".down")
	default:
		return migrationFile{}, false
	}

	date, rest, ok := strings.Cut(base, "_")
	if !ok || date == "" {
		return migrationFile{}, false
	}
	clock, name, _ := strings.Cut(rest, "_")
	if clock == "" {
		return migrationFile{}, false
	}
	f.version = date + "_" + clock
	f.name = cmp.Or(name, f.version)
	return f, true
}
