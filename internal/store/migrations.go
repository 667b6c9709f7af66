package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migration is one numbered SQL file. Files hold a single statement each so
// they run unchanged on drivers without multi-statement support.
type migration struct {
	version int
	name    string
	sql     string
}

func (m migration) String() string {
	return fmt.Sprintf("%03d_%s", m.version, m.name)
}

// migrate brings db up to date with the embedded migrations and returns the
// ones it applied, oldest first.
func migrate(ctx context.Context, db *sql.DB, d dialect) ([]migration, error) {
	if _, err := db.ExecContext(ctx, d.migrationsTable); err != nil {
		return nil, fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	all, err := loadMigrations(migrationsFS)
	if err != nil {
		return nil, err
	}

	done, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	var applied []migration
	for _, m := range all {
		if done[m.version] {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return applied, err
		}
		applied = append(applied, m)
	}
	return applied, nil
}

// loadMigrations reads <version>_<name>.sql files from the migrations
// directory of fsys, sorted by version.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	out := make([]migration, 0, len(files))
	byVersion := make(map[int]string, len(files))
	for _, file := range files {
		version, name, err := parseMigrationFilename(path.Base(file))
		if err != nil {
			return nil, err
		}
		if prev, dup := byVersion[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, path.Base(file), version)
		}
		byVersion[version] = path.Base(file)

		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", file, err)
		}
		out = append(out, migration{version: version, name: name, sql: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func parseMigrationFilename(filename string) (int, string, error) {
	version, name, ok := strings.Cut(strings.TrimSuffix(filename, ".sql"), "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("invalid migration filename %q: expected '<version>_<name>.sql'", filename)
	}

	v, err := strconv.Atoi(version)
	if err != nil {
		return 0, "", fmt.Errorf("invalid migration version in %q: %w", filename, err)
	}
	return v, name, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema_migrations: %w", err)
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions[v] = true
	}
	return versions, rows.Err()
}

// applyMigration runs m and records it in one transaction. MySQL commits DDL
// implicitly, so there a failure while recording leaves the change applied.
func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", m, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("failed to apply migration %s: %w", m, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.version, m.name, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", m, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m, err)
	}
	return nil
}
