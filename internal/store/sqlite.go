package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// dialect holds the statements that differ between SQL engines.
type dialect struct {
	driver          string
	migrationsTable string
	upsert          string
	selectForTx     string
}

var (
	sqliteDialect = dialect{
		driver: "sqlite3",
		migrationsTable: `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version INTEGER PRIMARY KEY,
				name TEXT NOT NULL,
				applied_at DATETIME NOT NULL
			)
		`,
		upsert: `
			INSERT INTO kv_entries (item_key, item_value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(item_key) DO UPDATE SET item_value = excluded.item_value, updated_at = excluded.updated_at
		`,
		// _txlock=immediate already takes the write lock at BEGIN.
		selectForTx: `SELECT item_value FROM kv_entries WHERE item_key = ?`,
	}

	mysqlDialect = dialect{
		driver: "mysql",
		migrationsTable: `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version INT NOT NULL PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				applied_at DATETIME NOT NULL
			)
		`,
		upsert: `
			INSERT INTO kv_entries (item_key, item_value, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE item_value = VALUES(item_value), updated_at = VALUES(updated_at)
		`,
		selectForTx: `SELECT item_value FROM kv_entries WHERE item_key = ? FOR UPDATE`,
	}
)

// SQLStore implements KV on a kv_entries table. It backs both the sqlite and
// mysql drivers; only the upsert and locking statements differ.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLStore, error) {
	db, err := sql.Open(sqliteDialect.driver, dbPath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: required for :memory: and keeps writers serialised.
	db.SetMaxOpenConns(1)

	return newSQLStore(ctx, db, sqliteDialect)
}

// NewMySQLStore connects to MySQL with the given DSN
// (e.g. "user:pass@tcp(127.0.0.1:3306)/stagetasks").
func NewMySQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open(mysqlDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return newSQLStore(ctx, db, mysqlDialect)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	if _, err := migrate(ctx, db, d); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLStore{db: db, dialect: d}, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Get retrieves the value stored under key.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT item_value FROM kv_entries WHERE item_key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}

	return value, nil
}

// Set creates or replaces the value under key.
func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.dialect.upsert, key, string(value), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE item_key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Update reads and rewrites key inside one transaction.
func (s *SQLStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cur []byte
	exists := true
	err = tx.QueryRowContext(ctx, s.dialect.selectForTx, key).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}

	next, err := fn(cur, exists)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.dialect.upsert, key, string(next), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	return tx.Commit()
}
