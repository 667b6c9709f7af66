package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
)

// Drivers lists every supported backend.
var Drivers = []string{DriverSQLite, DriverFile, DriverMemory, DriverMySQL, DriverRedis}

// Options selects and configures a backend.
type Options struct {
	Driver      string
	Path        string // sqlite database file
	Dir         string // file store directory
	DSN         string // mysql
	RedisURL    string
	LockTimeout time.Duration
}

// Open creates the KV backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (KV, error) {
	switch opts.Driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverFile:
		return NewFileStore(opts.Dir, opts.LockTimeout)
	case DriverSQLite, "":
		if opts.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		return NewSQLiteStore(ctx, opts.Path)
	case DriverMySQL:
		return NewMySQLStore(ctx, opts.DSN)
	case DriverRedis:
		return NewRedisStore(ctx, opts.RedisURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
