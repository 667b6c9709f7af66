package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// fileLockName is the lock file coordinating writers across processes.
	fileLockName = ".stagetasks.lock"

	// defaultFileLockTimeout bounds the wait for the lock when none is configured.
	defaultFileLockTimeout = 5 * time.Second

	fileLockPollInterval = 25 * time.Millisecond
)

// FileStore keeps one JSON file per key in a directory. Writers in different
// processes are serialised with an exclusive file lock and readers take a
// shared one. Within a process a mutex guards the lock handle, which flock
// does not count per goroutine.
type FileStore struct {
	mu          sync.Mutex
	dir         string
	lock        *flock.Flock
	lockTimeout time.Duration
}

// NewFileStore creates the directory if needed and returns a store rooted there.
// A lockTimeout of zero uses the default.
func NewFileStore(dir string, lockTimeout time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	if lockTimeout <= 0 {
		lockTimeout = defaultFileLockTimeout
	}

	return &FileStore{
		dir:         dir,
		lock:        flock.New(filepath.Join(dir, fileLockName)),
		lockTimeout: lockTimeout,
	}, nil
}

// Dir is the directory holding the value files.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file backing key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, url.QueryEscape(key)+".json")
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.withLock(ctx, false, func() error {
		var err error
		data, err = s.read(key)
		return err
	})
	return data, err
}

func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	return s.withLock(ctx, true, func() error {
		return s.write(key, value)
	})
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.withLock(ctx, true, func() error {
		err := os.Remove(s.Path(key))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
		return nil
	})
}

func (s *FileStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	return s.withLock(ctx, true, func() error {
		cur, err := s.read(key)
		exists := true
		if errors.Is(err, ErrKeyNotFound) {
			exists = false
		} else if err != nil {
			return err
		}

		next, err := fn(cur, exists)
		if err != nil {
			return err
		}
		return s.write(key, next)
	})
}

// Close releases the lock handle if it is still held.
func (s *FileStore) Close() error {
	return s.lock.Close()
}

func (s *FileStore) read(key string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// write replaces the file atomically with a temp file and rename.
func (s *FileStore) write(key string, value []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.Path(key)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquire(ctx, exclusive); err != nil {
		return err
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn()
}

// acquire polls for the lock until the context is done or the timeout passes.
func (s *FileStore) acquire(ctx context.Context, exclusive bool) error {
	lockType := "shared"
	if exclusive {
		lockType = "exclusive"
	}

	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	start := time.Now()
	for {
		var (
			locked bool
			err    error
		)
		if exclusive {
			locked, err = s.lock.TryLock()
		} else {
			locked, err = s.lock.TryRLock()
		}
		if err != nil {
			return fmt.Errorf("failed to acquire %s store lock: %w", lockType, err)
		}
		if locked {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s store lock after %v (another process may be writing)",
				lockType, time.Since(start).Round(time.Millisecond))
		case <-time.After(fileLockPollInterval):
		}
	}
}
