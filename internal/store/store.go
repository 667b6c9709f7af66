package store

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned by KV.Get when the key has never been set.
	ErrKeyNotFound = errors.New("key not found")

	// ErrNotFound is returned by the Adapter when a task or stage is not in
	// the persisted collection.
	ErrNotFound = errors.New("not found in store")

	// ErrCorrupt wraps decode failures of a persisted collection.
	ErrCorrupt = errors.New("corrupt persisted collection")
)

// UpdateFunc receives the current value of a key (exists is false when it has
// never been set) and returns the value to write back.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// KV is a string-keyed store holding opaque values.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Update performs an atomic read-modify-write of one key. If fn returns an
	// error nothing is written and the error is returned unchanged.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Lifecycle
	Close() error
}
