package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisNamespace = "stagetasks"

	// redisUpdateRetries bounds optimistic retries when another writer
	// touches a watched key mid-transaction.
	redisUpdateRetries = 10
)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisNamespace sets the key prefix.
func WithRedisNamespace(ns string) RedisOption {
	return func(s *RedisStore) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

// RedisStore implements KV on Redis strings. Keys are stored as
// "<namespace>:<key>".
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore connects to redisURL (e.g. "redis://localhost:6379/0") and
// verifies the connection, retrying briefly while the server comes up.
func NewRedisStore(ctx context.Context, redisURL string, opts ...RedisOption) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	s := &RedisStore{
		client:    redis.NewClient(redisOpts),
		namespace: defaultRedisNamespace,
	}
	for _, opt := range opts {
		opt(s)
	}

	ping := func() error {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return s.client.Ping(pctx).Err()
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(ping, b); err != nil {
		s.client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return s, nil
}

func (s *RedisStore) key(k string) string {
	return s.namespace + ":" + k
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Update uses WATCH/MULTI so a concurrent writer aborts the transaction; the
// read-modify-write is then retried with backoff.
func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	rk := s.key(key)

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, rk).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
		} else if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}

		next, err := fn(cur, exists)
		if err != nil {
			return backoff.Permanent(err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, next, 0)
			return nil
		})
		return err
	}

	op := func() error {
		err := s.client.Watch(ctx, txf, rk)
		if err == nil || errors.Is(err, redis.TxFailedErr) {
			return err
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		return backoff.Permanent(err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 5 * time.Millisecond
	eb.MaxInterval = 200 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(eb, redisUpdateRetries), ctx)

	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("failed to update %s: too much contention: %w", key, err)
		}
		return err
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
