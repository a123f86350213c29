// Package kv is the key-value persistence boundary. Callers work against the
// Store interface; the Redis implementation lives in redis.go and tests run
// against miniredis.
package kv

import "context"

var ErrNotFound = staticErr("key not found")

type staticErr string

func (e staticErr) Error() string { return string(e) }

// Store is a minimal byte-oriented key-value surface. Get returns ErrNotFound
// for missing keys; Keys lists every key with the given prefix.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}
