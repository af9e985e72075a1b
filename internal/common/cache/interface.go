package cache

import (
	"context"
	"time"
)

// Cache is the subset of Redis the judging services rely on.
type Cache interface {
	BasicOps
	SetOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" and a nil error when the key does not exist
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; a zero ttl means no expiry
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	Del(ctx context.Context, keys ...string) error

	// Exists returns the number of the given keys that exist
	Exists(ctx context.Context, keys ...string) (int64, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error

	// IncrWindow increments key and starts its ttl on the first increment.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// SetOps is used for per-user solved problem sets.
type SetOps interface {
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SIsMember(ctx context.Context, key string, member interface{}) (bool, error)
}

// LockOps defines distributed lock operations
type LockOps interface {
	// TryLock acquires key for ttl. The returned token must be passed to Unlock.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Unlock releases key only if it is still held with token.
	Unlock(ctx context.Context, key, token string) error
}
