package cache

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"time"
)

// NullCacheValue marks a cached miss so repeated lookups of absent rows stay off the database.
const NullCacheValue = "$NULL$"

// ReadPolicy sets how long ReadThrough keeps found and missing entries.
// Both TTLs are jittered on every write. A zero EmptyTTL disables negative caching.
type ReadPolicy struct {
	TTL      time.Duration
	EmptyTTL time.Duration
}

// ReadThrough returns the JSON cached value under key, or calls load and caches its result.
// When load fails with an error matching missing, the miss is cached and later reads
// return missing without calling load. Cache failures degrade to load and are never returned.
func ReadThrough[T any](
	ctx context.Context,
	c Cache,
	key string,
	policy ReadPolicy,
	missing error,
	load func(context.Context) (T, error),
) (T, error) {
	return ReadThroughIf(ctx, c, key, policy, missing, nil, load)
}

// ReadThroughIf is ReadThrough that stores a loaded value only when keep reports true.
// A nil keep stores every value.
func ReadThroughIf[T any](
	ctx context.Context,
	c Cache,
	key string,
	policy ReadPolicy,
	missing error,
	keep func(T) bool,
	load func(context.Context) (T, error),
) (T, error) {
	var zero T

	if cached, err := c.Get(ctx, key); err == nil && cached != "" {
		if cached == NullCacheValue {
			return zero, missing
		}
		var value T
		if err := json.Unmarshal([]byte(cached), &value); err == nil {
			return value, nil
		}
	}

	value, err := load(ctx)
	if err != nil {
		if missing != nil && errors.Is(err, missing) && policy.EmptyTTL > 0 {
			_ = c.Set(ctx, key, NullCacheValue, JitterTTL(policy.EmptyTTL))
		}
		return zero, err
	}
	if keep != nil && !keep(value) {
		return value, nil
	}
	if payload, err := json.Marshal(value); err == nil {
		_ = c.Set(ctx, key, string(payload), JitterTTL(policy.TTL))
	}
	return value, nil
}

// UpdateCached runs fn and drops key afterwards so the next read refreshes it.
func UpdateCached(ctx context.Context, c Cache, key string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	_ = c.Del(ctx, key)
	return nil
}

// JitterTTL shortens ttl by up to 10% so entries written together do not expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
