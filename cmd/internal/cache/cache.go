// Package cache is the shared key/value backend used for session records,
// account session indexes and short-lived flags such as sudo elevation.
//
// Values are opaque bytes; callers own their encoding. Sets are exposed so
// higher layers can maintain explicit secondary indexes instead of relying on
// backend-specific tagging.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is the cache backend contract. All operations are last-writer-wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// AddToSet adds member to the set at key and (re)sets the set's TTL.
	AddToSet(ctx context.Context, key, member string, ttl time.Duration) error
	// SetMembers returns the members of the set at key; a missing set is empty.
	SetMembers(ctx context.Context, key string) ([]string, error)
	RemoveFromSet(ctx context.Context, key string, members ...string) error

	Ping(ctx context.Context) error
	Close() error
}
