// Package store defines the atomic key-value primitives the metering
// components are built on, together with a Redis implementation and an
// in-memory implementation sharing the identical contract.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates a transient backing-store failure. Callers must
// be able to distinguish it from business outcomes (e.g. an insufficient
// balance), so every implementation wraps its transport errors with it.
var ErrUnavailable = errors.New("store: unavailable")

// Store is the set of per-key atomic operations this module requires from
// its backing store. Each method is atomic on its own key; there is no
// cross-key transaction (see Batch).
type Store interface {
	// Get returns the string value at key, or "" without error if absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Expire sets a time-to-live on key. A non-positive ttl is ignored.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// IncrBy atomically adds n to the integer at key (0 if absent) and
	// returns the new value.
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	DecrBy(ctx context.Context, key string, n int64) (int64, error)
	// ConditionalDecrBy atomically decrements the integer at key by n only
	// if current-n >= floor. It returns the resulting (or unchanged) value
	// and whether the decrement was applied. An absent key reads as 0.
	ConditionalDecrBy(ctx context.Context, key string, n, floor int64) (int64, bool, error)

	HashSet(ctx context.Context, key string, fields map[string]string) error
	// HashGetAll returns an empty map without error when key is absent.
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// ListPush prepends values to the list at key (newest first).
	ListPush(ctx context.Context, key string, values ...string) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	SortedSetAdd(ctx context.Context, key string, score float64, member string) error
	// SortedSetAddNX adds member only if it is not already present,
	// reporting whether it was added. This is the claim primitive.
	SortedSetAddNX(ctx context.Context, key string, score float64, member string) (bool, error)
	// SortedSetRemove removes member, reporting whether it was present.
	SortedSetRemove(ctx context.Context, key, member string) (bool, error)
	// SortedSetRemoveByScoreRange removes members with min <= score <= max
	// and returns how many were removed. math.Inf bounds are accepted.
	SortedSetRemoveByScoreRange(ctx context.Context, key string, min, max float64) (int64, error)
	SortedSetRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	SortedSetCard(ctx context.Context, key string) (int64, error)

	SetAdd(ctx context.Context, key, member string) error
	SetRemove(ctx context.Context, key, member string) error
	SetCard(ctx context.Context, key string) (int64, error)

	// Batch queues the operations issued through fn and executes them in a
	// single round trip. A batch is a latency optimization, NOT a cross-key
	// transaction: a mid-batch failure can leave earlier operations applied
	// and later ones not. Callers must tolerate partial application.
	Batch(ctx context.Context, fn func(b BatchOps) error) error
}

// BatchOps is the queueable subset of Store operations. Results of queued
// operations are not observable; the round trip either succeeds as reported
// by Batch or fails partway.
type BatchOps interface {
	SortedSetAdd(key string, score float64, member string)
	SetAdd(key, member string)
	ListPush(key string, values ...string)
	HashSet(key string, fields map[string]string)
	Expire(key string, ttl time.Duration)
}
