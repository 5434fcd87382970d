// Package coord provides the shared coordination store used for agent busy
// counters, thread/task mappings, feedback logs, and cancellation flags.
//
// All shared mutable state goes through the atomic primitives on Store -
// never read-modify-write from the caller's side - so concurrent workers and
// listeners observe a single consistent view.
package coord

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store cannot be reached. Callers with
// a degraded mode (the kennel selector) switch to it on this error.
var ErrUnavailable = errors.New("coordination store unavailable")

// Store is the coordination-store client interface.
//
// Keys are flat strings namespaced by the caller (e.g. "thread_tasks:C1_17.3").
// Values expire after their TTL; a zero TTL means no expiry.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes key to value with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes key only if it does not exist. Returns true if the write
	// happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key. Returns true if the key existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Incr atomically increments the counter at key and returns the new
	// value. A missing key counts as zero. The TTL is refreshed on each call.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Decr atomically decrements the counter at key, floored at zero, and
	// returns the new value.
	Decr(ctx context.Context, key string) (int64, error)

	// Append atomically appends value to the list at key and returns the new
	// list length. The TTL is refreshed on each call.
	Append(ctx context.Context, key, value string, ttl time.Duration) (int, error)

	// List returns list elements with index >= from, in insertion order.
	List(ctx context.Context, key string, from int) ([]string, error)

	// Len returns the current list length at key (0 for missing keys).
	Len(ctx context.Context, key string) (int, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
