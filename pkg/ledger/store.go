// Package ledger implements the durable key-value substrate spec.md
// §4.4 requires (atomic compare-and-set, named locks with TTL) plus
// CapitalLedger, the typed view of balances, reservations, nonces, and
// per-strategy metrics stored in it.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and CompareAndSet-style helpers when a
// key does not exist.
var ErrNotFound = errors.New("ledger: key not found")

// ErrCASConflict is returned by CompareAndSet when the stored value does
// not match the expected one.
var ErrCASConflict = errors.New("ledger: compare-and-set conflict")

// KVStore is the shared key-value store abstraction spec.md §4.4/§6.4
// names: get/set, an atomic compare-and-set primitive, and a named-lock
// primitive with TTL. Both MemoryStore (tests, --dry-run) and
// PostgresStore (production) implement it.
type KVStore interface {
	// Get returns the current value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set unconditionally writes value for key.
	Set(ctx context.Context, key, value string) error
	// CompareAndSet writes newValue for key only if the current value
	// equals oldValue; pass oldValue == "" to require the key be absent.
	// Returns ErrCASConflict if the precondition does not hold.
	CompareAndSet(ctx context.Context, key, oldValue, newValue string) error
	// Delete removes key. It is not an error for key to be absent.
	Delete(ctx context.Context, key string) error
	// Keys returns every key with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Lock attempts to acquire the named lock for ttl, returning a
	// release function on success. ok is false if another owner
	// currently holds an unexpired lock by that name.
	Lock(ctx context.Context, name string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}
