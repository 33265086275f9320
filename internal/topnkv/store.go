// Package topnkv implements the versioned, column-family-scoped KV store
// the managed cache and engine read and write through: every write is keyed
// by a caller-supplied epoch, and a forward scan over a column family
// visits exactly one (the newest) value per logical key via the key-hop
// algorithm in list/ListCF.
package topnkv

import (
	"context"
	"errors"
)

// Sentinel errors implementing the operator's error-kind taxonomy. Callers
// use errors.Is against these rather than a hand-rolled error-code enum,
// matching the wrap-and-compare style used throughout the teacher codebase.
var (
	// ErrNotFound is returned by Get/GetCF/GetAsOfCF when no matching
	// version of a key exists. It is expected control flow during cache
	// fill-in and recovery, not a fault.
	ErrNotFound = errors.New("topnkv: key not found")
	// ErrInternal marks an invariant violation: the store observed state
	// that should be impossible given the contract callers are expected to
	// uphold.
	ErrInternal = errors.New("topnkv: internal invariant violation")
	// ErrIO wraps a failure from the underlying storage medium (disk,
	// in the bbolt backend's case).
	ErrIO = errors.New("topnkv: io failure")
	// ErrDecode marks a value that failed to deserialize into the shape
	// its column family expects.
	ErrDecode = errors.New("topnkv: decode failure")
)

// KeyValue is one row returned by a List scan: the logical key (with the
// version tag already stripped) and its newest value at-or-before the
// requested epoch.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Store is the versioned KV contract every backend implements. All methods
// are safe for concurrent use by multiple goroutines; a single logical
// operator, per the driver's cooperative-scheduling contract, only ever
// has one call in flight at a time, but the store itself makes no such
// assumption.
type Store interface {
	// Put writes value under key at epoch in the default column family.
	Put(ctx context.Context, key []byte, epoch uint64, value []byte) error
	// PutCF writes value under key at epoch in column family cf.
	PutCF(ctx context.Context, cf string, key []byte, epoch uint64, value []byte) error
	// PutBatchCF writes every entry in kvs atomically: either all of them
	// are visible to a subsequent read, or none are.
	PutBatchCF(ctx context.Context, cf string, epoch uint64, kvs []KeyValue) error
	// Get reads the value stored exactly at (key, epoch) in the default
	// column family: it is not an as-of lookup. It returns ErrNotFound if
	// no version was ever written at that exact epoch, or if the version
	// written there was a tombstone.
	Get(ctx context.Context, key []byte, epoch uint64) ([]byte, error)
	// GetCF is Get scoped to column family cf.
	GetCF(ctx context.Context, cf string, key []byte, epoch uint64) ([]byte, error)
	// GetAsOfCF reads the newest version of key in cf at or before epoch,
	// the temporal-domain read HistoryReaderV3.GetAsOf performs. ok is
	// false, with a nil error, when no such version exists or the newest
	// one at or before epoch is a tombstone.
	GetAsOfCF(ctx context.Context, cf string, key []byte, epoch uint64) (value []byte, ok bool, err error)
	// Delete records a tombstone for key at epoch in the default column
	// family: a later GetAsOfCF at or after epoch observes the key as
	// absent, while reads at an earlier epoch are unaffected.
	Delete(ctx context.Context, key []byte, epoch uint64) error
	// DeleteCF is Delete scoped to column family cf.
	DeleteCF(ctx context.Context, cf string, key []byte, epoch uint64) error
	// DeleteAllCF removes every version of every key in cf.
	DeleteAllCF(ctx context.Context, cf string) error
	// ListCF performs the key-hop forward scan described in package docs:
	// it visits each distinct logical key in cf exactly once, in ascending
	// logical-key order, returning that key's newest value at or before
	// epoch. Keys with no version at or before epoch are skipped, not
	// returned as a tombstone marker.
	ListCF(ctx context.Context, cf string, epoch uint64, limit int) ([]KeyValue, error)
	// Close releases any resources the backend holds open.
	Close() error
}
