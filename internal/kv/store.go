package kv

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("kv: key not found")
	ErrExists   = errors.New("kv: key already exists")
)

// Pair is a single key/value returned by a prefix scan.
type Pair struct {
	Key   string
	Value string
}

// Store is a durable string-to-string mapping with prefix scans.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetIfAbsent writes value only when key does not exist yet and
	// returns ErrExists otherwise.
	SetIfAbsent(ctx context.Context, key, value string) error
	// CompareAndSwap writes value when the stored value equals *expected,
	// or when the key is absent and expected is nil. It reports whether
	// the write happened.
	CompareAndSwap(ctx context.Context, key string, expected *string, value string) (bool, error)
	Delete(ctx context.Context, key string) error
	ScanPrefix(ctx context.Context, prefix string) ([]Pair, error)
	Close(ctx context.Context) error
}
