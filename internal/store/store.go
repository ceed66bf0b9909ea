// Package store owns the named cache partitions and their lifecycle.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no entry exists for the key.
var ErrNotFound = errors.New("store: entry not found")

// Partition is a named, independently budgeted key→response mapping. A put
// fully replaces any existing entry for the key; concurrent writers settle
// on last write wins. Delete on a missing key is a no-op returning nil.
type Partition interface {
	Name() string
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
	BytesUsed(ctx context.Context) (int64, error)
}
