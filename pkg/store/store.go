// Package store abstracts the durable blob store that holds per-user model
// artifacts and training corpora. Keys are slash-separated paths; a fully
// written object replaces any previous object under the same key.
package store

import (
	"context"
	"errors"
)

// ErrNotFound indicates no object exists under the requested key.
var ErrNotFound = errors.New("object not found")

// Store is the durable key-value blob store contract.
type Store interface {
	// Put writes an object, replacing any existing object under key.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads an object, returning ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all keys under the prefix in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)
}
