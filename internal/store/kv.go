package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has never been written.
var ErrNotFound = errors.New("store: key not found")

// KV is the persistence boundary used by the position manager.
// Durability/atomicity is the backend's concern; callers only rely on
// get/set semantics and must tolerate repeated writes.
type KV interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, value []byte) error
}
