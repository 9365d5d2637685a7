// Package store provides the durable key/value port backing session
// persistence, with embedded and remote implementations.
package store

import (
	"context"
	"errors"
)

// ErrNotFound indicates a key was not located.
var ErrNotFound = errors.New("store: not found")

// KV is the persistence port. Implementations hold opaque string values
// under namespaced keys and support bulk removal by prefix.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}
