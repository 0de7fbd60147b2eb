// Package kv defines the storage medium the session store persists into.
// Implementations live in subpackages (memory, redis, postgres).
package kv

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned by Get for absent keys.
	ErrKeyNotFound = errors.New("key not found")
	// ErrQuotaExceeded is returned by Set when the medium is out of space.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// Backend is a flat string key-value medium. The store owns only the keys
// under its prefix; a backend may be shared with other features using other
// prefixes, so Keys must filter rather than assume exclusivity.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}
