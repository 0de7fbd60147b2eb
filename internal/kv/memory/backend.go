package memory

import (
	"context"
	"strings"
	"sync"

	"offline-quiz-store/internal/kv"
)

// Backend is an in-memory implementation of kv.Backend with an optional
// capacity measured in characters of keys plus values. A zero capacity means
// unlimited.
type Backend struct {
	capacity int

	mu      sync.RWMutex
	entries map[string]string
	size    int
}

func NewBackend() *Backend {
	return &Backend{entries: make(map[string]string)}
}

// NewBoundedBackend builds a backend that reports kv.ErrQuotaExceeded once
// the given capacity would be crossed.
func NewBoundedBackend(capacity int) *Backend {
	return &Backend{capacity: capacity, entries: make(map[string]string)}
}

func (b *Backend) Get(_ context.Context, key string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	value, ok := b.entries[key]
	if !ok {
		return "", kv.ErrKeyNotFound
	}
	return value, nil
}

func (b *Backend) Set(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.size + len(key) + len(value)
	if old, ok := b.entries[key]; ok {
		next -= len(key) + len(old)
	}
	if b.capacity > 0 && next > b.capacity {
		return kv.ErrQuotaExceeded
	}
	b.entries[key] = value
	b.size = next
	return nil
}

func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.entries[key]; ok {
		b.size -= len(key) + len(old)
		delete(b.entries, key)
	}
	return nil
}

func (b *Backend) Keys(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
