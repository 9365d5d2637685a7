package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Fallback wraps a durable KV and degrades to in-memory storage after the
// first backend failure. Once degraded it stays degraded for the remainder
// of the process, so a broken store never takes the pipeline down with it.
type Fallback struct {
	mu       sync.Mutex
	primary  KV
	memory   *Memory
	degraded bool
	log      *slog.Logger
}

// NewFallback wraps primary with in-memory degradation.
func NewFallback(primary KV, log *slog.Logger) *Fallback {
	return &Fallback{primary: primary, memory: NewMemory(), log: log}
}

// Degraded reports whether the wrapper has switched to in-memory mode.
func (f *Fallback) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

func (f *Fallback) backend() KV {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.degraded {
		return f.memory
	}
	return f.primary
}

func (f *Fallback) degrade(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.degraded {
		return
	}
	f.degraded = true
	if f.log != nil {
		f.log.Warn("persistent store unavailable, continuing in-memory", "op", op, "error", err)
	}
}

// Get returns the value for key or ErrNotFound.
func (f *Fallback) Get(ctx context.Context, key string) (string, error) {
	value, err := f.backend().Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		f.degrade("get", err)
		return f.memory.Get(ctx, key)
	}
	return value, err
}

// Set stores value under key, falling back to memory on backend failure.
func (f *Fallback) Set(ctx context.Context, key, value string) error {
	if err := f.backend().Set(ctx, key, value); err != nil {
		f.degrade("set", err)
		return f.memory.Set(ctx, key, value)
	}
	return nil
}

// Delete removes key, falling back to memory on backend failure.
func (f *Fallback) Delete(ctx context.Context, key string) error {
	if err := f.backend().Delete(ctx, key); err != nil {
		f.degrade("delete", err)
		return f.memory.Delete(ctx, key)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (f *Fallback) DeletePrefix(ctx context.Context, prefix string) error {
	if err := f.backend().DeletePrefix(ctx, prefix); err != nil {
		f.degrade("delete_prefix", err)
		return f.memory.DeletePrefix(ctx, prefix)
	}
	return nil
}

// Close closes the wrapped primary store.
func (f *Fallback) Close() error {
	return f.primary.Close()
}
