// Package cache implements the server-state cache: staleness windows,
// transient-failure retry with exponential backoff, optimistic updates, and
// environment-signal invalidation.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fleetform/console/internal/metrics"
)

// Collection-level keys reconciled with the server on focus and reconnect.
const (
	KeyDeployments = "deployments"
	KeyAnalytics   = "analytics"
)

// DeploymentKey returns the cache key for a single deployment record.
func DeploymentKey(id string) string {
	return "deployment:" + id
}

// Signal is an environment event that triggers staleness recovery.
type Signal int

// Environment signals.
const (
	SignalFocus Signal = iota
	SignalReconnect
)

func (s Signal) String() string {
	switch s {
	case SignalFocus:
		return "focus"
	case SignalReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// PermanentError marks failures that must never be retried, such as HTTP
// 404 and 401 responses.
type PermanentError interface {
	error
	Permanent() bool
}

// IsPermanent reports whether err carries a permanent classification.
func IsPermanent(err error) bool {
	var perm PermanentError
	return errors.As(err, &perm) && perm.Permanent()
}

// entry is the cached state for one resource key. Its mutex serializes all
// loads and writes for that key.
type entry struct {
	mu         sync.Mutex
	data       any
	fetchedAt  time.Time
	staleAt    time.Time
	retryCount int
	valid      bool
}

// Cache holds server-fetched resources keyed by logical resource name.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*entry
	staleTime   time.Duration
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	collections []string
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
	log         *slog.Logger
	metrics     *metrics.Metrics
}

// Option customises cache construction.
type Option func(*Cache)

// WithStaleTime overrides the default 60s freshness window.
func WithStaleTime(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.staleTime = d
		}
	}
}

// WithMaxRetries overrides the transient-failure retry budget.
func WithMaxRetries(n int) Option {
	return func(c *Cache) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff overrides the retry delay schedule.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Cache) {
		if base > 0 {
			c.baseDelay = base
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

// WithCollections overrides the keys invalidated by environment signals.
func WithCollections(keys ...string) Option {
	return func(c *Cache) {
		c.collections = keys
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleeper injects the retry delay function for tests.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Cache) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New constructs a cache. Tests should build their own instance rather
// than sharing one.
func New(log *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		entries:     make(map[string]*entry),
		staleTime:   60 * time.Second,
		maxRetries:  3,
		baseDelay:   time.Second,
		maxDelay:    30 * time.Second,
		collections: []string{KeyDeployments, KeyAnalytics},
		now:         time.Now,
		log:         log,
	}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) entryFor(key string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

// Fetch returns the cached value for key while it is fresh; otherwise it
// invokes loader under the cache's retry policy. Transient failures are
// retried with delays of min(base<<n, max) until the entry's retry budget
// is exhausted; permanent failures are returned immediately. A successful
// load resets the entry's retry counter and freshness window.
func Fetch[T any](ctx context.Context, c *Cache, key string, loader func(context.Context) (T, error)) (T, error) {
	e := c.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.valid && c.now().Before(e.staleAt) {
		if value, ok := e.data.(T); ok {
			c.metrics.CacheRequest("hit")
			return value, nil
		}
	}
	c.metrics.CacheRequest("miss")

	var zero T
	for {
		value, err := loader(ctx)
		if err == nil {
			now := c.now()
			e.data = value
			e.fetchedAt = now
			e.staleAt = now.Add(c.staleTime)
			e.retryCount = 0
			e.valid = true
			return value, nil
		}
		if IsPermanent(err) {
			c.log.Warn("loader failed permanently", "key", key, "error", err)
			return zero, err
		}
		if e.retryCount >= c.maxRetries {
			c.log.Warn("loader retry budget exhausted", "key", key, "retries", e.retryCount, "error", err)
			return zero, err
		}
		delay := backoffDelay(c.baseDelay, c.maxDelay, e.retryCount)
		e.retryCount++
		c.metrics.CacheRetry()
		c.log.Debug("loader failed, retrying", "key", key, "attempt", e.retryCount, "delay", delay, "error", err)
		if serr := c.sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}
}

// Peek returns the current cached value for key without consulting the
// loader or the freshness window.
func Peek[T any](c *Cache, key string) (T, bool) {
	e := c.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	var zero T
	if !e.valid {
		return zero, false
	}
	value, ok := e.data.(T)
	if !ok {
		return zero, false
	}
	return value, true
}

// SetOptimistic applies updater to the current value for key without a
// network round-trip, so in-flight state is visible immediately. The
// updater receives nil when nothing is cached yet and must be idempotent
// under repeated application with the same input.
func (c *Cache) SetOptimistic(key string, updater func(old any) any) {
	e := c.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data = updater(e.data)
	e.valid = true
}

// Invalidate forces the next Fetch for key to bypass staleness and re-run
// its loader.
func (c *Cache) Invalidate(key string) {
	e := c.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.staleAt = time.Time{}
}

// InvalidatePrefix invalidates every key starting with prefix.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	var matched []*entry
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, e)
		}
	}
	c.mu.Unlock()
	for _, e := range matched {
		e.mu.Lock()
		e.staleAt = time.Time{}
		e.mu.Unlock()
	}
}

// HandleSignal invalidates the collection-level keys so the next Fetch
// reconciles them with the server after the environment regains focus or
// network connectivity.
func (c *Cache) HandleSignal(sig Signal) {
	for _, key := range c.collections {
		c.Invalidate(key)
	}
	c.log.Debug("environment signal processed", "signal", sig.String(), "invalidated", len(c.collections))
}

// backoffDelay computes min(base<<attempt, max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base << attempt
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}
