package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/utils"
)

// Entry is the persisted envelope. Timestamp is the write time in Unix
// milliseconds.
type Entry[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

type Fetcher[T any] func(ctx context.Context) (T, error)

type Option func(*options)

type options struct {
	now     func() time.Time
	metrics types.MetricsManager
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(o *options) { o.metrics = metrics }
}

// Timed caches values of a single type under arbitrary keys. An entry is
// fresh while now - timestamp < ttl; anything else, including an entry that
// cannot be decoded, reads as a miss.
type Timed[T any] struct {
	name    string
	store   types.Store
	ttl     time.Duration
	logger  types.Logger
	now     func() time.Time
	metrics types.MetricsManager
}

func NewTimed[T any](name string, store types.Store, ttl time.Duration, logger types.Logger, opts ...Option) (*Timed[T], error) {
	if ttl <= 0 {
		return nil, types.Errorf(types.ErrCacheTTLInvalid, "%s: %s", name, ttl)
	}

	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	return &Timed[T]{
		name:    name,
		store:   store,
		ttl:     ttl,
		logger:  logger,
		now:     o.now,
		metrics: o.metrics,
	}, nil
}

// Read returns the cached value and true only for a fresh entry.
func (c *Timed[T]) Read(ctx context.Context, key string) (T, bool) {
	var zero T

	if key == "" {
		return zero, false
	}

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache read failed", zap.String("cache", c.name), zap.String("key", key), zap.Error(err))
		c.record("error")
		return zero, false
	}
	if !ok {
		c.record("miss")
		return zero, false
	}

	var entry Entry[T]
	if err := utils.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("Cache entry corrupted",
			zap.String("cache", c.name),
			zap.String("key", key),
			zap.Error(types.WrapError(types.ErrCacheEntryCorrupted, err.Error())))
		c.record("corrupted")
		return zero, false
	}

	age := c.now().Sub(time.UnixMilli(entry.Timestamp))
	if age >= c.ttl {
		c.record("expired")
		return zero, false
	}

	c.record("hit")
	return entry.Data, true
}

// Write stores data stamped with the current time, replacing any previous
// entry for key.
func (c *Timed[T]) Write(ctx context.Context, key string, data T) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	raw, err := utils.Marshal(Entry[T]{Data: data, Timestamp: c.now().UnixMilli()})
	if err != nil {
		return types.WrapError(types.ErrCacheOperationFailed, err.Error())
	}

	if err := c.store.Set(ctx, key, raw); err != nil {
		return types.WrapError(types.ErrCacheOperationFailed, err.Error())
	}

	return nil
}

func (c *Timed[T]) Invalidate(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if err := c.store.Delete(ctx, key); err != nil {
		return types.WrapError(types.ErrCacheOperationFailed, err.Error())
	}

	c.record("invalidated")
	return nil
}

// Fetch serves a fresh entry when present and otherwise calls fetcher,
// caching only a successful result.
func (c *Timed[T]) Fetch(ctx context.Context, key string, fetcher Fetcher[T]) (T, error) {
	if data, ok := c.Read(ctx, key); ok {
		return data, nil
	}

	return c.Refresh(ctx, key, fetcher)
}

// Refresh bypasses the cached entry and stores the fetcher result on success.
func (c *Timed[T]) Refresh(ctx context.Context, key string, fetcher Fetcher[T]) (T, error) {
	var zero T

	if fetcher == nil {
		return zero, types.ErrCacheFetcherIsNil
	}

	data, err := fetcher(ctx)
	if err != nil {
		return zero, err
	}

	if err := c.Write(ctx, key, data); err != nil {
		c.logger.Warn("Cache write failed", zap.String("cache", c.name), zap.String("key", key), zap.Error(err))
	}

	return data, nil
}

func (c *Timed[T]) record(result string) {
	if c.metrics == nil {
		return
	}

	c.metrics.Counter("cache_requests_total", map[string]string{
		"cache":  c.name,
		"result": result,
	}).Inc()
}
