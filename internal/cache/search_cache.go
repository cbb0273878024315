// Package cache holds the time-bounded search result cache.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/synesthesie/imagemeta/internal/apperr"
)

// Default lifetimes of cached entries.
const (
	DefaultResultsTTL = 60 * time.Second
	DefaultCountTTL   = 120 * time.Second
)

// Key prefixes separating result pages from totals.
const (
	KindResults = "results"
	KindCount   = "count"
)

// Backend stores opaque values with an expiry. A miss is reported as
// (nil, false, nil); errors mean the backend itself failed.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	InvalidateAll(ctx context.Context) error
}

// Config holds the entry lifetimes.
type Config struct {
	ResultsTTL time.Duration
	CountTTL   time.Duration
}

// SearchCache caches search result pages and totals keyed by the compiled
// filter. Every backend failure is returned as apperr.StorageUnavailable so
// callers can bypass the cache.
type SearchCache struct {
	backend Backend
	cfg     Config
}

// New wraps backend. Zero TTLs fall back to the defaults.
func New(backend Backend, cfg Config) *SearchCache {
	if cfg.ResultsTTL <= 0 {
		cfg.ResultsTTL = DefaultResultsTTL
	}
	if cfg.CountTTL <= 0 {
		cfg.CountTTL = DefaultCountTTL
	}
	return &SearchCache{backend: backend, cfg: cfg}
}

// TTL returns the lifetime used for entries of the given kind.
func (c *SearchCache) TTL(kind string) time.Duration {
	if kind == KindCount {
		return c.cfg.CountTTL
	}
	return c.cfg.ResultsTTL
}

// Get decodes the entry stored under key into dst and reports whether it
// was present.
func (c *SearchCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		return false, apperr.StorageUnavailable.Wrap(err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, apperr.StorageUnavailable.New("corrupt cache entry: %v", err)
	}
	return true, nil
}

// Set stores value under key for ttl.
func (c *SearchCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apperr.StorageUnavailable.New("encode cache entry: %v", err)
	}
	if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		return apperr.StorageUnavailable.Wrap(err)
	}
	return nil
}

// InvalidateAll drops every entry.
func (c *SearchCache) InvalidateAll(ctx context.Context) error {
	if err := c.backend.InvalidateAll(ctx); err != nil {
		return apperr.StorageUnavailable.Wrap(err)
	}
	return nil
}
