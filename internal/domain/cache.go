package domain

import (
	"context"
	"time"
)

// Cache caches scored responses and alert-rate counters so the dashboard
// polling path does not hit the repository on every request.
type Cache interface {
	// Get retrieves a value. Returns nil, nil if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// GetExport retrieves a cached alert export document.
	GetExport(ctx context.Context, key string) (*AlertExport, error)

	// SetExport caches an alert export document.
	SetExport(ctx context.Context, key string, doc *AlertExport, ttl time.Duration) error

	// IncrementCounter atomically increments a windowed counter and returns
	// the new value. Used to track alert rates per batch or distributor.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}
