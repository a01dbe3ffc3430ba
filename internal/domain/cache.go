package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetCorpus retrieves the cached active corpus of one source.
	// Returns nil, nil on a miss.
	GetCorpus(ctx context.Context, source string) ([]*WatchlistEntry, error)

	// SetCorpus caches the active corpus of one source.
	SetCorpus(ctx context.Context, source string, entries []*WatchlistEntry, ttl time.Duration) error

	// InvalidateCorpus drops the cached corpus of one source.
	InvalidateCorpus(ctx context.Context, source string) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for per-source fetch failure backoff.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `json:"localMaxSize"`
	LocalTTL     time.Duration `json:"localTtl"`

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"redisPassword"`
	RedisDB       int    `json:"redisDb"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase"` // If true, check local first, then Redis

	// CorpusTTL bounds how stale a cached corpus snapshot may be.
	CorpusTTL time.Duration `json:"corpusTtl"`
}
