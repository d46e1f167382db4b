package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ContactCache remembers which target-platform contact id belongs to a
// normalized tax code, saving a lookup round trip per repeat customer.
// A miss is never an error: the orchestrator falls through to the target
// API and repopulates the entry.
type ContactCache interface {
	// Get returns the cached contact id for a tax code, and whether one
	// was present.
	Get(ctx context.Context, code string) (string, bool)

	// Put records the contact id for a tax code.
	Put(ctx context.Context, code, contactID string)

	// Close releases any resources held by the cache.
	Close() error
}

// Options selects and configures a cache backend.
type Options struct {
	Backend  string // "memory" or "redis"
	TTL      time.Duration
	Host     string
	Port     int
	Password string
	DB       int
}

// New builds the configured cache backend. The in-memory backend is the
// default and needs no external services; Redis shares entries across
// replicas and process restarts.
func New(opts Options, logger *zap.Logger) (ContactCache, error) {
	switch opts.Backend {
	case "", "memory":
		return NewInMemoryContactCache(opts.TTL), nil
	case "redis":
		return NewRedisContactCache(opts, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}
