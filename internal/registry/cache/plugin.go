package cache

import (
	"context"
	"fmt"
	"time"
)

type resultCacheKey struct{}

// WithResultCacheContext returns a new context carrying the given ResultCache.
func WithResultCacheContext(ctx context.Context, c ResultCache) context.Context {
	return context.WithValue(ctx, resultCacheKey{}, c)
}

// ResultCacheFromContext retrieves the ResultCache from the context.
// Returns nil if none was set.
func ResultCacheFromContext(ctx context.Context) ResultCache {
	c, _ := ctx.Value(resultCacheKey{}).(ResultCache)
	return c
}

// ResultCache caches derived query results (listings, stats) as JSON values.
type ResultCache interface {
	Available() bool
	// Get decodes the cached value for key into dest. It reports false on a miss.
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Set stores value under key. A zero ttl uses the cache default.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
	// Clear drops every entry owned by this cache.
	Clear(ctx context.Context) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (ResultCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
