package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/lrucache"
	registrycache "github.com/chirino/conversation-service/internal/registry/cache"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "memory",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ResultCache, error) {
	cc := config.DefaultConfig().QueryCache
	if cfg := config.FromContext(ctx); cfg != nil {
		cc = cfg.QueryCache
	}
	return New(cc.Capacity, cc.TTL)
}

// New creates an in-process ResultCache bounded to capacity entries.
func New(capacity int, ttl time.Duration, opts ...lrucache.Option) (registrycache.ResultCache, error) {
	store, err := lrucache.New[[]byte]("query", capacity, ttl, opts...)
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	return &memoryResultCache{store: store}, nil
}

// Values are held JSON encoded so callers never share mutable state with the cache.
type memoryResultCache struct {
	store *lrucache.Store[[]byte]
}

func (c *memoryResultCache) Available() bool { return true }

func (c *memoryResultCache) Get(_ context.Context, key string, dest any) (bool, error) {
	data, ok := c.store.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.store.Invalidate(key)
		return false, err
	}
	return true, nil
}

func (c *memoryResultCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.store.Put(key, data, ttl)
	return nil
}

func (c *memoryResultCache) Remove(_ context.Context, key string) error {
	c.store.Invalidate(key)
	return nil
}

func (c *memoryResultCache) Clear(_ context.Context) error {
	c.store.InvalidateAll()
	return nil
}

var _ registrycache.ResultCache = (*memoryResultCache)(nil)
