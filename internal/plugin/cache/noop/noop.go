package noop

import (
	"context"
	"time"

	"github.com/chirino/conversation-service/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.ResultCache, error) {
			return &noopResultCache{}, nil
		},
	})
}

type noopResultCache struct{}

func (n *noopResultCache) Available() bool { return false }
func (n *noopResultCache) Get(_ context.Context, _ string, _ any) (bool, error) {
	return false, nil
}
func (n *noopResultCache) Set(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}
func (n *noopResultCache) Remove(_ context.Context, _ string) error { return nil }
func (n *noopResultCache) Clear(_ context.Context) error            { return nil }

var _ cache.ResultCache = (*noopResultCache)(nil)
