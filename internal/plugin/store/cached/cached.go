// Package cached decorates a ConversationRepository with the service caches:
// conversation metadata and full transcripts held in bounded in-process LRU
// stores, and derived query results held in a pluggable ResultCache.
package cached

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/lrucache"
	"github.com/chirino/conversation-service/internal/model"
	registrycache "github.com/chirino/conversation-service/internal/registry/cache"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
)

// Caches holds the cache instances used by the decorator. Each is owned by
// the caller and may be shared with other components.
type Caches struct {
	Metadata      *lrucache.Store[registrystore.ConversationSummary]
	Conversations *lrucache.Store[registrystore.ConversationDetail]
	Results       registrycache.ResultCache
	ResultTTL     time.Duration
}

// NewCaches builds the in-process caches sized by cfg around the given
// result cache. A nil results cache disables result caching.
func NewCaches(cfg *config.Config, results registrycache.ResultCache, opts ...lrucache.Option) (*Caches, error) {
	if cfg == nil {
		d := config.DefaultConfig()
		cfg = &d
	}
	metadata, err := lrucache.New[registrystore.ConversationSummary]("metadata", cfg.MetadataCache.Capacity, cfg.MetadataCache.TTL, opts...)
	if err != nil {
		return nil, err
	}
	conversations, err := lrucache.New[registrystore.ConversationDetail]("conversation", cfg.ConversationCache.Capacity, cfg.ConversationCache.TTL, opts...)
	if err != nil {
		return nil, err
	}
	return &Caches{
		Metadata:      metadata,
		Conversations: conversations,
		Results:       results,
		ResultTTL:     cfg.QueryCache.TTL,
	}, nil
}

// Wrap returns a repository that serves reads from caches and clears them
// after every write that persisted data.
func Wrap(inner registrystore.ConversationRepository, caches *Caches) *Store {
	return &Store{inner: inner, caches: caches}
}

// Store is the caching ConversationRepository.
type Store struct {
	inner  registrystore.ConversationRepository
	caches *Caches
}

func (s *Store) results() registrycache.ResultCache {
	if s.caches.Results == nil || !s.caches.Results.Available() {
		return nil
	}
	return s.caches.Results
}

func (s *Store) lookup(ctx context.Context, key string, dest any) bool {
	rc := s.results()
	if rc == nil {
		return false
	}
	ok, err := rc.Get(ctx, key, dest)
	if err != nil {
		log.Warn("Cache: result lookup failed", "key", key, "err", err)
		return false
	}
	return ok
}

func (s *Store) remember(ctx context.Context, key string, value any) {
	rc := s.results()
	if rc == nil {
		return
	}
	if err := rc.Set(ctx, key, value, s.caches.ResultTTL); err != nil {
		log.Warn("Cache: result store failed", "key", key, "err", err)
	}
}

func (s *Store) rememberSummaries(summaries []registrystore.ConversationSummary) {
	for _, sum := range summaries {
		s.caches.Metadata.Put(sum.ExternalID, sum, 0)
	}
}

func (s *Store) ListConversations(ctx context.Context, filter registrystore.ListFilter, page registrystore.Page) (*registrystore.ConversationPage, error) {
	key := fmt.Sprintf("list:%s|%d|%d", filter.CacheKey(), page.Offset, page.Limit)
	var cachedPage registrystore.ConversationPage
	if s.lookup(ctx, key, &cachedPage) {
		return &cachedPage, nil
	}
	result, err := s.inner.ListConversations(ctx, filter, page)
	if err != nil {
		return result, err
	}
	s.rememberSummaries(result.Data)
	s.remember(ctx, key, result)
	return result, nil
}

func (s *Store) GetConversation(ctx context.Context, externalID string) (*registrystore.ConversationDetail, error) {
	if detail, ok := s.caches.Conversations.Get(externalID); ok {
		return cloneDetail(detail), nil
	}
	detail, err := s.inner.GetConversation(ctx, externalID)
	if err != nil {
		return nil, err
	}
	s.caches.Conversations.Put(externalID, *cloneDetail(*detail), 0)
	s.caches.Metadata.Put(externalID, detail.ConversationSummary, 0)
	return detail, nil
}

// GetSummary returns the cached summary of a conversation when present.
func (s *Store) GetSummary(externalID string) (registrystore.ConversationSummary, bool) {
	return s.caches.Metadata.Get(externalID)
}

func cloneDetail(d registrystore.ConversationDetail) *registrystore.ConversationDetail {
	out := d
	out.Messages = append([]model.Message(nil), d.Messages...)
	if out.Messages == nil {
		out.Messages = []model.Message{}
	}
	return &out
}

func (s *Store) GetDashboardStats(ctx context.Context, filter registrystore.ListFilter) (*registrystore.DashboardStats, error) {
	key := "stats:" + filter.CacheKey()
	var stats registrystore.DashboardStats
	if s.lookup(ctx, key, &stats) {
		return &stats, nil
	}
	result, err := s.inner.GetDashboardStats(ctx, filter)
	if err != nil {
		return result, err
	}
	s.remember(ctx, key, result)
	return result, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]string, error) {
	const key = "agents"
	var agents []string
	if s.lookup(ctx, key, &agents) {
		return agents, nil
	}
	result, err := s.inner.ListAgents(ctx)
	if err != nil {
		return result, err
	}
	s.remember(ctx, key, result)
	return result, nil
}

func (s *Store) SearchSnippets(ctx context.Context, query registrystore.SnippetQuery) (*registrystore.SnippetResults, error) {
	key := fmt.Sprintf("snippets:%s|%s|%d|%d|%s",
		query.Filter.CacheKey(), query.Speaker, query.PerConversation, query.Limit,
		strings.ToLower(strings.Join(query.Terms, "\x1f")))
	var results registrystore.SnippetResults
	if s.lookup(ctx, key, &results) {
		return &results, nil
	}
	result, err := s.inner.SearchSnippets(ctx, query)
	if err != nil {
		return result, err
	}
	s.remember(ctx, key, result)
	return result, nil
}

// ExistingExternalIDs answers from the metadata cache where it can and checks
// the remaining ids with a single repository call. Conversations are never
// deleted, so a cached summary proves the id is persisted.
func (s *Store) ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	var unknown []string
	for _, id := range ids {
		if _, ok := s.caches.Metadata.Get(id); ok {
			existing[id] = true
			continue
		}
		unknown = append(unknown, id)
	}
	if len(unknown) == 0 {
		return existing, nil
	}
	found, err := s.inner.ExistingExternalIDs(ctx, unknown)
	if err != nil {
		return nil, err
	}
	for id := range found {
		existing[id] = true
	}
	return existing, nil
}

func (s *Store) SaveConversations(ctx context.Context, conversations []model.Conversation) (int, error) {
	added, err := s.inner.SaveConversations(ctx, conversations)
	if err != nil {
		return added, err
	}
	if added > 0 {
		s.ClearCaches(ctx)
	}
	return added, nil
}

func (s *Store) ListUnembedded(ctx context.Context, afterID int64, limit int) ([]model.Conversation, error) {
	return s.inner.ListUnembedded(ctx, afterID, limit)
}

func (s *Store) MarkEmbedded(ctx context.Context, externalID string, modelName string, at time.Time) error {
	return s.inner.MarkEmbedded(ctx, externalID, modelName, at)
}

func (s *Store) CreateSyncRun(ctx context.Context, run *model.SyncRun) error {
	return s.inner.CreateSyncRun(ctx, run)
}

func (s *Store) UpdateSyncRun(ctx context.Context, run *model.SyncRun) error {
	return s.inner.UpdateSyncRun(ctx, run)
}

func (s *Store) LastSuccessfulSyncRun(ctx context.Context) (*model.SyncRun, error) {
	return s.inner.LastSuccessfulSyncRun(ctx)
}

// ClearCaches drops every cached entry.
func (s *Store) ClearCaches(ctx context.Context) {
	s.caches.Metadata.InvalidateAll()
	s.caches.Conversations.InvalidateAll()
	if s.caches.Results != nil {
		if err := s.caches.Results.Clear(ctx); err != nil {
			log.Warn("Cache: clearing query results failed", "err", err)
		}
	}
	log.Debug("Cache: cleared")
}

var _ registrystore.ConversationRepository = (*Store)(nil)
var _ registrystore.CacheClearer = (*Store)(nil)
