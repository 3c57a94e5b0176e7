package metrics

import (
	"context"
	"time"

	svcmetrics "github.com/chirino/conversation-service/internal/metrics"
	"github.com/chirino/conversation-service/internal/model"
	"github.com/chirino/conversation-service/internal/registry/store"
)

// Wrap returns a ConversationRepository that records StoreLatency for every operation.
func Wrap(inner store.ConversationRepository) store.ConversationRepository {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ConversationRepository
}

func observe(op string, start time.Time) {
	svcmetrics.ObserveStore(op, start)
}

func (m *metricsStore) ListConversations(ctx context.Context, filter store.ListFilter, page store.Page) (*store.ConversationPage, error) {
	defer observe("list_conversations", time.Now())
	return m.inner.ListConversations(ctx, filter, page)
}

func (m *metricsStore) GetConversation(ctx context.Context, externalID string) (*store.ConversationDetail, error) {
	defer observe("get_conversation", time.Now())
	return m.inner.GetConversation(ctx, externalID)
}

func (m *metricsStore) GetDashboardStats(ctx context.Context, filter store.ListFilter) (*store.DashboardStats, error) {
	defer observe("get_dashboard_stats", time.Now())
	return m.inner.GetDashboardStats(ctx, filter)
}

func (m *metricsStore) ListAgents(ctx context.Context) ([]string, error) {
	defer observe("list_agents", time.Now())
	return m.inner.ListAgents(ctx)
}

func (m *metricsStore) SearchSnippets(ctx context.Context, query store.SnippetQuery) (*store.SnippetResults, error) {
	defer observe("search_snippets", time.Now())
	return m.inner.SearchSnippets(ctx, query)
}

func (m *metricsStore) ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	defer observe("existing_external_ids", time.Now())
	return m.inner.ExistingExternalIDs(ctx, ids)
}

func (m *metricsStore) SaveConversations(ctx context.Context, conversations []model.Conversation) (int, error) {
	defer observe("save_conversations", time.Now())
	return m.inner.SaveConversations(ctx, conversations)
}

func (m *metricsStore) ListUnembedded(ctx context.Context, afterID int64, limit int) ([]model.Conversation, error) {
	defer observe("list_unembedded", time.Now())
	return m.inner.ListUnembedded(ctx, afterID, limit)
}

func (m *metricsStore) MarkEmbedded(ctx context.Context, externalID string, modelName string, at time.Time) error {
	defer observe("mark_embedded", time.Now())
	return m.inner.MarkEmbedded(ctx, externalID, modelName, at)
}

func (m *metricsStore) CreateSyncRun(ctx context.Context, run *model.SyncRun) error {
	defer observe("create_sync_run", time.Now())
	return m.inner.CreateSyncRun(ctx, run)
}

func (m *metricsStore) UpdateSyncRun(ctx context.Context, run *model.SyncRun) error {
	defer observe("update_sync_run", time.Now())
	return m.inner.UpdateSyncRun(ctx, run)
}

func (m *metricsStore) LastSuccessfulSyncRun(ctx context.Context) (*model.SyncRun, error) {
	defer observe("last_successful_sync_run", time.Now())
	return m.inner.LastSuccessfulSyncRun(ctx)
}

// ClearCaches forwards to the wrapped repository when it keeps caches.
func (m *metricsStore) ClearCaches(ctx context.Context) {
	if c, ok := m.inner.(store.CacheClearer); ok {
		c.ClearCaches(ctx)
	}
}

var _ store.ConversationRepository = (*metricsStore)(nil)
var _ store.CacheClearer = (*metricsStore)(nil)
