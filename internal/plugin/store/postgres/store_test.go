package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/model"
	"github.com/chirino/conversation-service/internal/plugin/store/postgres"
	registrymigrate "github.com/chirino/conversation-service/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"github.com/chirino/conversation-service/internal/testutil/testpg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (registrystore.ConversationRepository, context.Context) {
	t.Helper()

	dbURL := testpg.NewDatabase(t)

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	ctx := config.WithContext(context.Background(), &cfg)

	// Ensure postgres store plugin is registered
	_ = postgres.ForceImport

	// Run migrations
	err := registrymigrate.RunAll(ctx)
	require.NoError(t, err)

	// Initialize store
	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)

	store, err := loader(ctx)
	require.NoError(t, err)

	return store, ctx
}

func ts(h, m, s int) *time.Time {
	t := time.Date(2024, 5, 10, h, m, s, 0, time.UTC)
	return &t
}

func TestSaveAndGetConversation(t *testing.T) {
	store, ctx := setupTestStore(t)

	added, err := store.SaveConversations(ctx, []model.Conversation{{
		ExternalID: "pg-1",
		CreatedAt:  *ts(9, 0, 0),
		Status:     model.StatusDone,
		AgentID:    "agent-1",
		Messages: []model.Message{
			{Speaker: model.RoleUser, Text: "hello", Timestamp: ts(10, 0, 0)},
			{Speaker: model.RoleAgent, Text: "hi, how can I help", Timestamp: ts(10, 5, 30)},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	got, err := store.GetConversation(ctx, "pg-1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	require.NotNil(t, got.DurationSeconds)
	assert.Equal(t, 330.0, *got.DurationSeconds)

	// Saving the same external id again is a no-op.
	added, err = store.SaveConversations(ctx, []model.Conversation{{ExternalID: "pg-1", CreatedAt: *ts(9, 0, 0)}})
	require.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestListConversationsPaginates(t *testing.T) {
	store, ctx := setupTestStore(t)

	var convs []model.Conversation
	for i := 0; i < 25; i++ {
		convs = append(convs, model.Conversation{
			ExternalID: fmt.Sprintf("c%02d", i),
			CreatedAt:  *ts(8, 0, 0),
			Messages:   []model.Message{{Speaker: model.RoleUser, Text: "x", Timestamp: ts(9, i/2, 0)}},
		})
	}
	_, err := store.SaveConversations(ctx, convs)
	require.NoError(t, err)

	seen := map[string]bool{}
	for offset := 0; offset < 30; offset += 10 {
		page, err := store.ListConversations(ctx, registrystore.ListFilter{}, registrystore.Page{Offset: offset, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 25, page.Total)
		for _, s := range page.Data {
			assert.False(t, seen[s.ExternalID])
			seen[s.ExternalID] = true
		}
	}
	assert.Len(t, seen, 25)
}

func TestDashboardStatsAndSnippets(t *testing.T) {
	store, ctx := setupTestStore(t)
	cost := 2.5
	_, err := store.SaveConversations(ctx, []model.Conversation{{
		ExternalID: "s1",
		CreatedAt:  time.Now().UTC(),
		Status:     model.StatusDone,
		Cost:       &cost,
		Messages: []model.Message{
			{Speaker: model.RoleUser, Text: "Where is my order?", Timestamp: ts(10, 0, 0)},
			{Speaker: model.RoleAgent, Text: "Your order shipped", Timestamp: ts(10, 1, 0)},
		},
	}})
	require.NoError(t, err)

	stats, err := store.GetDashboardStats(ctx, registrystore.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalConversations)
	assert.Equal(t, 1.0, stats.CompletionRate)
	assert.InDelta(t, 2.5, stats.MonthToDateCost, 0.001)

	snippets, err := store.SearchSnippets(ctx, registrystore.SnippetQuery{Terms: []string{"ORDER"}, Speaker: model.SpeakerAgent})
	require.NoError(t, err)
	require.Len(t, snippets.Data, 1)
	assert.Equal(t, "Your order shipped", snippets.Data[0].Text)
}
