package pgvector

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/model"
	"github.com/chirino/conversation-service/internal/plugin/store/postgres"
	registrymigrate "github.com/chirino/conversation-service/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	registryvector "github.com/chirino/conversation-service/internal/registry/vector"
	"github.com/chirino/conversation-service/internal/testutil/testpg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaForSubstitutesDimension(t *testing.T) {
	sql := schemaFor(384)
	assert.Contains(t, sql, "vector(384)")
	assert.NotContains(t, sql, "{{DIMENSION}}")
}

func TestSearchThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DBURL = testpg.NewDatabase(t)
	cfg.OpenAIDimensions = 3
	ctx := config.WithContext(context.Background(), &cfg)

	_ = postgres.ForceImport
	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)
	repo, err := loader(ctx)
	require.NoError(t, err)

	ts := time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)
	summary := "caller wanted a refund"
	_, err = repo.SaveConversations(ctx, []model.Conversation{
		{ExternalID: "x", CreatedAt: ts, Summary: &summary, Messages: []model.Message{{Speaker: model.RoleUser, Text: "hi", Timestamp: &ts}}},
		{ExternalID: "y", CreatedAt: ts, Messages: []model.Message{{Speaker: model.RoleUser, Text: "hi", Timestamp: &ts}}},
	})
	require.NoError(t, err)

	vs, err := load(ctx)
	require.NoError(t, err)
	require.NoError(t, vs.Upsert(ctx, []registryvector.UpsertRequest{
		{ExternalID: "x", Embedding: []float32{1, 0, 0}, ModelName: "test"},
		{ExternalID: "y", Embedding: []float32{0, 1, 0}, ModelName: "test"},
	}))

	matches, err := vs.Search(ctx, []float32{1, 0, 0}, model.DateRange{}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "x", matches[0].ExternalID)
	assert.Equal(t, summary, matches[0].Summary)
	assert.Greater(t, matches[0].Score, 0.5)

	matches, err = vs.Search(ctx, []float32{1, 0, 0}, model.DateRange{}, 5, 1.01)
	require.NoError(t, err)
	assert.Empty(t, matches)

	later := ts.AddDate(0, 0, 1)
	matches, err = vs.Search(ctx, []float32{1, 0, 0}, model.DateRange{Start: &later}, 5, 0.5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
