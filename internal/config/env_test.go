package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv("CONVERSATION_SERVICE_CACHE_QUERY_CAPACITY", "64")
	t.Setenv("CONVERSATION_SERVICE_CACHE_QUERY_TTL", "PT2M")
	t.Setenv("CONVERSATION_SERVICE_CACHE_METADATA_TTL", "90s")
	t.Setenv("CONVERSATION_SERVICE_LIST_HARD_CAP", "500")
	t.Setenv("CONVERSATION_SERVICE_VECTOR_QDRANT_PORT", "7443")
	t.Setenv("CONVERSATION_SERVICE_RAG_TIMEOUT", "PT1M30S")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	require.Equal(t, 64, cfg.QueryCache.Capacity)
	require.Equal(t, 2*time.Minute, cfg.QueryCache.TTL)
	require.Equal(t, 90*time.Second, cfg.MetadataCache.TTL)
	require.Equal(t, 500, cfg.ListHardCap)
	require.Equal(t, 7443, cfg.QdrantPort)
	require.Equal(t, 90*time.Second, cfg.RAGTimeout)
}

func TestApplyEnv_RejectsBadValues(t *testing.T) {
	t.Setenv("CONVERSATION_SERVICE_LIST_HARD_CAP", "lots")

	cfg := DefaultConfig()
	require.Error(t, cfg.ApplyEnv())
}

func TestQdrantAddress_Defaults(t *testing.T) {
	var cfg Config
	require.Equal(t, "localhost:6334", cfg.QdrantAddress())
}

func TestQdrantAddress_UsesPortFromHostWhenProvided(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QdrantHost = "localhost:7443"
	cfg.QdrantPort = 6334

	require.Equal(t, "localhost:7443", cfg.QdrantAddress())
}

func TestQdrantAddress_UsesHostPortFromURLWhenProvided(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QdrantHost = "http://localhost:9443"

	require.Equal(t, "localhost:9443", cfg.QdrantAddress())
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("PT1H5M")
	require.NoError(t, err)
	require.Equal(t, 65*time.Minute, d)

	_, err = parseDuration("P1D")
	require.Error(t, err)
}

func TestEmbeddingDimensionAndModel(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 384, cfg.EmbeddingDimension())
	require.Equal(t, "all-minilm-l6-v2", cfg.EmbeddingModel())

	cfg.EmbedType = "openai"
	require.Equal(t, 1536, cfg.EmbeddingDimension())
	require.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel())

	cfg.OpenAIDimensions = 256
	cfg.OpenAIModelName = "text-embedding-3-large"
	require.Equal(t, 256, cfg.EmbeddingDimension())
	require.Equal(t, "text-embedding-3-large", cfg.EmbeddingModel())
}
