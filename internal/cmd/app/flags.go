package app

import (
	"strings"

	"github.com/chirino/conversation-service/internal/config"
	registrycache "github.com/chirino/conversation-service/internal/registry/cache"
	registrychat "github.com/chirino/conversation-service/internal/registry/chat"
	registryembed "github.com/chirino/conversation-service/internal/registry/embed"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	registryvector "github.com/chirino/conversation-service/internal/registry/vector"
	"github.com/urfave/cli/v3"
)

// Flags returns the flags shared by every command that opens the repository.
func Flags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{

		// ── Logging ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "log-level",
			Category:    "Logging:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_LOG_LEVEL"),
			Destination: &cfg.LogLevel,
			Value:       cfg.LogLevel,
			Usage:       "Log level (debug|info|warn|error)",
		},

		// ── Database ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL, or a file path for sqlite",
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Query result cache (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},

		// ── Vector Store ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "vector-kind",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_VECTOR_KIND"),
			Destination: &cfg.VectorType,
			Value:       cfg.VectorType,
			Usage:       "Vector store (none|" + strings.Join(registryvector.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "vector-qdrant-host",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_VECTOR_QDRANT_HOST"),
			Destination: &cfg.QdrantHost,
			Value:       cfg.QdrantAddress(),
			Usage:       "Qdrant host or host:port",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (none|" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key used for embeddings and chat completion",
		},

		// ── Chat ──────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "chat-kind",
			Category:    "Chat:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_CHAT_KIND"),
			Destination: &cfg.ChatType,
			Value:       cfg.ChatType,
			Usage:       "Chat completion provider (none|" + strings.Join(registrychat.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "chat-model",
			Category:    "Chat:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_CHAT_MODEL"),
			Destination: &cfg.ChatModelName,
			Value:       cfg.ChatModelName,
			Usage:       "Chat completion model name",
		},
		&cli.FloatFlag{
			Name:        "chat-temperature",
			Category:    "Chat:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_CHAT_TEMPERATURE"),
			Destination: &cfg.ChatTemperature,
			Value:       cfg.ChatTemperature,
			Usage:       "Sampling temperature for answers",
		},
		&cli.IntFlag{
			Name:        "chat-max-tokens",
			Category:    "Chat:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_CHAT_MAX_TOKENS"),
			Destination: &cfg.ChatMaxTokens,
			Value:       cfg.ChatMaxTokens,
			Usage:       "Maximum tokens in a generated answer",
		},

		// ── Retrieval ─────────────────────────────────────────────
		&cli.FloatFlag{
			Name:        "rag-similarity-threshold",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_RAG_SIMILARITY_THRESHOLD"),
			Destination: &cfg.RAGSimilarityThreshold,
			Value:       cfg.RAGSimilarityThreshold,
			Usage:       "Minimum cosine similarity for a conversation to be used as context",
		},
		&cli.IntFlag{
			Name:        "rag-match-limit",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_RAG_MATCH_LIMIT"),
			Destination: &cfg.RAGMatchLimit,
			Value:       cfg.RAGMatchLimit,
			Usage:       "Maximum number of conversations used as context",
		},

		// ── Platform ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "platform-url",
			Category:    "Platform:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_PLATFORM_URL"),
			Destination: &cfg.PlatformBaseURL,
			Value:       cfg.PlatformBaseURL,
			Usage:       "Base URL of the conversational AI platform API",
		},
		&cli.StringFlag{
			Name:        "platform-api-key",
			Category:    "Platform:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_PLATFORM_API_KEY"),
			Destination: &cfg.PlatformAPIKey,
			Usage:       "Platform API key; sync is disabled when unset",
		},
		&cli.IntFlag{
			Name:        "platform-page-size",
			Category:    "Platform:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_PLATFORM_PAGE_SIZE"),
			Destination: &cfg.PlatformPageSize,
			Value:       cfg.PlatformPageSize,
			Usage:       "Conversations requested per list page",
		},
		&cli.IntFlag{
			Name:        "platform-retries",
			Category:    "Platform:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_PLATFORM_RETRIES"),
			Destination: &cfg.PlatformRetries,
			Value:       cfg.PlatformRetries,
			Usage:       "Retries for rate limited or failed platform requests",
		},
		&cli.FloatFlag{
			Name:        "platform-rate-limit",
			Category:    "Platform:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_PLATFORM_RATE_LIMIT"),
			Destination: &cfg.PlatformRateLimit,
			Value:       cfg.PlatformRateLimit,
			Usage:       "Outbound platform requests per second (0 = unlimited)",
		},
		&cli.IntFlag{
			Name:        "platform-concurrency",
			Category:    "Platform:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_PLATFORM_CONCURRENCY"),
			Destination: &cfg.PlatformConcurrency,
			Value:       cfg.PlatformConcurrency,
			Usage:       "Concurrent conversation detail fetches",
		},

		// ── Sync ──────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "sync-batch-size",
			Category:    "Sync:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_SYNC_BATCH_SIZE"),
			Destination: &cfg.SyncBatchSize,
			Value:       cfg.SyncBatchSize,
			Usage:       "Conversations persisted per transaction",
		},
		&cli.IntFlag{
			Name:        "backfill-batch-size",
			Category:    "Sync:",
			Sources:     cli.EnvVars("CONVERSATION_SERVICE_BACKFILL_BATCH_SIZE"),
			Destination: &cfg.BackfillBatchSize,
			Value:       cfg.BackfillBatchSize,
			Usage:       "Conversations embedded per backfill batch",
		},
	}
}
