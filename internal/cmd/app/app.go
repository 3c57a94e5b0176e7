// Package app builds the service components shared by the CLI commands from
// a Config.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/metrics"
	"github.com/chirino/conversation-service/internal/model"
	"github.com/chirino/conversation-service/internal/plugin/store/cached"
	storemetrics "github.com/chirino/conversation-service/internal/plugin/store/metrics"
	registrycache "github.com/chirino/conversation-service/internal/registry/cache"
	registrychat "github.com/chirino/conversation-service/internal/registry/chat"
	registryembed "github.com/chirino/conversation-service/internal/registry/embed"
	registrymigrate "github.com/chirino/conversation-service/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	registryvector "github.com/chirino/conversation-service/internal/registry/vector"
	"github.com/chirino/conversation-service/internal/remote"
	"github.com/chirino/conversation-service/internal/service"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/conversation-service/internal/plugin/cache/memory"
	_ "github.com/chirino/conversation-service/internal/plugin/cache/noop"
	_ "github.com/chirino/conversation-service/internal/plugin/cache/redis"
	_ "github.com/chirino/conversation-service/internal/plugin/chat/openai"
	_ "github.com/chirino/conversation-service/internal/plugin/embed/local"
	_ "github.com/chirino/conversation-service/internal/plugin/embed/openai"
	_ "github.com/chirino/conversation-service/internal/plugin/store/postgres"
	_ "github.com/chirino/conversation-service/internal/plugin/store/sqlite"
	_ "github.com/chirino/conversation-service/internal/plugin/vector/pgvector"
	_ "github.com/chirino/conversation-service/internal/plugin/vector/qdrant"
	_ "github.com/chirino/conversation-service/internal/plugin/vector/sqlitevec"
)

// Components are the wired services.
type Components struct {
	Config     *config.Config
	Repo       registrystore.ConversationRepository
	Index      *service.EmbeddingIndex
	Backfiller *service.Backfiller
	// Sync is nil when no platform URL is configured.
	Sync     *service.SyncEngine
	Answerer *service.QueryAnswerer
	// Ping checks the database; nil when the store cannot be pinged.
	Ping func(ctx context.Context) error
}

// Prepare applies environment-only settings, the log level and the metric
// labels. Commands call it before Build.
func Prepare(cfg *config.Config) error {
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	log.SetLevel(level)

	labels, err := metrics.ParseLabels(cfg.MetricsLabels)
	if err != nil {
		return fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	metrics.Init(labels)
	return nil
}

func enabled(kind string) bool {
	kind = strings.TrimSpace(kind)
	return kind != "" && kind != "none"
}

// Build runs the migrations and constructs every component. Optional
// dependencies that fail to load are logged and left disabled; the store is
// required.
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	ctx = config.WithContext(ctx, cfg)

	if cfg.DatastoreMigrateAtStart || cfg.VectorMigrateAtStart {
		if err := registrymigrate.RunAll(ctx); err != nil {
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
	}

	// Initialize the query result cache and inject it into context.
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if results, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		ctx = registrycache.WithResultCacheContext(ctx, results)
	}

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	base, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	c := &Components{Config: cfg}
	if p, ok := base.(interface{ Ping(context.Context) error }); ok {
		c.Ping = p.Ping
	}
	caches, err := cached.NewCaches(cfg, registrycache.ResultCacheFromContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize caches: %w", err)
	}
	c.Repo = cached.Wrap(storemetrics.Wrap(base), caches)

	var embedder registryembed.Embedder
	if enabled(cfg.EmbedType) {
		if embedLoader, err := registryembed.Select(cfg.EmbedType); err != nil {
			log.Warn("Embedder not available", "err", err)
		} else if embedder, err = embedLoader(ctx); err != nil {
			log.Warn("Failed to initialize embedder", "err", err)
			embedder = nil
		}
	}

	var vectors registryvector.VectorStore
	if enabled(cfg.VectorType) {
		if embedder == nil {
			return nil, fmt.Errorf("vector store %q requires an embedding provider: set --embedding-kind to a value other than 'none'", cfg.VectorType)
		}
		if vectorLoader, err := registryvector.Select(cfg.VectorType); err != nil {
			log.Warn("Vector store not available", "err", err)
		} else if vectors, err = vectorLoader(ctx); err != nil {
			log.Warn("Failed to initialize vector store", "err", err)
			vectors = nil
		}
	}

	var chat registrychat.ChatCompleter
	if enabled(cfg.ChatType) {
		if chatLoader, err := registrychat.Select(cfg.ChatType); err != nil {
			log.Warn("Chat completion not available", "err", err)
		} else if chat, err = chatLoader(ctx); err != nil {
			log.Warn("Failed to initialize chat completion", "err", err)
			chat = nil
		}
	}

	c.Index = service.NewEmbeddingIndex(embedder, vectors, c.Repo,
		service.WithTokenizer(service.DefaultTokenizer()),
		service.WithMaxInputTokens(cfg.EmbedMaxInputTokens),
	)
	c.Backfiller = service.NewBackfiller(c.Repo, c.Index, cfg.BackfillBatchSize, cfg.BackfillInterval)
	c.Answerer = service.NewQueryAnswerer(c.Index, chat, service.AnswerOptions{
		Threshold:   cfg.RAGSimilarityThreshold,
		MatchLimit:  cfg.RAGMatchLimit,
		Temperature: cfg.ChatTemperature,
		MaxTokens:   cfg.ChatMaxTokens,
		Timeout:     cfg.RAGTimeout,
	})

	if strings.TrimSpace(cfg.PlatformBaseURL) != "" {
		c.Sync = service.NewSyncEngine(c.Repo, remote.FromConfig(cfg),
			service.WithBatchSize(cfg.SyncBatchSize),
			service.WithConcurrency(cfg.PlatformConcurrency),
			service.WithAfterRun(func(context.Context, *model.SyncRun) { c.Backfiller.Trigger() }),
		)
	}

	log.Info("Components ready",
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"vector", cfg.VectorType,
		"embedding", cfg.EmbedType,
		"chat", cfg.ChatType,
		"semantic", c.Index.Enabled(),
		"sync", c.Sync != nil,
	)
	return c, nil
}
