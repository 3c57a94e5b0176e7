package config

import (
	"context"
	"strings"
	"time"
)

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// CacheConfig sizes one in-process LRU cache.
type CacheConfig struct {
	Capacity int
	TTL      time.Duration
}

// Config holds all configuration for the conversation service.
type Config struct {
	// Database
	DatastoreType           string // "postgres" or "sqlite"
	DBURL                   string
	DatastoreMigrateAtStart bool
	DBMaxOpenConns          int
	DBMaxIdleConns          int

	// ListHardCap bounds how many conversation ids a single list or stats
	// query loads before sorting in process.
	ListHardCap int

	// Cache backend for derived query results: "memory", "redis" or "none".
	CacheType string
	RedisURL  string

	// In-process caches.
	MetadataCache     CacheConfig
	ConversationCache CacheConfig
	QueryCache        CacheConfig

	// Vector store type: "pgvector", "sqlitevec", "qdrant" or "" (disabled).
	VectorType           string
	VectorMigrateAtStart bool

	// Qdrant
	QdrantHost             string
	QdrantPort             int
	QdrantCollectionPrefix string
	QdrantCollectionName   string
	QdrantAPIKey           string
	QdrantUseTLS           bool
	QdrantStartupTimeout   time.Duration

	// Embedding type: "none", "local" or "openai".
	EmbedType string

	// EmbedMaxInputTokens is the token budget for a single embedding input.
	EmbedMaxInputTokens int

	// OpenAI (shared by the embedding and chat plugins).
	OpenAIAPIKey     string
	OpenAIModelName  string
	OpenAIBaseURL    string
	OpenAIDimensions int

	// Chat completion type: "none" or "openai".
	ChatType        string
	ChatModelName   string
	ChatTemperature float64
	ChatMaxTokens   int

	// Retrieval
	RAGSimilarityThreshold float64
	RAGMatchLimit          int
	RAGTimeout             time.Duration

	// Remote conversational-AI platform.
	PlatformBaseURL     string
	PlatformAPIKey      string
	PlatformPageSize    int
	PlatformMaxPages    int
	PlatformRetries     int
	PlatformRateLimit   float64 // requests per second, 0 disables pacing
	PlatformTimeout     time.Duration
	PlatformConcurrency int

	// Sync
	SyncBatchSize int

	// Background embedding backfill.
	BackfillBatchSize int
	BackfillInterval  time.Duration

	// Server
	Listener ListenerConfig

	// ManagementListener serves /health, /ready and /metrics on a dedicated
	// port when ManagementListenerEnabled is set.
	ManagementListener        ListenerConfig
	ManagementListenerEnabled bool
	ManagementAccessLog       bool

	// CORSOrigins is a comma-separated list of dashboard origins; empty disables CORS.
	CORSOrigins string
	// MaxBodySize limits JSON request bodies in bytes.
	MaxBodySize int64

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// DrainTimeout bounds how long shutdown waits for in-flight requests.
	DrainTimeout time.Duration

	LogLevel string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		ListHardCap:             10000,
		CacheType:               "memory",
		MetadataCache:           CacheConfig{Capacity: 2048, TTL: 30 * time.Minute},
		ConversationCache:       CacheConfig{Capacity: 256, TTL: 30 * time.Minute},
		QueryCache:              CacheConfig{Capacity: 512, TTL: 5 * time.Minute},
		VectorType:              "pgvector",
		VectorMigrateAtStart:    true,
		QdrantHost:              "localhost",
		QdrantPort:              6334,
		QdrantCollectionPrefix:  "conversation-service",
		QdrantStartupTimeout:    30 * time.Second,
		EmbedType:               "local",
		EmbedMaxInputTokens:     8191,
		OpenAIModelName:         "text-embedding-3-small",
		OpenAIBaseURL:           "https://api.openai.com/v1",
		ChatType:                "none",
		ChatModelName:           "gpt-4o-mini",
		ChatTemperature:         0.2,
		ChatMaxTokens:           600,
		RAGSimilarityThreshold:  0.3,
		RAGMatchLimit:           10,
		RAGTimeout:              60 * time.Second,
		PlatformBaseURL:         "https://api.elevenlabs.io",
		PlatformPageSize:        100,
		PlatformMaxPages:        200,
		PlatformRetries:         3,
		PlatformRateLimit:       5,
		PlatformTimeout:         30 * time.Second,
		PlatformConcurrency:     4,
		SyncBatchSize:           50,
		BackfillBatchSize:       100,
		BackfillInterval:        5 * time.Minute,
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			Port:              9090,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:   1 << 20,
		MetricsLabels: "service=conversation-service",
		DrainTimeout:  30 * time.Second,
		LogLevel:      "info",
	}
}

// EmbeddingDimension returns the vector size produced by the configured embedder.
func (c *Config) EmbeddingDimension() int {
	if c == nil {
		return 1536
	}
	if c.OpenAIDimensions > 0 {
		return c.OpenAIDimensions
	}
	switch strings.ToLower(strings.TrimSpace(c.EmbedType)) {
	case "local":
		return 384
	default:
		return 1536
	}
}

// EmbeddingModel returns the model name of the configured embedder.
func (c *Config) EmbeddingModel() string {
	if c == nil {
		return "text-embedding-3-small"
	}
	switch strings.ToLower(strings.TrimSpace(c.EmbedType)) {
	case "local":
		return "all-minilm-l6-v2"
	case "openai":
		if custom := strings.TrimSpace(c.OpenAIModelName); custom != "" {
			return custom
		}
	}
	return "text-embedding-3-small"
}
