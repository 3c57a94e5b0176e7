package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/conversation-service/internal/model"
)

// SimilarityMatch is a conversation whose embedding is close to a query vector.
type SimilarityMatch struct {
	ExternalID string  `json:"externalId"`
	Summary    string  `json:"summary"`
	Score      float64 `json:"score"`
}

// UpsertRequest holds the data for a single vector upsert operation.
type UpsertRequest struct {
	ExternalID string
	Embedding  []float32
	ModelName  string
	Summary    string
	// StartedAt and EndedAt are the first and last message times, used by
	// stores that filter by date on their own payload.
	StartedAt time.Time
	EndedAt   time.Time
}

// VectorStore defines the interface for vector search backends.
type VectorStore interface {
	// Search returns up to limit conversations with cosine similarity of at
	// least threshold, best first, restricted to dateRange. Similarity is
	// computed by the backend in a single call.
	Search(ctx context.Context, embedding []float32, dateRange model.DateRange, limit int, threshold float64) ([]SimilarityMatch, error)
	// Upsert stores or updates vector embeddings for a batch of conversations.
	Upsert(ctx context.Context, entries []UpsertRequest) error
	// IsEnabled returns true if the vector store is configured and operational.
	IsEnabled() bool
	// Name returns the plugin name (e.g. "qdrant", "pgvector").
	Name() string
}

// Loader creates a VectorStore from config.
type Loader func(ctx context.Context) (VectorStore, error)

// Plugin represents a vector store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector store %q; valid: %v", name, Names())
}
