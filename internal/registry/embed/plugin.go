// Package embed selects the text embedding provider used to index
// conversation summaries and to embed questions.
package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Embedder produces vector embeddings from text.
type Embedder interface {
	// EmbedTexts returns one vector per input text, in input order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// ModelName identifies the model; it is stored with every embedding.
	ModelName() string
	// Dimension is the length of every returned vector, or 0 when unknown.
	Dimension() int
}

// Loader creates an Embedder from config.
type Loader func(ctx context.Context) (Embedder, error)

// Plugin represents an embedder plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an embedder plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered embedder plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named embedder plugin. Names are
// matched case-insensitively.
func Select(name string) (Loader, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown embedder %q; valid: none, %s", name, strings.Join(Names(), ", "))
}

// ErrDisabled reports that no embedder is configured.
var ErrDisabled = errors.New("embedding is disabled")

// Check verifies that vectors holds want embeddings of the embedder's
// declared dimension.
func Check(e Embedder, vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%s returned %d embeddings for %d texts", e.ModelName(), len(vectors), want)
	}
	dim := e.Dimension()
	if dim <= 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%s embedding %d has %d dimensions, model declares %d", e.ModelName(), i, len(v), dim)
		}
	}
	return nil
}
