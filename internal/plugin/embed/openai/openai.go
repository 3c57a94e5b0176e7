// Package openai embeds text with an OpenAI compatible embeddings endpoint.
package openai

import (
	"context"
	"fmt"

	"github.com/chirino/conversation-service/internal/config"
	registryembed "github.com/chirino/conversation-service/internal/registry/embed"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func init() {
	registryembed.Register(registryembed.Plugin{Name: "openai", Loader: load})
}

func load(ctx context.Context) (registryembed.Embedder, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai embedder: CONVERSATION_SERVICE_OPENAI_API_KEY is required")
	}
	return New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbeddingModel(), cfg.OpenAIDimensions, cfg.EmbeddingDimension()), nil
}

// Embedder calls the embeddings API. Dimensions, when positive, asks the
// model to shorten its vectors; dim is the size the index is built for.
type Embedder struct {
	client     *openai.Client
	model      string
	dimensions int
	dim        int
}

// New creates an Embedder.
func New(baseURL, apiKey, model string, dimensions, dim int) *Embedder {
	client := openai.NewClient(option.WithBaseURL(baseURL), option.WithAPIKey(apiKey))
	return &Embedder{client: &client, model: model, dimensions: dimensions, dim: dim}
}

func (e *Embedder) ModelName() string { return e.model }

func (e *Embedder) Dimension() int { return e.dim }

// EmbedTexts returns one vector per text, in input order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}
	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, fmt.Errorf("openai embed: response index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

var _ registryembed.Embedder = (*Embedder)(nil)
