package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/metrics"
	"github.com/chirino/conversation-service/internal/model"
	registryembed "github.com/chirino/conversation-service/internal/registry/embed"
	registryvector "github.com/chirino/conversation-service/internal/registry/vector"
	"github.com/weaviate/tiktoken-go"
)

// Tokenizer splits text into model tokens for input truncation.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenTokenizer) Encode(text string) []int   { return t.enc.Encode(text, nil, nil) }
func (t tiktokenTokenizer) Decode(tokens []int) string { return t.enc.Decode(tokens) }

// DefaultTokenizer returns the cl100k_base tokenizer used by OpenAI
// embedding models, or nil when it cannot be loaded.
func DefaultTokenizer() Tokenizer {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn("Indexer: tokenizer unavailable, truncating by characters", "err", err)
		return nil
	}
	return tiktokenTokenizer{enc: enc}
}

// charsPerToken approximates token counts when no tokenizer is available.
const charsPerToken = 4

// EmbeddingIndex embeds conversation text and stores the vectors.
type EmbeddingIndex struct {
	embedder  registryembed.Embedder
	vectors   registryvector.VectorStore
	marker    EmbeddedMarker
	tokenizer Tokenizer
	maxTokens int
	now       func() time.Time
}

// EmbeddedMarker records that a conversation has an embedding.
type EmbeddedMarker interface {
	MarkEmbedded(ctx context.Context, externalID string, modelName string, at time.Time) error
}

// IndexOption customizes an EmbeddingIndex.
type IndexOption func(*EmbeddingIndex)

// WithTokenizer sets the tokenizer used for truncation; nil truncates by characters.
func WithTokenizer(t Tokenizer) IndexOption {
	return func(x *EmbeddingIndex) { x.tokenizer = t }
}

// WithMaxInputTokens sets the embedding model's input limit.
func WithMaxInputTokens(n int) IndexOption {
	return func(x *EmbeddingIndex) {
		if n > 0 {
			x.maxTokens = n
		}
	}
}

// WithIndexClock overrides the time source.
func WithIndexClock(now func() time.Time) IndexOption {
	return func(x *EmbeddingIndex) { x.now = now }
}

// NewEmbeddingIndex creates an EmbeddingIndex. marker may be nil.
func NewEmbeddingIndex(embedder registryembed.Embedder, vectors registryvector.VectorStore, marker EmbeddedMarker, opts ...IndexOption) *EmbeddingIndex {
	x := &EmbeddingIndex{
		embedder:  embedder,
		vectors:   vectors,
		marker:    marker,
		maxTokens: 8191,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Enabled reports whether both an embedder and a vector store are configured.
func (x *EmbeddingIndex) Enabled() bool {
	return x != nil && x.embedder != nil && x.vectors != nil && x.vectors.IsEnabled()
}

// Truncate cuts text to the model input limit and reports whether it did.
func (x *EmbeddingIndex) Truncate(text string) (string, bool) {
	if x.tokenizer == nil {
		limit := x.maxTokens * charsPerToken
		if len(text) <= limit {
			return text, false
		}
		cut := limit
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
		return text[:cut], true
	}
	tokens := x.tokenizer.Encode(text)
	if len(tokens) <= x.maxTokens {
		return text, false
	}
	return x.tokenizer.Decode(tokens[:x.maxTokens]), true
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// Embed returns the embedding of a single text, truncated to the input limit.
// Failures are reported as DependencyUnavailableError.
func (x *EmbeddingIndex) Embed(ctx context.Context, text string) ([]float32, error) {
	if x == nil || x.embedder == nil {
		return nil, &DependencyUnavailableError{Service: "embedding", Err: registryembed.ErrDisabled}
	}
	text, truncated := x.Truncate(text)
	if truncated {
		metrics.ObserveEmbeddingTruncation()
	}
	vectors, err := x.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, &DependencyUnavailableError{Service: "embedding", Err: err}
	}
	if err := registryembed.Check(x.embedder, vectors, 1); err != nil {
		return nil, &DependencyUnavailableError{Service: "embedding", Err: err}
	}
	return vectors[0], nil
}

// Upsert embeds the conversation's document text and stores the vector. It
// returns nil on any failure, after logging it; truncated reports whether the
// text was cut to the model limit.
func (x *EmbeddingIndex) Upsert(ctx context.Context, conv model.Conversation) (embedding []float32, truncated bool) {
	if !x.Enabled() {
		return nil, false
	}
	text := DocumentText(conv)
	if strings.TrimSpace(text) == "" {
		return nil, false
	}
	if _, truncated = x.Truncate(text); truncated {
		log.Info("Indexer: input truncated", "externalId", conv.ExternalID, "maxTokens", x.maxTokens)
	}
	embedding, err := x.Embed(ctx, text)
	if err != nil {
		log.Error("Indexer: embed failed", "externalId", conv.ExternalID, "err", err)
		return nil, truncated
	}

	start, end := messageSpan(conv)
	req := registryvector.UpsertRequest{
		ExternalID: conv.ExternalID,
		Embedding:  embedding,
		ModelName:  x.embedder.ModelName(),
		Summary:    summaryOf(conv),
		StartedAt:  start,
		EndedAt:    end,
	}
	if err := x.vectors.Upsert(ctx, []registryvector.UpsertRequest{req}); err != nil {
		log.Error("Indexer: vector upsert failed", "externalId", conv.ExternalID, "err", err)
		return nil, truncated
	}
	if x.marker != nil {
		if err := x.marker.MarkEmbedded(ctx, conv.ExternalID, req.ModelName, x.now().UTC()); err != nil {
			log.Error("Indexer: mark embedded failed", "externalId", conv.ExternalID, "err", err)
			return nil, truncated
		}
	}
	return embedding, truncated
}

// Search returns conversations similar to queryVector. Zero matches is a
// valid result.
func (x *EmbeddingIndex) Search(ctx context.Context, queryVector []float32, dateRange model.DateRange, limit int, threshold float64) ([]registryvector.SimilarityMatch, error) {
	if x == nil || x.vectors == nil || !x.vectors.IsEnabled() {
		return nil, &DependencyUnavailableError{Service: "vector store", Err: fmt.Errorf("not configured")}
	}
	matches, err := x.vectors.Search(ctx, queryVector, dateRange, limit, threshold)
	if err != nil {
		return nil, &DependencyUnavailableError{Service: "vector store", Err: err}
	}
	return matches, nil
}

// DocumentText is the text embedded for a conversation: its summary followed
// by the transcript, one "speaker: text" line per message.
func DocumentText(conv model.Conversation) string {
	var b strings.Builder
	if s := summaryOf(conv); s != "" {
		b.WriteString("Summary: ")
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	for _, m := range conv.Messages {
		b.WriteString(string(m.Speaker))
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func summaryOf(conv model.Conversation) string {
	if conv.Summary == nil {
		return ""
	}
	return strings.TrimSpace(*conv.Summary)
}

// messageSpan returns the first and last message times, falling back to the
// creation time when no message is timestamped.
func messageSpan(conv model.Conversation) (first, last time.Time) {
	for _, m := range conv.Messages {
		if m.Timestamp == nil {
			continue
		}
		if first.IsZero() || m.Timestamp.Before(first) {
			first = *m.Timestamp
		}
		if m.Timestamp.After(last) {
			last = *m.Timestamp
		}
	}
	if first.IsZero() {
		return conv.CreatedAt, conv.CreatedAt
	}
	return first, last
}
