// Package local registers an offline embedder for development and tests.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	registryembed "github.com/chirino/conversation-service/internal/registry/embed"
)

const (
	modelName = "all-minilm-l6-v2"
	dimension = 384

	bigramWeight = 0.5
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name: "local",
		Loader: func(_ context.Context) (registryembed.Embedder, error) {
			return &LocalEmbedder{}, nil
		},
	})
}

// stopWords carry no topic in conversation transcripts.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true, "have": true,
	"i": true, "in": true, "is": true, "it": true, "me": true, "my": true,
	"of": true, "on": true, "or": true, "so": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "we": true, "with": true, "you": true,
	"your": true,
}

// LocalEmbedder feature-hashes word unigrams and bigrams into a fixed-size,
// L2 normalized vector with sublinear term weights. It needs no network access.
// Texts with no content words embed to the zero vector.
type LocalEmbedder struct{}

func (e *LocalEmbedder) ModelName() string { return modelName }

func (e *LocalEmbedder) Dimension() int { return dimension }

func (e *LocalEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = embedOne(text)
	}
	return results, nil
}

func embedOne(text string) []float32 {
	counts := map[string]float64{}
	words := contentWords(text)
	for i, w := range words {
		counts[w]++
		if i > 0 {
			counts[words[i-1]+" "+w] += bigramWeight
		}
	}

	vector := make([]float32, dimension)
	for feature, tf := range counts {
		idx, sign := bucket(feature)
		vector[idx] += sign * float32(1+math.Log(tf+1)-math.Log(2))
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vector
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= inv
	}
	return vector
}

// bucket maps a feature to a vector index and a sign, so colliding features
// tend to cancel rather than accumulate.
func bucket(feature string) (int, float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	sign := float32(1)
	if sum>>63 == 1 {
		sign = -1
	}
	return int(sum % dimension), sign
}

func contentWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})
	words := fields[:0]
	for _, f := range fields {
		if !stopWords[f] {
			words = append(words, f)
		}
	}
	return words
}

var _ registryembed.Embedder = (*LocalEmbedder)(nil)
