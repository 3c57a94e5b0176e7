package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func TestLocalEmbedder(t *testing.T) {
	e := &LocalEmbedder{}
	out, err := e.EmbedTexts(context.Background(), []string{
		"Customer asked about a refund",
		"customer asked about a REFUND!",
		"",
		"the and of",
	})
	require.NoError(t, err)
	require.Len(t, out, 4)
	require.Len(t, out[0], dimension)

	assert.InDelta(t, 1.0, dot(out[0], out[1]), 1e-5)
	assert.InDelta(t, 1.0, dot(out[0], out[0]), 1e-5)
	assert.Equal(t, float32(0), dot(out[0], out[2]))
	assert.Equal(t, float32(0), dot(out[0], out[3]))
}

func TestLocalEmbedderRanksSharedTopicsHigher(t *testing.T) {
	e := &LocalEmbedder{}
	out, err := e.EmbedTexts(context.Background(), []string{
		"refund for a cancelled order",
		"the caller wants a refund for the cancelled order",
		"question about opening hours",
	})
	require.NoError(t, err)
	assert.Greater(t, dot(out[0], out[1]), dot(out[0], out[2]))
	assert.Greater(t, dot(out[0], out[1]), float32(0.5))
}

func TestContentWordsDropsStopWords(t *testing.T) {
	assert.Equal(t, []string{"caller", "wants", "refund"}, contentWords("The caller wants a refund."))
}

func TestEmbedTextsHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&LocalEmbedder{}).EmbedTexts(ctx, []string{"x"})
	require.ErrorIs(t, err, context.Canceled)
}
