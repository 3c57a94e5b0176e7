package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixed struct{ dim int }

func (f fixed) EmbedTexts(context.Context, []string) ([][]float32, error) { return nil, nil }
func (f fixed) ModelName() string                                         { return "fixed" }
func (f fixed) Dimension() int                                            { return f.dim }

func TestCheck(t *testing.T) {
	require.NoError(t, Check(fixed{dim: 2}, [][]float32{{1, 0}, {0, 1}}, 2))
	require.NoError(t, Check(fixed{}, [][]float32{{1, 0, 0}}, 1))

	err := Check(fixed{dim: 2}, [][]float32{{1, 0}}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 embeddings for 2 texts")

	err = Check(fixed{dim: 2}, [][]float32{{1, 0, 0}}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 dimensions")
}

func TestSelectUnknown(t *testing.T) {
	_, err := Select("word2vec")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown embedder "word2vec"`)
}
