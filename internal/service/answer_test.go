package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chirino/conversation-service/internal/model"
	"github.com/chirino/conversation-service/internal/registry/store"
	registryvector "github.com/chirino/conversation-service/internal/registry/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAnswerer(embedder *fakeEmbedder, vectors *memoryVectors, chat *fakeChat, timeout time.Duration) *QueryAnswerer {
	x := NewEmbeddingIndex(embedder, vectors, nil)
	return NewQueryAnswerer(x, chat, AnswerOptions{Threshold: 0.5, MatchLimit: 5, Temperature: 0.1, MaxTokens: 200, Timeout: timeout})
}

func seedVectors() *memoryVectors {
	v := newMemoryVectors()
	v.points["refund-1"] = registryvector.UpsertRequest{ExternalID: "refund-1", Embedding: []float32{1, 0, 0}, Summary: "Customer wanted a refund"}
	v.points["refund-2"] = registryvector.UpsertRequest{ExternalID: "refund-2", Embedding: []float32{0.9, 0.1, 0}, Summary: "Refund for a late order"}
	v.points["weather"] = registryvector.UpsertRequest{ExternalID: "weather", Embedding: []float32{0, 1, 0}, Summary: "Small talk"}
	return v
}

func TestAskNoMatchSkipsChat(t *testing.T) {
	chat := &fakeChat{reply: "unused"}
	a := newAnswerer(&fakeEmbedder{}, seedVectors(), chat, 0)

	ans, err := a.Ask(context.Background(), "what about invoices?", model.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, NoMatchAnswer, ans.Answer)
	assert.Empty(t, ans.Matches)
	assert.Empty(t, chat.requests)
}

func TestAskBuildsContextBestFirst(t *testing.T) {
	chat := &fakeChat{reply: "I found two refund conversations."}
	embedder := &fakeEmbedder{vectors: map[string][]float32{"refund": {1, 0, 0}}}
	a := newAnswerer(embedder, seedVectors(), chat, time.Second)

	ans, err := a.Ask(context.Background(), "Who asked for a refund?", model.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, "I found two refund conversations.", ans.Answer)
	assert.Equal(t, "fake-chat", ans.Model)
	require.Len(t, ans.Matches, 2)
	assert.Equal(t, "refund-1", ans.Matches[0].ExternalID)

	require.Len(t, chat.requests, 1)
	req := chat.requests[0]
	assert.Contains(t, req.System, "not found")
	assert.Contains(t, req.System, "first person")
	assert.InDelta(t, 0.1, req.Temperature, 1e-9)
	assert.Equal(t, 200, req.MaxTokens)
	assert.Less(t, indexOf(req.User, "[refund-1]"), indexOf(req.User, "[refund-2]"))
	assert.Contains(t, req.User, "Customer wanted a refund")
	assert.NotContains(t, req.User, "Small talk")
	assert.Contains(t, req.User, "Question: Who asked for a refund?")
}

func TestAskEmbeddingUnavailable(t *testing.T) {
	chat := &fakeChat{}
	a := newAnswerer(&fakeEmbedder{err: errBoom}, seedVectors(), chat, 0)

	_, err := a.Ask(context.Background(), "anything", model.DateRange{})
	var dep *DependencyUnavailableError
	require.ErrorAs(t, err, &dep)
	assert.Equal(t, "embedding", dep.Service)
	assert.Empty(t, chat.requests)
}

func TestAskSearchUnavailable(t *testing.T) {
	vectors := seedVectors()
	vectors.searchErr = errBoom
	a := newAnswerer(&fakeEmbedder{}, vectors, &fakeChat{}, 0)

	_, err := a.Ask(context.Background(), "anything", model.DateRange{})
	var dep *DependencyUnavailableError
	require.ErrorAs(t, err, &dep)
	assert.Equal(t, "vector store", dep.Service)
}

func TestAskChatUnavailable(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{"refund": {1, 0, 0}}}
	a := newAnswerer(embedder, seedVectors(), &fakeChat{err: errBoom}, 0)

	_, err := a.Ask(context.Background(), "refund?", model.DateRange{})
	var dep *DependencyUnavailableError
	require.ErrorAs(t, err, &dep)
	assert.Equal(t, "chat", dep.Service)
}

func TestAskTimeout(t *testing.T) {
	vectors := seedVectors()
	vectors.delay = time.Second
	a := newAnswerer(&fakeEmbedder{}, vectors, &fakeChat{}, 20*time.Millisecond)

	_, err := a.Ask(context.Background(), "refund?", model.DateRange{})
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 20*time.Millisecond, timeout.After)
}

func TestAskValidation(t *testing.T) {
	a := newAnswerer(&fakeEmbedder{}, seedVectors(), &fakeChat{}, 0)

	_, err := a.Ask(context.Background(), "   ", model.DateRange{})
	var v *store.ValidationError
	require.ErrorAs(t, err, &v)

	start := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)
	_, err = a.Ask(context.Background(), "refund?", model.DateRange{Start: &start, End: &end})
	require.ErrorAs(t, err, &v)
}

func indexOf(s, sub string) int { return strings.Index(s, sub) }
