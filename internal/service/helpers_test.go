package service

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chirino/conversation-service/internal/model"
	"github.com/chirino/conversation-service/internal/plugin/store/gormstore"
	"github.com/chirino/conversation-service/internal/plugin/store/sqlite"
	registrychat "github.com/chirino/conversation-service/internal/registry/chat"
	registryvector "github.com/chirino/conversation-service/internal/registry/vector"
	"github.com/chirino/conversation-service/internal/remote"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *gormstore.Repository {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, sqlite.Migrate(context.Background(), db))
	return gormstore.New(db)
}

func ts(hour, minute, sec int) *time.Time {
	t := time.Date(2024, 5, 10, hour, minute, sec, 0, time.UTC)
	return &t
}

// fakePlatform serves a fixed list and per-id details.
type fakePlatform struct {
	mu        sync.Mutex
	ids       []string
	listErr   error
	detailErr map[string]error
	since     []*time.Time
	fetched   []string
	block     chan struct{}
}

func (p *fakePlatform) setIDs(ids ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = ids
}

func (p *fakePlatform) ListConversations(ctx context.Context, since *time.Time) (remote.ListResult, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return remote.ListResult{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.since = append(p.since, since)
	if p.listErr != nil {
		return remote.ListResult{}, p.listErr
	}
	res := remote.ListResult{Strategy: "fake"}
	for _, id := range p.ids {
		res.Conversations = append(res.Conversations, remote.Listed{ExternalID: id, Status: model.StatusDone})
	}
	return res, nil
}

func (p *fakePlatform) FetchConversation(_ context.Context, l remote.Listed) (model.Conversation, error) {
	p.mu.Lock()
	p.fetched = append(p.fetched, l.ExternalID)
	err := p.detailErr[l.ExternalID]
	p.mu.Unlock()
	if err != nil {
		return model.Conversation{}, err
	}
	summary := "summary of " + l.ExternalID
	return model.Conversation{
		ExternalID: l.ExternalID,
		CreatedAt:  *ts(10, 0, 0),
		Status:     l.Status,
		Summary:    &summary,
		Messages: []model.Message{
			{Speaker: model.RoleUser, Text: "hello from " + l.ExternalID, Timestamp: ts(10, 0, 0)},
			{Speaker: model.RoleAgent, Text: "hi", Timestamp: ts(10, 5, 30)},
		},
	}, nil
}

func (p *fakePlatform) fetchedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]string(nil), p.fetched...)
	sort.Strings(out)
	return out
}

// fakeEmbedder maps texts to fixed vectors by keyword.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
	inputs  []string
}

func (e *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.inputs = append(e.inputs, texts...)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{0, 0, 1}
		for k, v := range e.vectors {
			if strings.Contains(strings.ToLower(t), k) {
				out[i] = v
				break
			}
		}
	}
	return out, nil
}

func (e *fakeEmbedder) ModelName() string { return "fake-embedder" }
func (e *fakeEmbedder) Dimension() int    { return 3 }

// memoryVectors is an in-memory cosine VectorStore.
type memoryVectors struct {
	mu        sync.Mutex
	points    map[string]registryvector.UpsertRequest
	upsertErr error
	searchErr error
	delay     time.Duration
}

func newMemoryVectors() *memoryVectors {
	return &memoryVectors{points: map[string]registryvector.UpsertRequest{}}
}

func (m *memoryVectors) IsEnabled() bool { return true }
func (m *memoryVectors) Name() string    { return "memory" }

func (m *memoryVectors) Upsert(_ context.Context, entries []registryvector.UpsertRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, e := range entries {
		m.points[e.ExternalID] = e
	}
	return nil
}

func (m *memoryVectors) Search(ctx context.Context, q []float32, _ model.DateRange, limit int, threshold float64) ([]registryvector.SimilarityMatch, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	var out []registryvector.SimilarityMatch
	for _, p := range m.points {
		score := cosine(q, p.Embedding)
		if score >= threshold {
			out = append(out, registryvector.SimilarityMatch{ExternalID: p.ExternalID, Summary: p.Summary, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// fakeChat records prompts and returns a canned reply.
type fakeChat struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []registrychat.Request
}

func (c *fakeChat) Complete(_ context.Context, req registrychat.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

func (c *fakeChat) ModelName() string { return "fake-chat" }

var errBoom = errors.New("boom")
