package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chirino/conversation-service/internal/model"
	"github.com/chirino/conversation-service/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithRetries(1), WithRetryWait(time.Millisecond, 2*time.Millisecond), WithRateLimit(0)}, opts...)
	return New(srv.URL, opts...)
}

func TestListCursorStrategyPages(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/v1/convai/conversations", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("xi-api-key"))
		assert.Equal(t, "1700000000", r.URL.Query().Get("call_start_after_unix"))
		if r.URL.Query().Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"conversations":[{"conversation_id":"a","agent_id":"ag","status":"done","start_time_unix_secs":1700000100},{"status":"done"}],"has_more":true,"next_cursor":"p2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"conversations":[{"conversation_id":"b"},{"conversation_id":"a"}],"has_more":false}`))
	}), WithAPIKey("key"))

	since := time.Unix(1700000000, 0)
	res, err := c.ListConversations(context.Background(), &since)
	require.NoError(t, err)
	assert.Equal(t, "cursor", res.Strategy)
	assert.Equal(t, 1, res.Drifted)
	require.Len(t, res.Conversations, 2)
	assert.Equal(t, "a", res.Conversations[0].ExternalID)
	assert.Equal(t, "ag", res.Conversations[0].AgentID)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), res.Conversations[0].CreatedAt)
	assert.Equal(t, "b", res.Conversations[1].ExternalID)
	assert.EqualValues(t, 2, calls.Load())
}

func TestListFallsBackToOffsetShape(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/convai/conversations" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("page_size") != "" {
			_, _ = w.Write([]byte(`{"conversations":[],"has_more":false}`))
			return
		}
		if r.URL.Query().Get("offset") != "0" {
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"x","createdAt":"2024-05-10T10:00:00Z"}]}`))
	}), WithPageSize(10))

	res, err := c.ListConversations(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "offset", res.Strategy)
	require.Len(t, res.Conversations, 1)
	assert.Equal(t, "x", res.Conversations[0].ExternalID)
	assert.Equal(t, time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC), res.Conversations[0].CreatedAt)
}

func TestListLegacyBareArray(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/conversations" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("offset") != "0" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{"uuid":"u1"},{"uuid":"u2"}]`))
	}))

	res, err := c.ListConversations(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "legacy", res.Strategy)
	assert.Len(t, res.Conversations, 2)
}

func TestListAllShapesEmptyIsNotAnError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/conversations" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`{"conversations":[],"items":[],"has_more":false}`))
	}))

	res, err := c.ListConversations(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Conversations)
}

func TestListFailureThenEmptyIsAnError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/conversations":
			_, _ = w.Write([]byte(`[]`))
		case r.URL.Query().Get("page_size") != "":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))

	res, err := c.ListConversations(context.Background(), nil)
	var listErr *ListError
	require.ErrorAs(t, err, &listErr)
	assert.Contains(t, listErr.Attempts, "cursor")
	assert.Empty(t, res.Conversations)
}

func TestListUnsupportedShapesThenEmptyIsNotAnError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/conversations":
			_, _ = w.Write([]byte(`[]`))
		case r.URL.Query().Get("page_size") != "":
			w.WriteHeader(http.StatusBadRequest)
		default:
			http.NotFound(w, r)
		}
	}))

	res, err := c.ListConversations(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Conversations)
}

func TestListOffsetPagingSurvivesServerPageCap(t *testing.T) {
	ids := []string{"c1", "c2", "c3", "c4", "c5"}
	var offsets []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/convai/conversations" || r.URL.Query().Get("page_size") != "" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		assert.Equal(t, "3", q.Get("limit"))
		offsets = append(offsets, q.Get("offset"))
		var offset int
		_, err := fmt.Sscan(q.Get("offset"), &offset)
		require.NoError(t, err)
		// the platform never returns more than two records per page
		end := min(offset+2, len(ids))
		items := make([]string, 0, 2)
		for _, id := range ids[min(offset, len(ids)):end] {
			items = append(items, fmt.Sprintf(`{"id":%q}`, id))
		}
		_, _ = fmt.Fprintf(w, `{"items":[%s]}`, strings.Join(items, ","))
	}), WithPageSize(3))

	res, err := c.ListConversations(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "offset", res.Strategy)
	require.Len(t, res.Conversations, 5)
	assert.Equal(t, "c5", res.Conversations[4].ExternalID)
	assert.Equal(t, []string{"0", "2", "4", "5"}, offsets)
}

func TestListOffsetPagingStopsAtReportedTotal(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/convai/conversations" || r.URL.Query().Get("page_size") != "" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		_, _ = w.Write([]byte(`{"total":2,"items":[{"id":"a"},{"id":"b"}]}`))
	}), WithPageSize(5))

	res, err := c.ListConversations(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Conversations, 2)
	assert.EqualValues(t, 1, calls.Load())
}

func TestListAllShapesFailing(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.ListConversations(context.Background(), nil)
	var listErr *ListError
	require.ErrorAs(t, err, &listErr)
	assert.Len(t, listErr.Attempts, 3)

	var transient *TransientIOError
	require.ErrorAs(t, listErr.Attempts["cursor"], &transient)
	assert.Equal(t, http.StatusBadGateway, transient.Status)
	assert.Equal(t, 2, transient.Attempts)
	// one retry per strategy
	assert.EqualValues(t, 6, calls.Load())
}

func TestFetchConversationFallbackAndMapping(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/convai/conversations/c1":
			http.NotFound(w, r)
		case "/v1/convai/conversation/c1":
			_, _ = w.Write([]byte(`{
				"conversation_id": "c1",
				"status": "done",
				"metadata": {"start_time_unix_secs": 1715335200, "cost": 12.5},
				"analysis": {"transcript_summary": "Caller asked about a refund."},
				"transcript": [
					{"role": "user", "message": "I want a refund", "time_in_call_secs": 0},
					{"role": "agent", "message": null, "time_in_call_secs": 5},
					{"speaker": "assistant", "message": "Sure", "time_in_call_secs": 330},
					{"sender_type": "customer", "text": "Thanks", "timestamp": "2024-05-10T10:06:00Z"},
					{"role": "narrator", "message": "???"}
				]
			}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	conv, err := c.FetchConversation(context.Background(), Listed{ExternalID: "c1", AgentID: "agent-7"})
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ExternalID)
	assert.Equal(t, "agent-7", conv.AgentID)
	assert.Equal(t, "done", conv.Status)
	require.NotNil(t, conv.Cost)
	assert.InDelta(t, 12.5, *conv.Cost, 1e-9)
	require.NotNil(t, conv.Summary)
	assert.Equal(t, "Caller asked about a refund.", *conv.Summary)

	start := time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, start, conv.CreatedAt)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, model.RoleUser, conv.Messages[0].Speaker)
	assert.Equal(t, start, *conv.Messages[0].Timestamp)
	assert.Equal(t, model.RoleAgent, conv.Messages[1].Speaker)
	assert.Equal(t, start.Add(330*time.Second), *conv.Messages[1].Timestamp)
	assert.Equal(t, model.RoleUser, conv.Messages[2].Speaker)
	assert.Equal(t, "Thanks", conv.Messages[2].Text)
}

func TestFetchConversationNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/conversations/gone" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		http.NotFound(w, r)
	}))

	_, err := c.FetchConversation(context.Background(), Listed{ExternalID: "gone"})
	var nf *store.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "gone", nf.ID)
}

func TestFetchConversationTransient(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/convai/conversations/c1" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		http.NotFound(w, r)
	}))

	_, err := c.FetchConversation(context.Background(), Listed{ExternalID: "c1"})
	var transient *TransientIOError
	require.True(t, errors.As(err, &transient))
	assert.Equal(t, http.StatusServiceUnavailable, transient.Status)
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"conversations":[{"conversation_id":"a"}],"has_more":false}`))
	}))

	res, err := c.ListConversations(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Conversations, 1)
	assert.EqualValues(t, 2, calls.Load())
}

func TestParseTime(t *testing.T) {
	cases := map[string]time.Time{
		`1715335200`:                  time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC),
		`1715335200000`:               time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC),
		`"1715335200"`:                time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC),
		`"2024-05-10T12:00:00+02:00"`: time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC),
		`"2024-05-10 10:00:00"`:       time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC),
	}
	for raw, want := range cases {
		got, ok := parseTime(gjsonParse(raw))
		require.True(t, ok, raw)
		assert.True(t, want.Equal(got), "%s: got %s", raw, got)
	}
	_, ok := parseTime(gjsonParse(`"yesterday"`))
	assert.False(t, ok)
}

func gjsonParse(raw string) gjson.Result { return gjson.Parse(raw) }
