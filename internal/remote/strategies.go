package remote

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/model"
	"github.com/chirino/conversation-service/internal/registry/store"
	"github.com/tidwall/gjson"
)

// listStrategy is one shape of the list endpoint. fetch returns every record
// it could page through.
type listStrategy struct {
	name  string
	fetch func(ctx context.Context, c *Client, since *time.Time) ([]gjson.Result, error)
}

// listStrategies are tried in order; the first to return records wins.
var listStrategies = []listStrategy{
	{name: "cursor", fetch: fetchCursorPages},
	{name: "offset", fetch: fetchOffsetPages},
	{name: "legacy", fetch: fetchLegacyPages},
}

// ListResult holds the headers of one list call.
type ListResult struct {
	Conversations []Listed
	// Strategy names the endpoint shape that produced the records.
	Strategy string
	// Drifted counts records skipped for missing an id.
	Drifted int
}

// ListConversations lists conversations started at or after since, or all
// conversations when since is nil. Shapes the platform does not serve (404,
// 400, 405) are passed over. An empty result is trusted only when no shape
// failed otherwise; a failure followed by empty answers is a ListError, so an
// outage of the primary endpoint is never mistaken for "nothing new".
func (c *Client) ListConversations(ctx context.Context, since *time.Time) (ListResult, error) {
	failures := map[string]error{}
	unsupported := 0
	for _, s := range listStrategies {
		records, err := s.fetch(ctx, c, since)
		if err != nil {
			if ctx.Err() != nil {
				return ListResult{}, ctx.Err()
			}
			log.Debug("Remote: list strategy failed", "strategy", s.name, "err", err)
			failures[s.name] = err
			if isUnsupportedShape(err) {
				unsupported++
			}
			continue
		}
		if len(records) == 0 {
			continue
		}
		return collect(s.name, records), nil
	}
	if len(failures) == len(listStrategies) || len(failures) > unsupported {
		return ListResult{}, &ListError{Attempts: failures}
	}
	return ListResult{}, nil
}

// isUnsupportedShape reports whether err means the endpoint shape does not
// exist on this platform, as opposed to the platform failing to answer.
func isUnsupportedShape(err error) bool {
	if errors.Is(err, errNotFound) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && (se.Status == http.StatusBadRequest || se.Status == http.StatusMethodNotAllowed)
}

func collect(strategy string, records []gjson.Result) ListResult {
	res := ListResult{Strategy: strategy}
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		l, err := parseListed(r)
		if err != nil {
			log.Warn("Remote: skipping list record", "strategy", strategy, "err", err)
			res.Drifted++
			continue
		}
		if seen[l.ExternalID] {
			continue
		}
		seen[l.ExternalID] = true
		res.Conversations = append(res.Conversations, l)
	}
	return res
}

func fetchCursorPages(ctx context.Context, c *Client, since *time.Time) ([]gjson.Result, error) {
	var out []gjson.Result
	cursor := ""
	for page := 0; page < c.maxPages; page++ {
		q := url.Values{"page_size": {strconv.Itoa(c.pageSize)}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		if since != nil {
			q.Set("call_start_after_unix", strconv.FormatInt(unixOrZero(since), 10))
		}
		body, err := c.get(ctx, "/v1/convai/conversations", q)
		if err != nil {
			return nil, err
		}
		r := gjson.ParseBytes(body)
		items := r.Get("conversations")
		if !items.IsArray() {
			return nil, &SchemaDriftWarning{Field: "conversations"}
		}
		out = append(out, items.Array()...)
		cursor = r.Get("next_cursor").String()
		if !r.Get("has_more").Bool() || cursor == "" {
			break
		}
	}
	return out, nil
}

func fetchOffsetPages(ctx context.Context, c *Client, since *time.Time) ([]gjson.Result, error) {
	return fetchByOffset(ctx, c, "/v1/convai/conversations", func(q url.Values) {
		if since != nil {
			q.Set("start_date", since.UTC().Format("2006-01-02"))
		}
	}, "items", "data")
}

func fetchLegacyPages(ctx context.Context, c *Client, since *time.Time) ([]gjson.Result, error) {
	return fetchByOffset(ctx, c, "/v1/conversations", func(q url.Values) {
		if since != nil {
			q.Set("from", since.UTC().Format(time.RFC3339))
		}
	}, "@this", "results")
}

// fetchByOffset pages with limit/offset. The offset advances by the records
// actually received, since platforms may cap the page below the requested
// limit; paging stops on an empty page, on has_more=false, or once a
// reported total is reached. itemPaths lists where the record array may sit.
func fetchByOffset(ctx context.Context, c *Client, path string, addSince func(url.Values), itemPaths ...string) ([]gjson.Result, error) {
	var out []gjson.Result
	for page := 0; page < c.maxPages; page++ {
		q := url.Values{
			"limit":  {strconv.Itoa(c.pageSize)},
			"offset": {strconv.Itoa(len(out))},
		}
		addSince(q)
		body, err := c.get(ctx, path, q)
		if err != nil {
			return nil, err
		}
		r := gjson.ParseBytes(body)
		items := firstArray(r, itemPaths)
		if items == nil && !isEmptyArray(r, itemPaths) {
			return nil, &SchemaDriftWarning{Field: itemPaths[0]}
		}
		if len(items) == 0 {
			break
		}
		out = append(out, items...)
		if more := r.Get("has_more"); more.Exists() && !more.Bool() {
			break
		}
		if total := first(r, totalPaths); total.Exists() && len(out) >= int(total.Int()) {
			break
		}
	}
	return out, nil
}

// totalPaths are where an offset-paged response may report its total count.
var totalPaths = []string{"total", "total_count", "meta.total"}

func isEmptyArray(r gjson.Result, paths []string) bool {
	for _, p := range paths {
		if r.Get(p).IsArray() {
			return true
		}
	}
	return false
}

// detailPaths are tried in order for a conversation's transcript.
var detailPaths = []string{
	"/v1/convai/conversations/",
	"/v1/convai/conversation/",
	"/v1/conversations/",
}

// FetchConversation loads the transcript of a listed conversation. When every
// detail endpoint answers 404 or an empty body the result is a
// store.NotFoundError; any other failure is returned as is.
func (c *Client) FetchConversation(ctx context.Context, listed Listed) (model.Conversation, error) {
	var lastErr error
	for _, p := range detailPaths {
		body, err := c.get(ctx, p+url.PathEscape(listed.ExternalID), nil)
		if errors.Is(err, errNotFound) || (err == nil && isEmptyBody(body)) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return model.Conversation{}, ctx.Err()
			}
			lastErr = err
			continue
		}
		return parseDetail(body, listed)
	}
	if lastErr != nil {
		return model.Conversation{}, lastErr
	}
	return model.Conversation{}, &store.NotFoundError{Resource: "remote conversation", ID: listed.ExternalID}
}

func isEmptyBody(body []byte) bool {
	b := bytes.TrimSpace(body)
	return len(b) == 0 || bytes.Equal(b, []byte("{}")) || bytes.Equal(b, []byte("null"))
}
