package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/conversation-service/internal/model"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 500
)

// ListFilter selects conversations for listing, stats and snippet search.
// A conversation matches the date range when at least one of its messages
// falls inside it.
type ListFilter struct {
	model.DateRange
	AgentID string `json:"agentId,omitempty"`
}

// Validate rejects inverted date ranges.
func (f ListFilter) Validate() error {
	return ValidateDateRange(f.DateRange)
}

// ValidateDateRange rejects a range whose start day is after its end day.
func ValidateDateRange(r model.DateRange) error {
	if r.Start != nil && r.End != nil {
		from, to := r.Bounds()
		if !from.Before(*to) {
			return &ValidationError{Field: "start", Message: "start date must not be after end date"}
		}
	}
	return nil
}

// ParseDay accepts YYYY-MM-DD or an RFC 3339 instant. Empty input is nil.
func ParseDay(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	return nil, &ValidationError{Field: field, Message: "expected YYYY-MM-DD"}
}

// ParseDateRange parses optional start and end days and rejects inverted ranges.
func ParseDateRange(start, end string) (model.DateRange, error) {
	s, err := ParseDay("start", start)
	if err != nil {
		return model.DateRange{}, err
	}
	e, err := ParseDay("end", end)
	if err != nil {
		return model.DateRange{}, err
	}
	r := model.DateRange{Start: s, End: e}
	if err := ValidateDateRange(r); err != nil {
		return model.DateRange{}, err
	}
	return r, nil
}

// CacheKey returns a stable key for caching results computed from this filter.
func (f ListFilter) CacheKey() string {
	var b strings.Builder
	from, to := f.Bounds()
	if from != nil {
		b.WriteString(from.Format(time.DateOnly))
	}
	b.WriteByte('|')
	if to != nil {
		b.WriteString(to.Format(time.DateOnly))
	}
	b.WriteByte('|')
	b.WriteString(f.AgentID)
	return b.String()
}

// Page selects a window of the sorted result set.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Normalize validates p and applies the default limit.
func (p Page) Normalize() (Page, error) {
	if p.Offset < 0 {
		return p, &ValidationError{Field: "offset", Message: "must not be negative"}
	}
	if p.Limit < 0 {
		return p, &ValidationError{Field: "limit", Message: "must not be negative"}
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		return p, &ValidationError{Field: "limit", Message: fmt.Sprintf("must not exceed %d", MaxPageLimit)}
	}
	return p, nil
}

// ConversationSummary is a conversation row with fields derived from its messages.
type ConversationSummary struct {
	ExternalID string     `json:"externalId"`
	CreatedAt  time.Time  `json:"createdAt"`
	Status     string     `json:"status"`
	AgentID    string     `json:"agentId"`
	Cost       *float64   `json:"cost,omitempty"`
	Summary    *string    `json:"summary,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	// DurationSeconds is nil unless at least two messages carry timestamps.
	DurationSeconds *float64 `json:"durationSeconds"`
	TurnCount       int      `json:"turnCount"`
}

// SortTime is the first message timestamp, or the creation time when the
// conversation has no timestamped messages.
func (s ConversationSummary) SortTime() time.Time {
	if s.StartedAt != nil {
		return *s.StartedAt
	}
	return s.CreatedAt
}

// ConversationDetail is a conversation together with its ordered transcript.
type ConversationDetail struct {
	ConversationSummary
	Messages []model.Message `json:"messages"`
}

// ConversationPage is one page of a sorted conversation listing.
type ConversationPage struct {
	Data   []ConversationSummary `json:"data"`
	Total  int                   `json:"total"`
	Offset int                   `json:"offset"`
	Limit  int                   `json:"limit"`
	// Approximate is set when the matching set exceeded the list hard cap and
	// Total only counts the retained rows.
	Approximate bool   `json:"approximate"`
	Error       string `json:"error,omitempty"`
}

// DashboardStats aggregates the conversations matching a filter.
type DashboardStats struct {
	TotalConversations int      `json:"totalConversations"`
	TotalMessages      int      `json:"totalMessages"`
	AvgDurationSeconds *float64 `json:"avgDurationSeconds"`
	ByHour             [24]int  `json:"byHour"`
	ByWeekday          [7]int   `json:"byWeekday"`
	AvgCost            *float64 `json:"avgCost"`
	CompletionRate     float64  `json:"completionRate"`
	MonthToDateCost    float64  `json:"monthToDateCost"`
	Approximate        bool     `json:"approximate"`
	Error              string   `json:"error,omitempty"`
}

// SnippetQuery searches message text. A message matches when it contains any
// of Terms (case-insensitive). At most PerConversation snippets are returned
// for each conversation, earliest first.
type SnippetQuery struct {
	Filter          ListFilter
	Terms           []string
	Speaker         model.SpeakerFilter
	PerConversation int
	Limit           int
}

// Validate checks the query before any I/O.
func (q *SnippetQuery) Validate() error {
	if err := q.Filter.Validate(); err != nil {
		return err
	}
	terms := q.Terms[:0:0]
	for _, t := range q.Terms {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return &ValidationError{Field: "q", Message: "at least one search term is required"}
	}
	q.Terms = terms
	switch q.Speaker {
	case "":
		q.Speaker = model.SpeakerAny
	case model.SpeakerAny, model.SpeakerUser, model.SpeakerAgent:
	default:
		return &ValidationError{Field: "speaker", Message: "must be any, user or agent"}
	}
	if q.PerConversation <= 0 {
		q.PerConversation = 1
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}
	return nil
}

// Snippet is one matching message.
type Snippet struct {
	ExternalID string     `json:"externalId"`
	Speaker    model.Role `json:"speaker"`
	Text       string     `json:"text"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// SnippetResults is the result of a snippet search.
type SnippetResults struct {
	Data  []Snippet `json:"data"`
	Error string    `json:"error,omitempty"`
}

// ConversationRepository persists conversations and serves filtered reads.
//
// Read operations that fail roll back their transaction and return an empty
// result whose Error field describes the failure, together with the error.
type ConversationRepository interface {
	ListConversations(ctx context.Context, filter ListFilter, page Page) (*ConversationPage, error)
	GetConversation(ctx context.Context, externalID string) (*ConversationDetail, error)
	GetDashboardStats(ctx context.Context, filter ListFilter) (*DashboardStats, error)
	ListAgents(ctx context.Context) ([]string, error)
	SearchSnippets(ctx context.Context, query SnippetQuery) (*SnippetResults, error)

	// ExistingExternalIDs returns the subset of ids that are already persisted.
	ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error)
	// SaveConversations inserts conversations and their messages in a single
	// transaction. Conversations whose external id already exists are skipped.
	// It returns the number of conversations inserted.
	SaveConversations(ctx context.Context, conversations []model.Conversation) (int, error)

	// ListUnembedded returns conversations, with messages, that have no
	// embedding yet and an id greater than afterID, in id order.
	ListUnembedded(ctx context.Context, afterID int64, limit int) ([]model.Conversation, error)
	MarkEmbedded(ctx context.Context, externalID string, modelName string, at time.Time) error

	CreateSyncRun(ctx context.Context, run *model.SyncRun) error
	UpdateSyncRun(ctx context.Context, run *model.SyncRun) error
	// LastSuccessfulSyncRun returns nil when no run has completed.
	LastSuccessfulSyncRun(ctx context.Context) (*model.SyncRun, error)
}

// CacheClearer is implemented by repositories that keep derived caches.
type CacheClearer interface {
	ClearCaches(ctx context.Context)
}

// Loader creates a ConversationRepository from config.
type Loader func(ctx context.Context) (ConversationRepository, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
