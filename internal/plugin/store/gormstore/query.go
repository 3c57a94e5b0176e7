package gormstore

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/chirino/conversation-service/internal/model"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"gorm.io/gorm"
)

const summaryColumns = `c.id, c.external_id, c.created_at, c.status, c.agent_id, c.cost, c.summary,
	MIN(m.timestamp) AS started_at, MAX(m.timestamp) AS ended_at,
	COUNT(m.id) AS turn_count, COUNT(m.timestamp) AS timed_count`

const summaryGroupBy = "c.id, c.external_id, c.created_at, c.status, c.agent_id, c.cost, c.summary"

type summaryRow struct {
	id         int64
	externalID string
	createdAt  dbTime
	status     string
	agentID    string
	cost       sql.NullFloat64
	summary    sql.NullString
	startedAt  dbTime
	endedAt    dbTime
	turnCount  int
	timedCount int
}

func (row summaryRow) toSummary() registrystore.ConversationSummary {
	s := registrystore.ConversationSummary{
		ExternalID: row.externalID,
		CreatedAt:  row.createdAt.Time,
		Status:     row.status,
		AgentID:    row.agentID,
		Cost:       nullFloat(row.cost),
		Summary:    nullString(row.summary),
		StartedAt:  row.startedAt.ptr(),
		EndedAt:    row.endedAt.ptr(),
		TurnCount:  row.turnCount,
	}
	s.DurationSeconds = duration(row.timedCount, s.StartedAt, s.EndedAt)
	return s
}

// duration is only defined when at least two messages carry timestamps. A
// single message or missing timestamps yield nil rather than zero.
func duration(timed int, start, end *time.Time) *float64 {
	if timed < 2 || start == nil || end == nil {
		return nil
	}
	d := end.Sub(*start).Seconds()
	return &d
}

// filterClause renders the date and agent predicates against the
// conversations table aliased as c.
func filterClause(f registrystore.ListFilter) (string, []any) {
	var conds []string
	var args []any
	from, to := f.Bounds()
	if from != nil || to != nil {
		sub := "SELECT mf.conversation_id FROM messages mf WHERE mf.timestamp IS NOT NULL"
		if from != nil {
			sub += " AND mf.timestamp >= ?"
			args = append(args, *from)
		}
		if to != nil {
			sub += " AND mf.timestamp < ?"
			args = append(args, *to)
		}
		conds = append(conds, "c.id IN ("+sub+")")
	}
	if f.AgentID != "" {
		conds = append(conds, "c.agent_id = ?")
		args = append(args, f.AgentID)
	}
	return strings.Join(conds, " AND "), args
}

// matching loads every conversation matching f, up to the hard cap. The
// second result reports whether the cap truncated the set.
func (r *Repository) matching(tx *gorm.DB, f registrystore.ListFilter) ([]registrystore.ConversationSummary, bool, error) {
	q := tx.Table("conversations AS c").
		Select(summaryColumns).
		Joins("LEFT JOIN messages m ON m.conversation_id = c.id")
	if where, args := filterClause(f); where != "" {
		q = q.Where(where, args...)
	}
	rows, err := q.Group(summaryGroupBy).Order("c.id DESC").Limit(r.hardCap + 1).Rows()
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []registrystore.ConversationSummary
	for rows.Next() {
		var row summaryRow
		if err := rows.Scan(&row.id, &row.externalID, &row.createdAt, &row.status, &row.agentID,
			&row.cost, &row.summary, &row.startedAt, &row.endedAt, &row.turnCount, &row.timedCount); err != nil {
			return nil, false, err
		}
		out = append(out, row.toSummary())
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	approximate := len(out) > r.hardCap
	if approximate {
		out = out[:r.hardCap]
	}
	return out, approximate, nil
}

// sortSummaries orders newest first by first message time, falling back to
// creation time, with the external id as a tiebreaker so the order is total.
func sortSummaries(s []registrystore.ConversationSummary) {
	slices.SortFunc(s, func(a, b registrystore.ConversationSummary) int {
		if c := b.SortTime().Compare(a.SortTime()); c != 0 {
			return c
		}
		return cmp.Compare(a.ExternalID, b.ExternalID)
	})
}

func window(s []registrystore.ConversationSummary, page registrystore.Page) []registrystore.ConversationSummary {
	lo := min(page.Offset, len(s))
	hi := min(lo+page.Limit, len(s))
	out := make([]registrystore.ConversationSummary, hi-lo)
	copy(out, s[lo:hi])
	return out
}

func (r *Repository) ListConversations(ctx context.Context, filter registrystore.ListFilter, page registrystore.Page) (*registrystore.ConversationPage, error) {
	page, err := page.Normalize()
	if err == nil {
		err = filter.Validate()
	}
	if err != nil {
		return failedPage(page, err), err
	}

	var result *registrystore.ConversationPage
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		summaries, approximate, err := r.matching(tx, filter)
		if err != nil {
			return err
		}
		sortSummaries(summaries)
		result = &registrystore.ConversationPage{
			Data:        window(summaries, page),
			Total:       len(summaries),
			Offset:      page.Offset,
			Limit:       page.Limit,
			Approximate: approximate,
		}
		return nil
	})
	if err != nil {
		logFailure("list_conversations", err)
		return failedPage(page, err), fmt.Errorf("list conversations: %w", err)
	}
	return result, nil
}

func (r *Repository) GetConversation(ctx context.Context, externalID string) (*registrystore.ConversationDetail, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, &registrystore.ValidationError{Field: "externalId", Message: "is required"}
	}
	var conv model.Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order(messageOrder)
		}).Where("external_id = ?", externalID).First(&conv).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: externalID}
	}
	if err != nil {
		logFailure("get_conversation", err)
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return toDetail(conv), nil
}

func toDetail(conv model.Conversation) *registrystore.ConversationDetail {
	d := &registrystore.ConversationDetail{
		ConversationSummary: registrystore.ConversationSummary{
			ExternalID: conv.ExternalID,
			CreatedAt:  conv.CreatedAt.UTC(),
			Status:     conv.Status,
			AgentID:    conv.AgentID,
			Cost:       conv.Cost,
			Summary:    conv.Summary,
			TurnCount:  len(conv.Messages),
		},
		Messages: conv.Messages,
	}
	if d.Messages == nil {
		d.Messages = []model.Message{}
	}
	timed := 0
	for _, m := range conv.Messages {
		if m.Timestamp == nil {
			continue
		}
		ts := m.Timestamp.UTC()
		timed++
		if d.StartedAt == nil || ts.Before(*d.StartedAt) {
			d.StartedAt = &ts
		}
		if d.EndedAt == nil || ts.After(*d.EndedAt) {
			d.EndedAt = &ts
		}
	}
	d.DurationSeconds = duration(timed, d.StartedAt, d.EndedAt)
	return d
}

func (r *Repository) GetDashboardStats(ctx context.Context, filter registrystore.ListFilter) (*registrystore.DashboardStats, error) {
	if err := filter.Validate(); err != nil {
		return failedStats(err), err
	}

	now := r.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var stats *registrystore.DashboardStats
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		summaries, approximate, err := r.matching(tx, filter)
		if err != nil {
			return err
		}
		stats = aggregate(summaries)
		stats.Approximate = approximate

		q := tx.Table("conversations AS c").Select("COALESCE(SUM(c.cost), 0)").Where("c.created_at >= ?", monthStart)
		if filter.AgentID != "" {
			q = q.Where("c.agent_id = ?", filter.AgentID)
		}
		return q.Row().Scan(&stats.MonthToDateCost)
	})
	if err != nil {
		logFailure("get_dashboard_stats", err)
		return failedStats(err), fmt.Errorf("get dashboard stats: %w", err)
	}
	return stats, nil
}

func aggregate(summaries []registrystore.ConversationSummary) *registrystore.DashboardStats {
	stats := &registrystore.DashboardStats{TotalConversations: len(summaries)}
	var durationSum, costSum float64
	var durations, costs, done int
	for _, s := range summaries {
		stats.TotalMessages += s.TurnCount
		if s.DurationSeconds != nil {
			durationSum += *s.DurationSeconds
			durations++
		}
		if s.Cost != nil {
			costSum += *s.Cost
			costs++
		}
		if strings.EqualFold(s.Status, model.StatusDone) {
			done++
		}
		start := s.SortTime().UTC()
		stats.ByHour[start.Hour()]++
		stats.ByWeekday[int(start.Weekday())]++
	}
	if durations > 0 {
		avg := durationSum / float64(durations)
		stats.AvgDurationSeconds = &avg
	}
	if costs > 0 {
		avg := costSum / float64(costs)
		stats.AvgCost = &avg
	}
	if len(summaries) > 0 {
		stats.CompletionRate = float64(done) / float64(len(summaries))
	}
	return stats
}

func (r *Repository) ListAgents(ctx context.Context) ([]string, error) {
	agents := []string{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(&model.Conversation{}).
			Where("agent_id <> ''").
			Distinct().
			Order("agent_id").
			Pluck("agent_id", &agents).Error
	})
	if err != nil {
		logFailure("list_agents", err)
		return []string{}, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchSnippets returns matching messages, at most PerConversation per
// conversation. Within a conversation the earliest matches win, so a few
// long conversations cannot crowd out the rest.
func (r *Repository) SearchSnippets(ctx context.Context, query registrystore.SnippetQuery) (*registrystore.SnippetResults, error) {
	if err := query.Validate(); err != nil {
		return failedSnippets(err), err
	}

	var termConds []string
	var args []any
	for _, t := range query.Terms {
		termConds = append(termConds, `LOWER(m.text) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscaper.Replace(strings.ToLower(t))+"%")
	}
	where := "(" + strings.Join(termConds, " OR ") + ")"
	if query.Speaker != model.SpeakerAny {
		where += " AND m.speaker = ?"
		args = append(args, string(query.Speaker))
	}
	if fc, fargs := filterClause(query.Filter); fc != "" {
		where += " AND " + fc
		args = append(args, fargs...)
	}
	args = append(args, query.PerConversation, query.Limit)

	stmt := `SELECT external_id, speaker, text, ts FROM (
		SELECT c.external_id AS external_id, m.speaker AS speaker, m.text AS text, m.timestamp AS ts,
			ROW_NUMBER() OVER (
				PARTITION BY m.conversation_id
				ORDER BY CASE WHEN m.timestamp IS NULL THEN 1 ELSE 0 END, m.timestamp, m.id
			) AS rn
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE ` + where + `
	) ranked
	WHERE rn <= ?
	ORDER BY CASE WHEN ts IS NULL THEN 1 ELSE 0 END, ts, external_id
	LIMIT ?`

	results := &registrystore.SnippetResults{Data: []registrystore.Snippet{}}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := tx.Raw(stmt, args...).Rows()
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var s registrystore.Snippet
			var speaker string
			var ts dbTime
			if err := rows.Scan(&s.ExternalID, &speaker, &s.Text, &ts); err != nil {
				return err
			}
			s.Speaker = model.Role(speaker)
			s.Timestamp = ts.ptr()
			results.Data = append(results.Data, s)
		}
		return rows.Err()
	})
	if err != nil {
		logFailure("search_snippets", err)
		return failedSnippets(err), fmt.Errorf("search snippets: %w", err)
	}
	return results, nil
}
