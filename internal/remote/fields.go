package remote

import (
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/model"
	"github.com/tidwall/gjson"
)

// Accessor tables list every historical name of a field, most recent first.
var (
	idFields         = []string{"conversation_id", "id", "conversationId", "uuid"}
	createdFields    = []string{"start_time_unix_secs", "metadata.start_time_unix_secs", "created_at", "createdAt", "start_time"}
	statusFields     = []string{"status", "state", "call_status"}
	agentFields      = []string{"agent_id", "agentId", "agent.id"}
	costFields       = []string{"metadata.cost", "cost", "charging.cost", "total_cost"}
	summaryFields    = []string{"analysis.transcript_summary", "summary", "transcript_summary", "analysis.summary"}
	transcriptFields = []string{"transcript", "turns", "messages", "conversation.transcript"}

	turnTextFields = []string{"message", "text", "content", "message.text", "message.content"}
	// Role inference order: explicit role, then speaker, then sender type.
	turnRoleFields   = []string{"role", "speaker", "sender_type", "source", "from"}
	turnOffsetFields = []string{"time_in_call_secs"}
	turnTimeFields   = []string{"timestamp", "created_at", "time"}
)

// Listed is a conversation header as returned by a list endpoint.
type Listed struct {
	ExternalID string
	CreatedAt  time.Time
	Status     string
	AgentID    string
}

// first returns the first accessor that resolves to a non-empty value.
func first(r gjson.Result, paths []string) gjson.Result {
	for _, p := range paths {
		v := r.Get(p)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if v.Type == gjson.String && strings.TrimSpace(v.Str) == "" {
			continue
		}
		return v
	}
	return gjson.Result{}
}

func firstArray(r gjson.Result, paths []string) []gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.IsArray() {
			return v.Array()
		}
	}
	return nil
}

func firstString(r gjson.Result, paths []string) string {
	for _, p := range paths {
		v := r.Get(p)
		switch v.Type {
		case gjson.String:
			if s := strings.TrimSpace(v.Str); s != "" {
				return s
			}
		case gjson.Number:
			return v.Raw
		}
	}
	return ""
}

func firstFloat(r gjson.Result, paths []string) *float64 {
	for _, p := range paths {
		v := r.Get(p)
		switch v.Type {
		case gjson.Number:
			f := v.Float()
			return &f
		case gjson.String:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func firstTime(r gjson.Result, paths []string) (time.Time, bool) {
	for _, p := range paths {
		if t, ok := parseTime(r.Get(p)); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
}

// parseTime accepts unix seconds or milliseconds, as numbers or numeric
// strings, and RFC 3339 style strings. Zoneless strings are taken as UTC.
func parseTime(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.Number:
		return fromUnix(v.Float())
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromUnix(f)
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func fromUnix(f float64) (time.Time, bool) {
	if f <= 0 {
		return time.Time{}, false
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), true
}

func parseListed(r gjson.Result) (Listed, error) {
	id := firstString(r, idFields)
	if id == "" {
		return Listed{}, &SchemaDriftWarning{Field: "id"}
	}
	l := Listed{
		ExternalID: id,
		Status:     firstString(r, statusFields),
		AgentID:    firstString(r, agentFields),
	}
	if t, ok := firstTime(r, createdFields); ok {
		l.CreatedAt = t
	}
	return l, nil
}

// parseDetail maps a detail payload to a Conversation. Fields absent from the
// payload fall back to the listed header.
func parseDetail(body []byte, listed Listed) (model.Conversation, error) {
	r := gjson.ParseBytes(body)
	if r.Get("conversation").IsObject() && firstString(r, idFields) == "" {
		r = r.Get("conversation")
	}

	c := model.Conversation{
		ExternalID: firstString(r, idFields),
		Status:     firstString(r, statusFields),
		AgentID:    firstString(r, agentFields),
		Cost:       firstFloat(r, costFields),
	}
	if c.ExternalID == "" {
		c.ExternalID = listed.ExternalID
	}
	if c.ExternalID == "" {
		return model.Conversation{}, &SchemaDriftWarning{Field: "id"}
	}
	if c.Status == "" {
		c.Status = listed.Status
	}
	if c.AgentID == "" {
		c.AgentID = listed.AgentID
	}
	if s := firstString(r, summaryFields); s != "" {
		c.Summary = &s
	}
	if t, ok := firstTime(r, createdFields); ok {
		c.CreatedAt = t
	} else {
		c.CreatedAt = listed.CreatedAt
	}

	for i, turn := range firstArray(r, transcriptFields) {
		m, err := parseTurn(turn, c.CreatedAt)
		if err != nil {
			log.Warn("Remote: skipping turn", "conversation", c.ExternalID, "index", i, "err", err)
			continue
		}
		c.Messages = append(c.Messages, m)
	}
	if c.CreatedAt.IsZero() {
		for _, m := range c.Messages {
			if m.Timestamp != nil {
				c.CreatedAt = *m.Timestamp
				break
			}
		}
	}
	return c, nil
}

func parseTurn(turn gjson.Result, start time.Time) (model.Message, error) {
	text := firstString(turn, turnTextFields)
	if text == "" {
		return model.Message{}, &SchemaDriftWarning{Field: "text"}
	}
	role, ok := inferRole(turn)
	if !ok {
		return model.Message{}, &SchemaDriftWarning{Field: "role"}
	}
	m := model.Message{Speaker: role, Text: text}

	if off := first(turn, turnOffsetFields); off.Type == gjson.Number && !start.IsZero() {
		ts := start.Add(time.Duration(off.Float() * float64(time.Second)))
		m.Timestamp = &ts
	} else if ts, ok := firstTime(turn, turnTimeFields); ok {
		m.Timestamp = &ts
	}
	return m, nil
}

// inferRole walks the role accessors in order; the first recognized label wins.
func inferRole(turn gjson.Result) (model.Role, bool) {
	for _, p := range turnRoleFields {
		v := turn.Get(p)
		if v.Type != gjson.String {
			continue
		}
		if role, ok := model.ParseRole(v.Str); ok {
			return role, true
		}
	}
	return "", false
}
