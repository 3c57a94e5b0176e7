package model

import (
	"strings"
	"time"
)

// Role is the logical speaker of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// ParseRole maps the many speaker labels seen in platform payloads to a Role.
// The second return value is false when the label is not recognized.
func ParseRole(raw string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user", "human", "customer", "caller", "client", "contact", "end_user", "enduser":
		return RoleUser, true
	case "agent", "assistant", "ai", "bot", "system_agent", "model", "operator":
		return RoleAgent, true
	default:
		return "", false
	}
}

// SpeakerFilter restricts snippet search to one side of the conversation.
type SpeakerFilter string

const (
	SpeakerAny   SpeakerFilter = "any"
	SpeakerUser  SpeakerFilter = "user"
	SpeakerAgent SpeakerFilter = "agent"
)

// Conversation statuses reported by the platform.
const (
	StatusDone       = "done"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
)

// Conversation is a persisted transcript header. ExternalID is assigned by the
// platform and is the only join key that is stable across environments.
type Conversation struct {
	ID             int64      `json:"id"                       gorm:"primaryKey;autoIncrement"`
	ExternalID     string     `json:"externalId"               gorm:"not null;uniqueIndex"`
	CreatedAt      time.Time  `json:"createdAt"                gorm:"not null"`
	Status         string     `json:"status"                   gorm:"not null;default:''"`
	AgentID        string     `json:"agentId"                  gorm:"not null;default:'';index"`
	Cost           *float64   `json:"cost,omitempty"`
	Summary        *string    `json:"summary,omitempty"`
	EmbeddingModel *string    `json:"embeddingModel,omitempty"`
	EmbeddedAt     *time.Time `json:"embeddedAt,omitempty"`
	Messages       []Message  `json:"messages,omitempty"       gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}

func (Conversation) TableName() string { return "conversations" }

// Message is one turn of a transcript. Timestamp is nil when the platform
// did not report one for the turn.
type Message struct {
	ID             int64      `json:"id"                  gorm:"primaryKey;autoIncrement"`
	ConversationID int64      `json:"conversationId"      gorm:"not null;index"`
	Speaker        Role       `json:"speaker"             gorm:"not null"`
	Text           string     `json:"text"                gorm:"not null"`
	Timestamp      *time.Time `json:"timestamp,omitempty" gorm:"index"`
}

func (Message) TableName() string { return "messages" }

// SyncMode selects how much remote history a sync run requests.
type SyncMode string

const (
	SyncIncremental SyncMode = "incremental"
	SyncFull        SyncMode = "full"
)

// ParseSyncMode validates a user supplied mode; empty means incremental.
func ParseSyncMode(raw string) (SyncMode, bool) {
	switch SyncMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SyncIncremental:
		return SyncIncremental, true
	case SyncFull:
		return SyncFull, true
	default:
		return "", false
	}
}

// SyncState is the state of a sync run.
type SyncState string

const (
	SyncIdle            SyncState = "IDLE"
	SyncFetchingList    SyncState = "FETCHING_LIST"
	SyncFetchingDetails SyncState = "FETCHING_DETAILS"
	SyncPersisting      SyncState = "PERSISTING"
	SyncDone            SyncState = "DONE"
	SyncFailed          SyncState = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s SyncState) Terminal() bool {
	return s == SyncDone || s == SyncFailed
}

// SyncRun is the ledger row written for every sync run.
type SyncRun struct {
	ID         string     `json:"id"                   gorm:"primaryKey"`
	Mode       SyncMode   `json:"mode"                 gorm:"not null"`
	State      SyncState  `json:"state"                gorm:"not null"`
	StartedAt  time.Time  `json:"startedAt"            gorm:"not null"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	// Watermark is the lower bound used by the next incremental run.
	Watermark *time.Time `json:"watermark,omitempty"`
	Listed    int        `json:"listed"               gorm:"not null;default:0"`
	Added     int        `json:"added"                gorm:"not null;default:0"`
	Skipped   int        `json:"skipped"              gorm:"not null;default:0"`
	Failed    int        `json:"failed"               gorm:"not null;default:0"`
	Error     *string    `json:"error,omitempty"`
}

func (SyncRun) TableName() string { return "sync_runs" }

// DateRange is an inclusive range of UTC calendar days. Either bound may be nil.
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// IsZero reports whether neither bound is set.
func (r DateRange) IsZero() bool {
	return r.Start == nil && r.End == nil
}

// Bounds returns the half-open instant range [from, to) covering the days of r:
// from is the start day at 00:00:00 UTC and to is the day after the end day at
// 00:00:00 UTC, so every instant up to end 23:59:59.999 is included.
func (r DateRange) Bounds() (from, to *time.Time) {
	if r.Start != nil {
		f := truncateDay(*r.Start)
		from = &f
	}
	if r.End != nil {
		t := truncateDay(*r.End).AddDate(0, 0, 1)
		to = &t
	}
	return from, to
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
