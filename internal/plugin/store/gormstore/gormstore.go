// Package gormstore implements store.ConversationRepository on top of gorm
// using only SQL that both the postgres and sqlite dialects accept.
package gormstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"gorm.io/gorm"
)

// DefaultHardCap bounds how many conversations a list or stats query loads.
const DefaultHardCap = 10000

// messageOrder sorts transcript turns chronologically with untimed turns last.
const messageOrder = "CASE WHEN timestamp IS NULL THEN 1 ELSE 0 END, timestamp, id"

// Repository implements store.ConversationRepository using GORM.
type Repository struct {
	db      *gorm.DB
	hardCap int
	now     func() time.Time
}

// Option customizes a Repository.
type Option func(*Repository)

// WithHardCap sets the maximum number of matching conversations loaded per query.
func WithHardCap(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.hardCap = n
		}
	}
}

// WithClock overrides the clock used for month-to-date statistics.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// New creates a Repository over db.
func New(db *gorm.DB, opts ...Option) *Repository {
	r := &Repository{db: db, hardCap: DefaultHardCap, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DB returns the underlying gorm handle.
func (r *Repository) DB() *gorm.DB { return r.db }

// Ping checks that the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ExecSchema runs a multi-statement schema script on a dedicated connection.
func ExecSchema(ctx context.Context, db *gorm.DB, schema string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

func failedPage(page registrystore.Page, err error) *registrystore.ConversationPage {
	return &registrystore.ConversationPage{
		Data:   []registrystore.ConversationSummary{},
		Offset: page.Offset,
		Limit:  page.Limit,
		Error:  err.Error(),
	}
}

func failedStats(err error) *registrystore.DashboardStats {
	return &registrystore.DashboardStats{Error: err.Error()}
}

func failedSnippets(err error) *registrystore.SnippetResults {
	return &registrystore.SnippetResults{Data: []registrystore.Snippet{}, Error: err.Error()}
}

func logFailure(op string, err error) {
	log.Error("Repository: query failed, transaction rolled back", "op", op, "err", err)
}

// dbTime scans timestamps from drivers that return time.Time as well as
// from sqlite aggregates, which come back as text.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value of type %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unrecognized time value %q", s)
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

var _ registrystore.ConversationRepository = (*Repository)(nil)
