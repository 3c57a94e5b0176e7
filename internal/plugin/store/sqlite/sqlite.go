// Package sqlite registers a single-file store for development and tests.
// Connections load the sqlite-vec extension so the sqlitevec vector plugin can
// search the embedding column of the same database.
package sqlite

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/conversation-service/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// sqlite-vec registers itself with the SQLite library linked by this driver.
	_ "github.com/mattn/go-sqlite3"
)

//go:embed db/schema.sql
var schemaSQL string

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.ConversationRepository, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBURL == "" {
				return nil, fmt.Errorf("sqlite store: CONVERSATION_SERVICE_DB_URL is required")
			}
			db, err := Open(cfg.DBURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite: %w", err)
			}
			return gormstore.New(db, gormstore.WithHardCap(cfg.ListHardCap)), nil
		},
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

var vecOnce sync.Once

// Open opens the database file at dsn. A single connection is used so that
// in-memory databases and write transactions behave consistently.
func Open(dsn string) (*gorm.DB, error) {
	vecOnce.Do(sqlite_vec.Auto)
	db, err := gorm.Open(sqlite.Open(withPragmas(dsn)), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func withPragmas(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range []string{"_foreign_keys=on", "_busy_timeout=5000"} {
		key := p[:strings.IndexByte(p, '=')+1]
		if strings.Contains(dsn, key) {
			continue
		}
		dsn += sep + p
		sep = "&"
	}
	return dsn
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }
func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.DatastoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := Open(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: failed to open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return Migrate(ctx, db)
}

// Migrate applies the schema to an open database.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := gormstore.ExecSchema(ctx, db, schemaSQL); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	return nil
}
