package pgvector

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/model"
	"github.com/chirino/conversation-service/internal/plugin/store/postgres"
	registrymigrate "github.com/chirino/conversation-service/internal/registry/migrate"
	registryvector "github.com/chirino/conversation-service/internal/registry/vector"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

//go:embed db/pgvector-schema.sql
var pgvectorSchemaSQL string

// pgvectorMigrator implements migrate.Migrator for the pgvector schema.
type pgvectorMigrator struct{}

func (m *pgvectorMigrator) Name() string { return "pgvector" }
func (m *pgvectorMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.VectorMigrateAtStart || cfg.VectorType != "pgvector" || cfg.DBURL == "" || (cfg.DatastoreType != "" && cfg.DatastoreType != "postgres") {
		return nil
	}
	log.Info("Running migration", "name", m.Name(), "dimension", cfg.EmbeddingDimension())
	db, err := postgres.Open(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return db.WithContext(ctx).Exec(schemaFor(cfg.EmbeddingDimension())).Error
}

func schemaFor(dimension int) string {
	return strings.ReplaceAll(pgvectorSchemaSQL, "{{DIMENSION}}", strconv.Itoa(dimension))
}

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "pgvector",
		Loader: load,
	})
	// Runs after the postgres schema (Order 100) which creates the conversations table.
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &pgvectorMigrator{}})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("pgvector: missing config in context")
	}
	db, err := postgres.Open(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector: %w", err)
	}
	return New(db), nil
}

// New creates a PgvectorStore over an open postgres connection.
func New(db *gorm.DB) *PgvectorStore {
	return &PgvectorStore{db: db}
}

// PgvectorStore implements VectorStore on the embedding column of the
// conversations table and the match_conversations SQL function.
type PgvectorStore struct {
	db *gorm.DB
}

func (s *PgvectorStore) IsEnabled() bool { return true }
func (s *PgvectorStore) Name() string    { return "pgvector" }

func (s *PgvectorStore) Search(ctx context.Context, embedding []float32, dateRange model.DateRange, limit int, threshold float64) ([]registryvector.SimilarityMatch, error) {
	if limit <= 0 {
		return nil, nil
	}
	from, to := dateRange.Bounds()
	rows, err := s.db.WithContext(ctx).Raw(
		`SELECT external_id, summary, similarity FROM match_conversations(?::vector, ?, ?, ?, ?)`,
		pgvec.NewVector(embedding), from, to, threshold, limit,
	).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []registryvector.SimilarityMatch
	for rows.Next() {
		var r registryvector.SimilarityMatch
		if err := rows.Scan(&r.ExternalID, &r.Summary, &r.Score); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PgvectorStore) Upsert(ctx context.Context, entries []registryvector.UpsertRequest) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			res := tx.Exec(
				`UPDATE conversations SET embedding = ?::vector, embedding_model = ? WHERE external_id = ?`,
				pgvec.NewVector(e.Embedding), e.ModelName, e.ExternalID,
			)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("pgvector upsert: conversation %s not found", e.ExternalID)
			}
		}
		return nil
	})
}
