// Package sqlitevec stores embeddings in the embedding column of the sqlite
// conversations table and ranks them with the sqlite-vec extension.
package sqlitevec

import (
	"context"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/model"
	"github.com/chirino/conversation-service/internal/plugin/store/sqlite"
	registryvector "github.com/chirino/conversation-service/internal/registry/vector"
	"gorm.io/gorm"
)

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "sqlitevec",
		Loader: load,
	})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.DBURL == "" {
		return nil, fmt.Errorf("sqlitevec: CONVERSATION_SERVICE_DB_URL is required")
	}
	db, err := sqlite.Open(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: %w", err)
	}
	return New(db), nil
}

// Store implements VectorStore with vec_distance_cosine.
type Store struct {
	db *gorm.DB
}

// New wraps a database opened with sqlite.Open.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) IsEnabled() bool { return true }
func (s *Store) Name() string    { return "sqlitevec" }

func (s *Store) Search(ctx context.Context, embedding []float32, dateRange model.DateRange, limit int, threshold float64) ([]registryvector.SimilarityMatch, error) {
	if limit <= 0 {
		return nil, nil
	}
	query, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: serialize query: %w", err)
	}

	var where []string
	args := []any{query}
	from, to := dateRange.Bounds()
	if from != nil || to != nil {
		cond := []string{"m.conversation_id = c.id", "m.timestamp IS NOT NULL"}
		if from != nil {
			cond = append(cond, "m.timestamp >= ?")
			args = append(args, *from)
		}
		if to != nil {
			cond = append(cond, "m.timestamp < ?")
			args = append(args, *to)
		}
		where = append(where, "EXISTS (SELECT 1 FROM messages m WHERE "+strings.Join(cond, " AND ")+")")
	}
	where = append(where, "c.embedding IS NOT NULL")

	sql := `SELECT external_id, summary, score FROM (
	SELECT c.external_id AS external_id, COALESCE(c.summary, '') AS summary,
	       1 - vec_distance_cosine(c.embedding, ?) AS score
	FROM conversations c
	WHERE ` + strings.Join(where, " AND ") + `
) WHERE score >= ? ORDER BY score DESC, external_id LIMIT ?`
	args = append(args, threshold, limit)

	rows, err := s.db.WithContext(ctx).Raw(sql, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []registryvector.SimilarityMatch
	for rows.Next() {
		var r registryvector.SimilarityMatch
		if err := rows.Scan(&r.ExternalID, &r.Summary, &r.Score); err != nil {
			return nil, fmt.Errorf("sqlitevec scan: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) Upsert(ctx context.Context, entries []registryvector.UpsertRequest) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			blob, err := sqlite_vec.SerializeFloat32(e.Embedding)
			if err != nil {
				return fmt.Errorf("sqlitevec: serialize %s: %w", e.ExternalID, err)
			}
			res := tx.Exec(
				`UPDATE conversations SET embedding = ?, embedding_model = ? WHERE external_id = ?`,
				blob, e.ModelName, e.ExternalID,
			)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("sqlitevec upsert: conversation %s not found", e.ExternalID)
			}
		}
		return nil
	})
}
