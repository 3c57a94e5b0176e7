package gormstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/conversation-service/internal/model"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// existenceChunk keeps IN lists under the sqlite bound-parameter limit.
const existenceChunk = 500

func (r *Repository) ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(ids); start += existenceChunk {
			end := min(start+existenceChunk, len(ids))
			var found []string
			if err := tx.Model(&model.Conversation{}).
				Where("external_id IN ?", ids[start:end]).
				Pluck("external_id", &found).Error; err != nil {
				return err
			}
			for _, id := range found {
				existing[id] = true
			}
		}
		return nil
	})
	if err != nil {
		logFailure("existing_external_ids", err)
		return nil, fmt.Errorf("check existing conversations: %w", err)
	}
	return existing, nil
}

func (r *Repository) SaveConversations(ctx context.Context, conversations []model.Conversation) (int, error) {
	for _, c := range conversations {
		if strings.TrimSpace(c.ExternalID) == "" {
			return 0, &registrystore.ValidationError{Field: "externalId", Message: "is required"}
		}
	}

	added := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		added = 0
		for _, in := range conversations {
			conv, messages := r.normalize(in)
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "external_id"}},
				DoNothing: true,
			}).Create(&conv)
			if res.Error != nil {
				return fmt.Errorf("insert conversation %s: %w", conv.ExternalID, res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}
			for i := range messages {
				messages[i].ConversationID = conv.ID
			}
			if len(messages) > 0 {
				if err := tx.CreateInBatches(messages, 200).Error; err != nil {
					return fmt.Errorf("insert messages for %s: %w", conv.ExternalID, err)
				}
			}
			added++
		}
		return nil
	})
	if err != nil {
		logFailure("save_conversations", err)
		return 0, err
	}
	return added, nil
}

// normalize copies a conversation for insertion with all timestamps in UTC,
// so text comparisons on sqlite order the same way as instants.
func (r *Repository) normalize(in model.Conversation) (model.Conversation, []model.Message) {
	conv := in
	conv.ID = 0
	conv.Messages = nil
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = r.now()
	}
	conv.CreatedAt = conv.CreatedAt.UTC()
	if conv.EmbeddedAt != nil {
		t := conv.EmbeddedAt.UTC()
		conv.EmbeddedAt = &t
	}

	messages := make([]model.Message, len(in.Messages))
	for i, m := range in.Messages {
		m.ID = 0
		if m.Timestamp != nil {
			t := m.Timestamp.UTC()
			m.Timestamp = &t
		}
		messages[i] = m
	}
	return conv, messages
}

func (r *Repository) ListUnembedded(ctx context.Context, afterID int64, limit int) ([]model.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	var convs []model.Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order(messageOrder)
		}).Where("embedded_at IS NULL AND id > ?", afterID).Order("id").Limit(limit).Find(&convs).Error
	})
	if err != nil {
		logFailure("list_unembedded", err)
		return nil, fmt.Errorf("list unembedded conversations: %w", err)
	}
	return convs, nil
}

func (r *Repository) MarkEmbedded(ctx context.Context, externalID string, modelName string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("external_id = ?", externalID).
		Updates(map[string]any{"embedding_model": modelName, "embedded_at": at.UTC()})
	if res.Error != nil {
		return fmt.Errorf("mark embedded: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "conversation", ID: externalID}
	}
	return nil
}

func (r *Repository) CreateSyncRun(ctx context.Context, run *model.SyncRun) error {
	run.StartedAt = run.StartedAt.UTC()
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("create sync run: %w", err)
	}
	return nil
}

func (r *Repository) UpdateSyncRun(ctx context.Context, run *model.SyncRun) error {
	if run.FinishedAt != nil {
		t := run.FinishedAt.UTC()
		run.FinishedAt = &t
	}
	if run.Watermark != nil {
		t := run.Watermark.UTC()
		run.Watermark = &t
	}
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("update sync run: %w", err)
	}
	return nil
}

func (r *Repository) LastSuccessfulSyncRun(ctx context.Context) (*model.SyncRun, error) {
	var runs []model.SyncRun
	err := r.db.WithContext(ctx).
		Where("state = ?", model.SyncDone).
		Order("started_at DESC").
		Limit(1).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("load last sync run: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}
