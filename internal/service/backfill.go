package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/model"
)

// UnembeddedSource lists conversations that still need an embedding.
type UnembeddedSource interface {
	ListUnembedded(ctx context.Context, afterID int64, limit int) ([]model.Conversation, error)
}

// Backfiller embeds conversations whose embedding is still null.
type Backfiller struct {
	source   UnembeddedSource
	index    *EmbeddingIndex
	interval time.Duration
	batch    int
	trigger  chan struct{}
}

// NewBackfiller creates a Backfiller processing batchSize conversations per pass.
func NewBackfiller(source UnembeddedSource, index *EmbeddingIndex, batchSize int, interval time.Duration) *Backfiller {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Backfiller{
		source:   source,
		index:    index,
		interval: interval,
		batch:    batchSize,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests a pass from the Start loop without blocking.
func (b *Backfiller) Trigger() {
	select {
	case b.trigger <- struct{}{}:
	default:
	}
}

// Start runs a pass on every tick and on every Trigger. Returns when ctx is
// cancelled.
func (b *Backfiller) Start(ctx context.Context) {
	if !b.index.Enabled() {
		log.Info("Backfill disabled (no embedder or vector store)")
		return
	}

	var tick <-chan time.Time
	if b.interval > 0 {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-b.trigger:
		}
		if _, err := b.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error("Backfill: pass failed", "err", err)
		}
	}
}

// RunOnce walks every unembedded conversation once, in id order, and returns
// the number embedded. Conversations that fail or have no text are left for
// the next pass without holding back the ones after them.
func (b *Backfiller) RunOnce(ctx context.Context) (int, error) {
	if !b.index.Enabled() {
		return 0, nil
	}
	var (
		total, skipped int
		afterID        int64
	)
	for {
		convs, err := b.source.ListUnembedded(ctx, afterID, b.batch)
		if err != nil {
			return total, err
		}
		for _, c := range convs {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			if emb, _ := b.index.Upsert(ctx, c); emb != nil {
				total++
			} else {
				skipped++
			}
		}
		if len(convs) < b.batch {
			break
		}
		afterID = convs[len(convs)-1].ID
	}
	if total > 0 || skipped > 0 {
		log.Info("Backfill: pass complete", "embedded", total, "skipped", skipped)
	}
	return total, nil
}
