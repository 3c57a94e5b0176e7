package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/metrics"
	"github.com/chirino/conversation-service/internal/model"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"github.com/chirino/conversation-service/internal/remote"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Platform is the remote source of conversations.
type Platform interface {
	ListConversations(ctx context.Context, since *time.Time) (remote.ListResult, error)
	FetchConversation(ctx context.Context, listed remote.Listed) (model.Conversation, error)
}

// SyncEngine copies conversations from the platform into the repository.
// Runs are serialized within the process; a second concurrent Run returns
// ErrSyncRunning.
type SyncEngine struct {
	repo        registrystore.ConversationRepository
	platform    Platform
	batchSize   int
	concurrency int
	now         func() time.Time
	afterRun    func(ctx context.Context, run *model.SyncRun)

	running sync.Mutex
	state   atomic.Value
}

// SyncOption customizes a SyncEngine.
type SyncOption func(*SyncEngine)

// WithBatchSize sets how many conversations are persisted per transaction.
func WithBatchSize(n int) SyncOption {
	return func(e *SyncEngine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithConcurrency bounds the number of concurrent detail fetches.
func WithConcurrency(n int) SyncOption {
	return func(e *SyncEngine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithSyncClock overrides the time source.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(e *SyncEngine) { e.now = now }
}

// WithAfterRun registers a callback invoked after every successful run that
// added conversations.
func WithAfterRun(fn func(ctx context.Context, run *model.SyncRun)) SyncOption {
	return func(e *SyncEngine) { e.afterRun = fn }
}

// NewSyncEngine creates a SyncEngine.
func NewSyncEngine(repo registrystore.ConversationRepository, platform Platform, opts ...SyncOption) *SyncEngine {
	e := &SyncEngine{
		repo:        repo,
		platform:    platform,
		batchSize:   50,
		concurrency: 4,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.state.Store(model.SyncIdle)
	return e
}

// State returns the state of the run in progress, or IDLE.
func (e *SyncEngine) State() model.SyncState {
	return e.state.Load().(model.SyncState)
}

// Run executes one sync run and returns its ledger row. A failure to list
// remote conversations fails the run; per-conversation failures are counted
// and skipped.
func (e *SyncEngine) Run(ctx context.Context, mode model.SyncMode) (*model.SyncRun, error) {
	if !e.running.TryLock() {
		return nil, ErrSyncRunning
	}
	defer e.running.Unlock()
	defer e.state.Store(model.SyncIdle)

	run := &model.SyncRun{
		ID:        uuid.NewString(),
		Mode:      mode,
		State:     model.SyncFetchingList,
		StartedAt: e.now().UTC(),
	}
	e.state.Store(run.State)
	if err := e.repo.CreateSyncRun(ctx, run); err != nil {
		return nil, err
	}
	log.Info("Sync: run started", "id", run.ID, "mode", mode)

	var since *time.Time
	if mode == model.SyncIncremental {
		last, err := e.repo.LastSuccessfulSyncRun(ctx)
		if err != nil {
			return e.fail(ctx, run, err)
		}
		if last != nil {
			since = last.Watermark
		}
	}

	listed, err := e.platform.ListConversations(ctx, since)
	if err != nil {
		return e.fail(ctx, run, &ListFetchError{Err: err})
	}
	run.Listed = len(listed.Conversations)
	run.Skipped += listed.Drifted

	fresh, err := e.dedup(ctx, listed.Conversations)
	if err != nil {
		return e.fail(ctx, run, err)
	}
	run.Skipped += run.Listed - len(fresh)
	log.Info("Sync: list fetched", "id", run.ID, "strategy", listed.Strategy, "listed", run.Listed, "new", len(fresh))

	e.transition(ctx, run, model.SyncFetchingDetails)
	conversations, skipped, failed := e.fetchDetails(ctx, fresh)
	if ctx.Err() != nil {
		return e.fail(ctx, run, ctx.Err())
	}
	run.Skipped += skipped
	run.Failed += failed

	e.transition(ctx, run, model.SyncPersisting)
	for start := 0; start < len(conversations); start += e.batchSize {
		end := min(start+e.batchSize, len(conversations))
		batch := conversations[start:end]
		added, err := e.repo.SaveConversations(ctx, batch)
		if err != nil {
			log.Error("Sync: batch failed", "id", run.ID, "size", len(batch), "err", err)
			run.Failed += len(batch)
			continue
		}
		run.Added += added
		run.Skipped += len(batch) - added
	}

	// Conversations that failed would be hidden from the next incremental run
	// by a newer watermark, so it only advances on a clean run.
	if run.Failed == 0 {
		w := run.StartedAt
		run.Watermark = &w
	} else {
		run.Watermark = since
	}
	finished := e.now().UTC()
	run.FinishedAt = &finished
	e.transition(ctx, run, model.SyncDone)

	metrics.ObserveSyncRun(string(mode), string(run.State), run.Added, run.Skipped, run.Failed)
	log.Info("Sync: run complete", "id", run.ID, "listed", run.Listed, "added", run.Added, "skipped", run.Skipped, "failed", run.Failed)
	if e.afterRun != nil && run.Added > 0 {
		e.afterRun(ctx, run)
	}
	return run, nil
}

// dedup drops listed conversations that are already persisted, in one lookup.
func (e *SyncEngine) dedup(ctx context.Context, listed []remote.Listed) ([]remote.Listed, error) {
	if len(listed) == 0 {
		return nil, nil
	}
	ids := make([]string, len(listed))
	for i, l := range listed {
		ids[i] = l.ExternalID
	}
	existing, err := e.repo.ExistingExternalIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	fresh := make([]remote.Listed, 0, len(listed))
	for _, l := range listed {
		if !existing[l.ExternalID] {
			fresh = append(fresh, l)
		}
	}
	return fresh, nil
}

// fetchDetails loads transcripts on a bounded worker pool. The result keeps
// list order; conversations that could not be fetched are left out.
func (e *SyncEngine) fetchDetails(ctx context.Context, listed []remote.Listed) ([]model.Conversation, int, int) {
	results := make([]*model.Conversation, len(listed))
	var skipped, failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, l := range listed {
		g.Go(func() error {
			conv, err := e.platform.FetchConversation(gctx, l)
			if err != nil {
				var drift *remote.SchemaDriftWarning
				switch {
				case gctx.Err() != nil:
					return gctx.Err()
				case registrystore.IsNotFound(err), errors.As(err, &drift):
					log.Warn("Sync: skipping conversation", "externalId", l.ExternalID, "err", err)
					skipped.Add(1)
				default:
					log.Error("Sync: fetch conversation failed", "externalId", l.ExternalID, "err", err)
					failed.Add(1)
				}
				return nil
			}
			results[i] = &conv
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.Conversation, 0, len(listed))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, int(skipped.Load()), int(failed.Load())
}

func (e *SyncEngine) transition(ctx context.Context, run *model.SyncRun, state model.SyncState) {
	run.State = state
	e.state.Store(state)
	if err := e.repo.UpdateSyncRun(ctx, run); err != nil {
		log.Error("Sync: update run ledger failed", "id", run.ID, "state", state, "err", err)
	}
}

func (e *SyncEngine) fail(ctx context.Context, run *model.SyncRun, cause error) (*model.SyncRun, error) {
	msg := cause.Error()
	finished := e.now().UTC()
	run.Error = &msg
	run.FinishedAt = &finished
	e.transition(context.WithoutCancel(ctx), run, model.SyncFailed)
	metrics.ObserveSyncRun(string(run.Mode), string(run.State), run.Added, run.Skipped, run.Failed)
	log.Error("Sync: run failed", "id", run.ID, "err", cause)
	return run, cause
}
