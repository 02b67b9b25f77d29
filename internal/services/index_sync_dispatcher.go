package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	domain "github.com/KyawIT/what-to-wear-sub000/internal/domain"
	"github.com/KyawIT/what-to-wear-sub000/internal/repositories"
)

const defaultIndexSyncTimeout = 10 * time.Second

// IndexSyncDispatcherDeps bundles collaborators of the index sync dispatcher.
type IndexSyncDispatcherDeps struct {
	Syncer  repositories.IndexSyncer
	Mode    string
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics MetricsRecorder
}

type indexSyncDispatcher struct {
	syncer  repositories.IndexSyncer
	mode    string
	timeout time.Duration
	logger  *zap.Logger
	metrics MetricsRecorder
	wg      sync.WaitGroup
}

var _ IndexSyncDispatcher = (*indexSyncDispatcher)(nil)

// NewIndexSyncDispatcher builds a dispatcher. A nil Syncer disables index sync.
func NewIndexSyncDispatcher(deps IndexSyncDispatcherDeps) IndexSyncDispatcher {
	d := &indexSyncDispatcher{
		syncer:  deps.Syncer,
		mode:    deps.Mode,
		timeout: deps.Timeout,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}
	if d.timeout <= 0 {
		d.timeout = defaultIndexSyncTimeout
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.metrics == nil {
		d.metrics = noopMetrics{}
	}
	if d.mode == "" {
		d.mode = "http"
	}
	return d
}

// Dispatch syncs doc in a detached goroutine. The request context only
// contributes its values; cancellation does not propagate. Failures are
// logged and counted, never returned.
func (d *indexSyncDispatcher) Dispatch(ctx context.Context, doc domain.IndexDocument, token string) {
	if d.syncer == nil || doc.OutfitID == "" {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	detached := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		syncCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()

		if err := d.syncer.SyncOutfit(syncCtx, doc, token); err != nil {
			d.logger.Warn("index sync failed",
				zap.String("outfitId", doc.OutfitID),
				zap.String("userId", doc.UserID),
				zap.String("mode", d.mode),
				zap.Error(err),
			)
			d.metrics.RecordIndexSyncFailure(d.mode)
		}
	}()
}

// Wait blocks until every dispatched sync finished or ctx is done.
func (d *indexSyncDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("index sync: pending syncs not drained"), ctx.Err())
	}
}

func indexDocument(outfit PersistedOutfit, userID string, itemIDs []string, tags []string, title string) domain.IndexDocument {
	id := outfit.ID
	if outfit.UserID != "" {
		userID = outfit.UserID
	}
	if len(outfit.Tags) > 0 {
		tags = outfit.Tags
	}
	if outfit.Title != "" {
		title = outfit.Title
	}
	return domain.IndexDocument{
		OutfitID: id,
		UserID:   userID,
		ItemIDs:  append([]string(nil), itemIDs...),
		Tags:     append([]string(nil), tags...),
		Title:    title,
	}
}
