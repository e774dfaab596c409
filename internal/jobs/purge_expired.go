package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/metrics"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/repository"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/storage"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/worker"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPurgeBatch = 500

	// maxPurgeRounds bounds one job; the scheduler picks up the rest.
	maxPurgeRounds = 20

	// maxConcurrentDeletes limits parallel object deletions.
	maxConcurrentDeletes = 4
)

// MessagePurger deletes expired cached messages and queues follow-up jobs.
type MessagePurger interface {
	worker.Enqueuer
	DeleteExpiredMessages(ctx context.Context, now time.Time, limit int) ([]repository.PurgedMessage, error)
}

// PurgeExpiredHandler removes cached messages past their retention deadline
// together with their captured media.
type PurgeExpiredHandler struct {
	repo    MessagePurger
	storage storage.Storage
	now     func() time.Time
	logger  *slog.Logger
}

// NewPurgeExpiredHandler creates a new handler for purge jobs. A nil clock
// uses time.Now.
func NewPurgeExpiredHandler(repo MessagePurger, store storage.Storage, now func() time.Time, logger *slog.Logger) *PurgeExpiredHandler {
	if now == nil {
		now = time.Now
	}
	return &PurgeExpiredHandler{
		repo:    repo,
		storage: store,
		now:     now,
		logger:  logger,
	}
}

// Type returns the job type identifier.
func (h *PurgeExpiredHandler) Type() string {
	return worker.JobTypePurgeExpired
}

// Handle deletes expired rows in batches until a batch comes back short.
func (h *PurgeExpiredHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.PurgeExpiredPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}
	batch := p.BatchSize
	if batch <= 0 {
		batch = defaultPurgeBatch
	}

	total, media := 0, 0
	for round := 0; round < maxPurgeRounds; round++ {
		purged, err := h.repo.DeleteExpiredMessages(ctx, h.now(), batch)
		if err != nil {
			return fmt.Errorf("delete expired messages: %w", err)
		}
		total += len(purged)
		metrics.MessagesPurgedTotal.Add(float64(len(purged)))

		media += h.deleteMedia(ctx, purged)

		if len(purged) < batch {
			break
		}
	}

	if total > 0 {
		h.logger.Info("Purged expired messages", "messages", total, "media", media)
	}
	return nil
}

// deleteMedia removes the objects of purged rows. Objects that fail to
// delete are handed to delete_media jobs, which retry on their own.
func (h *PurgeExpiredHandler) deleteMedia(ctx context.Context, purged []repository.PurgedMessage) int {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDeletes)

	keys := make(chan string, len(purged))
	attempted := 0
	for _, m := range purged {
		if m.MediaKey == "" {
			continue
		}
		attempted++
		key := m.MediaKey
		g.Go(func() error {
			if err := h.storage.Delete(gctx, key); err != nil {
				h.logger.Warn("Failed to delete purged media", "key", key, "error", err)
				keys <- key
			}
			return nil
		})
	}
	_ = g.Wait()
	close(keys)

	failed := 0
	for key := range keys {
		failed++
		if _, err := worker.EnqueueDeleteMedia(ctx, h.repo, key, 0); err != nil {
			h.logger.Error("Failed to queue media removal", "key", key, "error", err)
		}
	}
	return attempted - failed
}
