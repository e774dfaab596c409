package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/storage"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/worker"
)

// DeleteMediaHandler removes one stored media object.
type DeleteMediaHandler struct {
	storage storage.Storage
	logger  *slog.Logger
}

// NewDeleteMediaHandler creates a new handler for delete_media jobs.
func NewDeleteMediaHandler(store storage.Storage, logger *slog.Logger) *DeleteMediaHandler {
	return &DeleteMediaHandler{
		storage: store,
		logger:  logger,
	}
}

// Type returns the job type identifier.
func (h *DeleteMediaHandler) Type() string {
	return worker.JobTypeDeleteMedia
}

// Handle deletes the object. A missing object counts as deleted.
func (h *DeleteMediaHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.DeleteMediaPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}
	if p.Key == "" {
		return worker.Permanentf("empty media key")
	}

	if err := h.storage.Delete(ctx, p.Key); err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("delete media: %w", err)
	}
	h.logger.Debug("Deleted media", "key", p.Key)
	return nil
}
