// Package service contains the business logic layer.
//
// This file implements the message service: caching business messages for
// later edit and delete reports, capturing disappearing media, and the
// notification quota spent on each report.
package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/cache"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/metrics"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/repository"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/storage"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/worker"
	"github.com/jackc/pgx/v5"
)

// =============================================================================
// Interface Definition
// =============================================================================

// MessageService tracks business messages on behalf of their owner.
type MessageService interface {
	// CacheMessage records one inbound message. Banned participants and
	// unknown owners are skipped. Disappearing media spends the media quota;
	// a denial is returned in the result and nothing is cached.
	CacheMessage(ctx context.Context, ownerID int64, msg domain.InboundMessage) (domain.CacheResult, error)

	// AttachMedia stores captured bytes for a cached message and returns a
	// link to them. Returns ENOTFOUND when the message is unknown.
	AttachMedia(ctx context.Context, ownerID int64, key domain.MessageKey, data []byte) (*AttachResult, error)

	// MessageEdited updates the cached text and reports the previous one.
	MessageEdited(ctx context.Context, ownerID int64, key domain.MessageKey, newText string, editorID int64) (*domain.Notification, error)

	// MessageDeleted removes the cached copy and returns it.
	// Returns ENOTFOUND when nothing was cached.
	MessageDeleted(ctx context.Context, ownerID int64, key domain.MessageKey) (*domain.Notification, error)
}

// MessageConfig tunes the message service.
type MessageConfig struct {
	RecentCacheSize int
	MaxMediaSize    int64

	// MediaURLExpiry is the lifetime of media links in delete reports. The
	// object of a deleted message is removed once it has passed.
	MediaURLExpiry time.Duration
}

// AttachResult describes stored media.
type AttachResult struct {
	MediaKey    string `json:"media_key"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	URL         string `json:"url,omitempty"`
}

// =============================================================================
// Implementation
// =============================================================================

type recentKey struct {
	owner int64
	key   domain.MessageKey
}

type messageService struct {
	uow     *UnitOfWork
	storage storage.Storage
	recent  *cache.Recent[recentKey, domain.CachedMessage]
	config  MessageConfig
	logger  *slog.Logger
}

// NewMessageService creates a new MessageService.
func NewMessageService(uow *UnitOfWork, store storage.Storage, config MessageConfig, logger *slog.Logger) MessageService {
	if config.MediaURLExpiry <= 0 {
		config.MediaURLExpiry = time.Hour
	}
	return &messageService{
		uow:     uow,
		storage: store,
		recent:  cache.New[recentKey, domain.CachedMessage](config.RecentCacheSize),
		config:  config,
		logger:  logger,
	}
}

// =============================================================================
// CacheMessage
// =============================================================================

func (s *messageService) CacheMessage(ctx context.Context, ownerID int64, msg domain.InboundMessage) (domain.CacheResult, error) {
	const op = "message.cache"

	if err := validateInbound(op, msg); err != nil {
		return domain.CacheResult{}, err
	}

	var (
		result domain.CacheResult
		cached domain.CachedMessage
	)
	err := s.uow.Run(ctx, op, ownerID, func(q repository.Querier, owner *domain.User, now time.Time) error {
		if owner.IsBanned {
			result.Outcome = domain.CacheSkipped
			return nil
		}
		if msg.SenderID != 0 && msg.SenderID != ownerID {
			sender, err := q.GetUser(ctx, msg.SenderID)
			switch {
			case err == nil && sender.IsBanned:
				result.Outcome = domain.CacheSkipped
				return nil
			case err != nil && !errors.Is(err, pgx.ErrNoRows):
				return domain.Internal(err, op, "failed to load sender")
			}
		}

		sub := &owner.Subscription
		plan := domain.Resolve(sub, now)

		if msg.IsDisappearing() && msg.Type.IsCapturableMedia() {
			res := domain.CheckAndConsume(sub, plan, now, domain.QuotaMedia)
			metrics.QuotaDecision(domain.QuotaMedia, res)
			result.Quota = &res
			if !res.Allowed {
				result.Outcome = domain.CacheDenied
				return nil
			}
			result.Capture = true
		}

		cached = domain.CachedMessage{
			Key:        msg.Key(),
			OwnerID:    ownerID,
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
			Type:       msg.Type,
			Content:    msg.Content,
			Caption:    msg.Caption,
			ExpiresAt:  domain.RetentionDeadline(plan, now, sub),
			CreatedAt:  now,
		}
		result.ExpiresAt = cached.ExpiresAt

		if !plan.StoreMessages {
			result.Outcome = domain.CacheRecent
			return nil
		}
		if err := q.UpsertCachedMessage(ctx, &cached); err != nil {
			return domain.Internal(err, op, "failed to cache message")
		}
		result.Outcome = domain.CacheStored
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			s.logger.Debug("owner not found, message not cached", "owner_id", ownerID)
			metrics.MessageCached(domain.CacheSkipped)
			return domain.CacheResult{Outcome: domain.CacheSkipped}, nil
		}
		return domain.CacheResult{}, err
	}

	if result.Outcome == domain.CacheStored || result.Outcome == domain.CacheRecent {
		s.remember(cached)
	}
	metrics.MessageCached(result.Outcome)

	s.logger.Debug("message cached",
		"owner_id", ownerID,
		"key", msg.Key().String(),
		"type", msg.Type,
		"outcome", result.Outcome,
	)
	return result, nil
}

func validateInbound(op string, msg domain.InboundMessage) error {
	if msg.ChatID == 0 || msg.MessageID == 0 {
		return domain.Invalid(op, "chat_id and message_id are required")
	}
	if !msg.Type.IsValid() {
		return domain.Invalid(op, "unknown message type")
	}
	if msg.TTLSeconds < 0 {
		return domain.Invalid(op, "ttl_seconds must not be negative")
	}
	return nil
}

func (s *messageService) remember(m domain.CachedMessage) {
	if s.recent.Put(recentKey{m.OwnerID, m.Key}, m) {
		metrics.RecentCacheEvictionsTotal.Inc()
	}
}

// lookup returns the live cached copy of key: the database row when it
// exists and has not expired, else the recent cache entry. The recent cache
// ignores retention so plans that store nothing still get reports. dbRow
// reports whether a row exists at all, expired or not.
func (s *messageService) lookup(ctx context.Context, q repository.Querier, op string, ownerID int64, key domain.MessageKey, now time.Time) (prev *domain.CachedMessage, dbRow bool, err error) {
	row, err := q.GetCachedMessage(ctx, ownerID, key)
	switch {
	case err == nil:
		dbRow = true
		if !row.IsExpired(now) {
			return row, true, nil
		}
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, false, domain.Internal(err, op, "failed to load cached message")
	}

	if m, ok := s.recent.Get(recentKey{ownerID, key}); ok {
		return &m, dbRow, nil
	}
	return nil, dbRow, nil
}

// =============================================================================
// AttachMedia
// =============================================================================

func (s *messageService) AttachMedia(ctx context.Context, ownerID int64, key domain.MessageKey, data []byte) (*AttachResult, error) {
	const op = "message.attach_media"

	if len(data) == 0 {
		return nil, domain.Invalid(op, "media body is empty")
	}
	if s.config.MaxMediaSize > 0 && int64(len(data)) > s.config.MaxMediaSize {
		return nil, &domain.Error{Code: domain.ETOOLARGE, Op: op, Message: "media exceeds the size limit"}
	}

	repo := s.uow.Repo()
	prev, dbRow, err := s.lookup(ctx, repo, op, ownerID, key, s.uow.Now())
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, domain.NotFound(op, "message", key.String())
	}
	persisted := dbRow && !prev.IsExpired(s.uow.Now())

	media := storage.Sniff(data)
	if !storage.IsCapturable(media.ContentType) {
		return nil, domain.Invalid(op, "unsupported media type "+media.ContentType)
	}

	mediaKey := storage.MediaKey(ownerID, key, media.Extension)
	err = s.storage.Put(ctx, mediaKey, bytes.NewReader(data), storage.PutOptions{
		ContentType: media.ContentType,
		MaxSize:     s.config.MaxMediaSize,
	})
	if err != nil {
		if storage.IsTooLarge(err) {
			return nil, &domain.Error{Code: domain.ETOOLARGE, Op: op, Message: "media exceeds the size limit", Err: err}
		}
		return nil, domain.Internal(err, op, "failed to store media")
	}

	if persisted {
		err = repo.SetCachedMessageMedia(ctx, ownerID, key, mediaKey)
	} else {
		// Nothing outlives the recent cache entry, so the object goes once
		// its link has expired.
		_, err = worker.EnqueueDeleteMedia(ctx, repo, mediaKey, s.config.MediaURLExpiry)
	}
	if err != nil {
		if delErr := s.storage.Delete(ctx, mediaKey); delErr != nil {
			s.logger.Warn("failed to remove orphaned media", "key", mediaKey, "error", delErr)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			// The row was purged while the bytes were uploading.
			return nil, domain.NotFound(op, "message", key.String())
		}
		return nil, domain.Internal(err, op, "failed to record media")
	}

	s.recent.Update(recentKey{ownerID, key}, func(m domain.CachedMessage) domain.CachedMessage {
		m.MediaKey = mediaKey
		return m
	})
	metrics.MediaStoredBytes.Add(float64(len(data)))

	result := &AttachResult{
		MediaKey:    mediaKey,
		ContentType: media.ContentType,
		Size:        len(data),
	}
	if url, err := s.storage.URL(ctx, mediaKey, s.config.MediaURLExpiry); err != nil {
		s.logger.Warn("failed to sign media url", "key", mediaKey, "error", err)
	} else {
		result.URL = url
	}

	s.logger.Info("media captured",
		"owner_id", ownerID,
		"key", key.String(),
		"content_type", media.ContentType,
		"size", len(data),
		"persisted", persisted,
	)
	return result, nil
}

// =============================================================================
// MessageEdited
// =============================================================================

func (s *messageService) MessageEdited(ctx context.Context, ownerID int64, key domain.MessageKey, newText string, editorID int64) (*domain.Notification, error) {
	const op = "message.edited"

	note := &domain.Notification{NewText: newText}
	var updated domain.CachedMessage

	err := s.uow.Run(ctx, op, ownerID, func(q repository.Querier, owner *domain.User, now time.Time) error {
		prev, dbRow, err := s.lookup(ctx, q, op, ownerID, key, now)
		if err != nil {
			return err
		}
		note.Previous = prev
		plan := domain.Resolve(&owner.Subscription, now)

		if dbRow && prev != nil {
			if err := q.UpdateCachedMessageContent(ctx, ownerID, key, newText); err != nil {
				return domain.Internal(err, op, "failed to update cached message")
			}
		}

		if prev != nil {
			updated = *prev
		} else {
			updated = domain.CachedMessage{
				Key:       key,
				OwnerID:   ownerID,
				SenderID:  editorID,
				Type:      domain.MessageText,
				CreatedAt: now,
			}
			updated.ExpiresAt = domain.RetentionDeadline(plan, now, &owner.Subscription)
		}
		updated.Content = newText

		if editorID == ownerID {
			note.OwnAction = true
			return nil
		}

		note.Quota = domain.CheckAndConsume(&owner.Subscription, plan, now, domain.QuotaNotification)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.remember(updated)
	if !note.OwnAction {
		metrics.QuotaDecision(domain.QuotaNotification, note.Quota)
	}
	return note, nil
}

// =============================================================================
// MessageDeleted
// =============================================================================

func (s *messageService) MessageDeleted(ctx context.Context, ownerID int64, key domain.MessageKey) (*domain.Notification, error) {
	const op = "message.deleted"

	note := &domain.Notification{}
	err := s.uow.Run(ctx, op, ownerID, func(q repository.Querier, owner *domain.User, now time.Time) error {
		prev, dbRow, err := s.lookup(ctx, q, op, ownerID, key, now)
		if err != nil {
			return err
		}
		if prev == nil {
			return domain.NotFound(op, "message", key.String())
		}
		note.Previous = prev

		if dbRow {
			if err := q.DeleteCachedMessage(ctx, ownerID, key); err != nil {
				return domain.Internal(err, op, "failed to delete cached message")
			}
		}
		if prev.MediaKey != "" {
			if _, err := worker.EnqueueDeleteMedia(ctx, q, prev.MediaKey, s.config.MediaURLExpiry); err != nil {
				return domain.Internal(err, op, "failed to schedule media removal")
			}
		}

		plan := domain.Resolve(&owner.Subscription, now)
		note.Quota = domain.CheckAndConsume(&owner.Subscription, plan, now, domain.QuotaNotification)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recent.Delete(recentKey{ownerID, key})
	metrics.QuotaDecision(domain.QuotaNotification, note.Quota)

	if note.Quota.Allowed && note.Previous.MediaKey != "" {
		url, err := s.storage.URL(ctx, note.Previous.MediaKey, s.config.MediaURLExpiry)
		if err != nil {
			s.logger.Warn("failed to sign media url", "key", note.Previous.MediaKey, "error", err)
		} else {
			note.MediaURL = url
		}
	}
	return note, nil
}
