package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/jackc/pgx/v5"
)

// PurgedMessage is a row removed by DeleteExpiredMessages.
type PurgedMessage struct {
	OwnerID  int64
	Key      domain.MessageKey
	MediaKey string
}

const messageColumns = `chat_id, message_id, owner_id, sender_id, sender_name, message_type,
	content, caption, COALESCE(media_key, ''), expires_at, created_at`

func scanMessage(row pgx.Row) (*domain.CachedMessage, error) {
	var (
		m  domain.CachedMessage
		mt string
	)
	err := row.Scan(
		&m.Key.ChatID,
		&m.Key.MessageID,
		&m.OwnerID,
		&m.SenderID,
		&m.SenderName,
		&mt,
		&m.Content,
		&m.Caption,
		&m.MediaKey,
		&m.ExpiresAt,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Type = domain.MessageType(mt)
	return &m, nil
}

// UpsertCachedMessage stores m, replacing any earlier copy of the same
// message for the same owner.
func (q *Queries) UpsertCachedMessage(ctx context.Context, m *domain.CachedMessage) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO message_cache (owner_id, chat_id, message_id, sender_id, sender_name,
		                           message_type, content, caption, media_key, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)
		ON CONFLICT (owner_id, chat_id, message_id) DO UPDATE SET
			sender_id    = EXCLUDED.sender_id,
			sender_name  = EXCLUDED.sender_name,
			message_type = EXCLUDED.message_type,
			content      = EXCLUDED.content,
			caption      = EXCLUDED.caption,
			media_key    = COALESCE(EXCLUDED.media_key, message_cache.media_key),
			expires_at   = EXCLUDED.expires_at`,
		m.OwnerID, m.Key.ChatID, m.Key.MessageID, m.SenderID, m.SenderName,
		string(m.Type), m.Content, m.Caption, m.MediaKey, m.ExpiresAt, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert cached message: %w", err)
	}
	return nil
}

// GetCachedMessage returns the cached copy of key for owner.
func (q *Queries) GetCachedMessage(ctx context.Context, ownerID int64, key domain.MessageKey) (*domain.CachedMessage, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM message_cache
		WHERE owner_id = $1 AND chat_id = $2 AND message_id = $3`,
		ownerID, key.ChatID, key.MessageID,
	)
	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("get cached message: %w", err)
	}
	return m, nil
}

// UpdateCachedMessageContent replaces the text of a cached message.
func (q *Queries) UpdateCachedMessageContent(ctx context.Context, ownerID int64, key domain.MessageKey, content string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE message_cache SET content = $4
		WHERE owner_id = $1 AND chat_id = $2 AND message_id = $3`,
		ownerID, key.ChatID, key.MessageID, content,
	)
	if err != nil {
		return fmt.Errorf("update cached message content: %w", err)
	}
	return nil
}

// SetCachedMessageMedia records the storage key of captured bytes.
func (q *Queries) SetCachedMessageMedia(ctx context.Context, ownerID int64, key domain.MessageKey, mediaKey string) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE message_cache SET media_key = $4
		WHERE owner_id = $1 AND chat_id = $2 AND message_id = $3`,
		ownerID, key.ChatID, key.MessageID, mediaKey,
	)
	if err != nil {
		return fmt.Errorf("set cached message media: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set cached message media: %w", pgx.ErrNoRows)
	}
	return nil
}

// DeleteCachedMessage removes a cached message. Deleting a missing row is
// not an error.
func (q *Queries) DeleteCachedMessage(ctx context.Context, ownerID int64, key domain.MessageKey) error {
	_, err := q.db.Exec(ctx, `
		DELETE FROM message_cache
		WHERE owner_id = $1 AND chat_id = $2 AND message_id = $3`,
		ownerID, key.ChatID, key.MessageID,
	)
	if err != nil {
		return fmt.Errorf("delete cached message: %w", err)
	}
	return nil
}

// DeleteExpiredMessages removes up to limit rows whose retention deadline
// has passed and returns them.
func (q *Queries) DeleteExpiredMessages(ctx context.Context, now time.Time, limit int) ([]PurgedMessage, error) {
	rows, err := q.db.Query(ctx, `
		DELETE FROM message_cache
		WHERE (owner_id, chat_id, message_id) IN (
			SELECT owner_id, chat_id, message_id
			FROM message_cache
			WHERE expires_at IS NOT NULL AND expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)
		RETURNING owner_id, chat_id, message_id, COALESCE(media_key, '')`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("delete expired messages: %w", err)
	}
	defer rows.Close()

	var purged []PurgedMessage
	for rows.Next() {
		var p PurgedMessage
		if err := rows.Scan(&p.OwnerID, &p.Key.ChatID, &p.Key.MessageID, &p.MediaKey); err != nil {
			return nil, fmt.Errorf("scan expired message: %w", err)
		}
		purged = append(purged, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired messages: %w", err)
	}
	return purged, nil
}
