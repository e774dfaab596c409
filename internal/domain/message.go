package domain

import (
	"strconv"
	"time"
)

// MessageType is the kind of content a business message carries.
type MessageType string

const (
	MessageText      MessageType = "text"
	MessagePhoto     MessageType = "photo"
	MessageVideo     MessageType = "video"
	MessageVideoNote MessageType = "video_note"
	MessageVoice     MessageType = "voice"
	MessageDocument  MessageType = "document"
	MessageSticker   MessageType = "sticker"
)

// IsValid reports whether t is a known message type.
func (t MessageType) IsValid() bool {
	switch t {
	case MessageText, MessagePhoto, MessageVideo, MessageVideoNote,
		MessageVoice, MessageDocument, MessageSticker:
		return true
	}
	return false
}

// IsCapturableMedia reports whether disappearing content of this type is
// captured and counted against the media quota.
func (t MessageType) IsCapturableMedia() bool {
	switch t {
	case MessagePhoto, MessageVideo, MessageVideoNote, MessageVoice:
		return true
	}
	return false
}

// MessageKey identifies a message within Telegram.
type MessageKey struct {
	ChatID    int64
	MessageID int64
}

func (k MessageKey) String() string {
	return strconv.FormatInt(k.ChatID, 10) + ":" + strconv.FormatInt(k.MessageID, 10)
}

// CachedMessage is a business message kept so that later edits and
// deletions can be reported to the owner.
type CachedMessage struct {
	Key        MessageKey
	OwnerID    int64
	SenderID   int64
	SenderName string
	Type       MessageType
	Content    string // text, or the Telegram file id for media
	Caption    string
	MediaKey   string // object storage key of captured bytes, if any
	ExpiresAt  *time.Time
	CreatedAt  time.Time
}

// IsExpired reports whether the record's retention deadline has passed.
// A nil deadline never expires on its own.
func (m *CachedMessage) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// InboundMessage is one business message delivered by the bot glue.
type InboundMessage struct {
	ChatID     int64
	MessageID  int64
	SenderID   int64
	SenderName string
	Type       MessageType
	Content    string
	Caption    string
	TTLSeconds int
}

// Key returns the message key.
func (m InboundMessage) Key() MessageKey {
	return MessageKey{ChatID: m.ChatID, MessageID: m.MessageID}
}

// IsDisappearing reports whether the platform limits the message's lifetime.
func (m InboundMessage) IsDisappearing() bool {
	return m.TTLSeconds > 0
}

// CacheOutcome describes what CacheMessage did with an inbound message.
type CacheOutcome string

const (
	CacheStored  CacheOutcome = "stored"  // persisted and remembered
	CacheRecent  CacheOutcome = "recent"  // remembered in memory only
	CacheSkipped CacheOutcome = "skipped" // banned or unknown participant
	CacheDenied  CacheOutcome = "denied"  // media quota refused the capture
)

// CacheResult is returned by CacheMessage.
type CacheResult struct {
	Outcome   CacheOutcome   `json:"outcome"`
	Capture   bool           `json:"capture"`
	Quota     *ConsumeResult `json:"quota,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// Notification is returned by edit and delete lookups: what the owner
// should be told, and whether their notification quota allowed it.
type Notification struct {
	Previous *CachedMessage `json:"-"`
	NewText  string         `json:"new_text,omitempty"`
	MediaURL string         `json:"media_url,omitempty"`
	Quota    ConsumeResult  `json:"quota"`

	// OwnAction is set when the owner edited their own message. Nothing is
	// reported and no quota is spent.
	OwnAction bool `json:"own_action,omitempty"`
}
