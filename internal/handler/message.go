// Package handler contains the HTTP handlers of the bot API.
//
// This file implements the business message routes called by the bot glue
// for every business_message, edited_business_message and
// deleted_business_messages update.
//
// Routes:
//   - POST /v1/owners/{id}/messages                         -> CacheMessage
//   - PUT  /v1/owners/{id}/messages/{chat}/{msg}/media      -> AttachMedia
//   - POST /v1/owners/{id}/messages/{chat}/{msg}/edited     -> MessageEdited
//   - POST /v1/owners/{id}/messages/{chat}/{msg}/deleted    -> MessageDeleted
package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/service"
)

// MessageHandler serves the business message routes.
type MessageHandler struct {
	messages     service.MessageService
	maxMediaSize int64
	logger       *slog.Logger
}

// NewMessageHandler creates a new MessageHandler. Media bodies larger than
// maxMediaSize are rejected with 413.
func NewMessageHandler(messages service.MessageService, maxMediaSize int64, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		messages:     messages,
		maxMediaSize: maxMediaSize,
		logger:       logger,
	}
}

// RegisterRoutes registers the message routes on mux.
func (h *MessageHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/owners/{id}/messages", h.CacheMessage)
	mux.HandleFunc("PUT /v1/owners/{id}/messages/{chat}/{msg}/media", h.AttachMedia)
	mux.HandleFunc("POST /v1/owners/{id}/messages/{chat}/{msg}/edited", h.MessageEdited)
	mux.HandleFunc("POST /v1/owners/{id}/messages/{chat}/{msg}/deleted", h.MessageDeleted)
}

type cacheMessageRequest struct {
	ChatID     int64  `json:"chat_id" validate:"required"`
	MessageID  int64  `json:"message_id" validate:"required"`
	SenderID   int64  `json:"sender_id"`
	SenderName string `json:"sender_name" validate:"max=256"`
	Type       string `json:"type" validate:"required,oneof=text photo video video_note voice document sticker"`
	Content    string `json:"content"`
	Caption    string `json:"caption"`
	TTLSeconds int    `json:"ttl_seconds" validate:"gte=0"`
}

// CacheMessage handles POST /v1/owners/{id}/messages.
func (h *MessageHandler) CacheMessage(w http.ResponseWriter, r *http.Request) {
	const op = "handler.cache_message"

	ownerID, err := pathUserID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req cacheMessageRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	res, err := h.messages.CacheMessage(r.Context(), ownerID, domain.InboundMessage{
		ChatID:     req.ChatID,
		MessageID:  req.MessageID,
		SenderID:   req.SenderID,
		SenderName: req.SenderName,
		Type:       domain.MessageType(req.Type),
		Content:    req.Content,
		Caption:    req.Caption,
		TTLSeconds: req.TTLSeconds,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AttachMedia handles PUT /v1/owners/{id}/messages/{chat}/{msg}/media. The
// body is the raw media bytes.
func (h *MessageHandler) AttachMedia(w http.ResponseWriter, r *http.Request) {
	const op = "handler.attach_media"

	ownerID, err := pathUserID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	key, err := pathMessageKey(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	body := io.Reader(r.Body)
	if h.maxMediaSize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxMediaSize)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ErrorResponse(w, r, h.logger, &domain.Error{Code: domain.ETOOLARGE, Op: op, Message: "media exceeds the size limit"})
			return
		}
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "failed to read media body"))
		return
	}

	res, err := h.messages.AttachMedia(r.Context(), ownerID, key, data)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// cachedMessageResponse is the previous copy shown in a report.
type cachedMessageResponse struct {
	ChatID     int64              `json:"chat_id"`
	MessageID  int64              `json:"message_id"`
	SenderID   int64              `json:"sender_id"`
	SenderName string             `json:"sender_name,omitempty"`
	Type       domain.MessageType `json:"type"`
	Content    string             `json:"content,omitempty"`
	Caption    string             `json:"caption,omitempty"`
	HasMedia   bool               `json:"has_media"`
	CreatedAt  time.Time          `json:"created_at"`
}

type notificationResponse struct {
	*domain.Notification
	Previous *cachedMessageResponse `json:"previous"`
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	resp := notificationResponse{Notification: n}
	if m := n.Previous; m != nil {
		resp.Previous = &cachedMessageResponse{
			ChatID:     m.Key.ChatID,
			MessageID:  m.Key.MessageID,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Type:       m.Type,
			Content:    m.Content,
			Caption:    m.Caption,
			HasMedia:   m.MediaKey != "",
			CreatedAt:  m.CreatedAt,
		}
	}
	return resp
}

type editedRequest struct {
	NewText  string `json:"new_text"`
	EditorID int64  `json:"editor_id" validate:"required"`
}

// MessageEdited handles POST /v1/owners/{id}/messages/{chat}/{msg}/edited.
func (h *MessageHandler) MessageEdited(w http.ResponseWriter, r *http.Request) {
	const op = "handler.message_edited"

	ownerID, err := pathUserID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	key, err := pathMessageKey(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req editedRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	note, err := h.messages.MessageEdited(r.Context(), ownerID, key, req.NewText, req.EditorID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationResponse(note))
}

// MessageDeleted handles POST /v1/owners/{id}/messages/{chat}/{msg}/deleted.
func (h *MessageHandler) MessageDeleted(w http.ResponseWriter, r *http.Request) {
	const op = "handler.message_deleted"

	ownerID, err := pathUserID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	key, err := pathMessageKey(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	note, err := h.messages.MessageDeleted(r.Context(), ownerID, key)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationResponse(note))
}
