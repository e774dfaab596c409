// Package handler contains the HTTP handlers of the bot API.
//
// This file implements the admin routes. Every route is wrapped with the
// admin middleware, which stores the caller's id in the context.
//
// Routes:
//   - POST /v1/admin/users/{id}/grant -> Grant
//   - POST /v1/admin/users/{id}/ban   -> Ban
//   - POST /v1/admin/users/{id}/unban -> Unban
//   - GET  /v1/admin/stats            -> Stats
package handler

import (
	"log/slog"
	"net/http"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/middleware"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/service"
)

// AdminHandler handles admin HTTP requests.
type AdminHandler struct {
	admin  service.AdminService
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(admin service.AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		logger: logger,
	}
}

// RegisterRoutes registers admin routes with the provided middleware.
func (h *AdminHandler) RegisterRoutes(
	mux *http.ServeMux,
	requireAdmin func(http.Handler) http.Handler,
) {
	mux.Handle("POST /v1/admin/users/{id}/grant", requireAdmin(http.HandlerFunc(h.Grant)))
	mux.Handle("POST /v1/admin/users/{id}/ban", requireAdmin(http.HandlerFunc(h.Ban)))
	mux.Handle("POST /v1/admin/users/{id}/unban", requireAdmin(http.HandlerFunc(h.Unban)))
	mux.Handle("GET /v1/admin/stats", requireAdmin(http.HandlerFunc(h.Stats)))
}

type grantRequest struct {
	Plan   domain.PlanKey `json:"plan" validate:"required,oneof=lite pro"`
	Period domain.Period  `json:"period" validate:"required,oneof=week month forever"`
}

// Grant applies a plan without payment.
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	const op = "handler.admin_grant"

	adminID, ok := middleware.AdminID(r.Context())
	if !ok {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EUNAUTHORIZED, op, "Admin id is required"))
		return
	}
	userID, err := pathUserID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req grantRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	activation, err := h.admin.Grant(r.Context(), adminID, userID, req.Plan, req.Period)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, activation)
}

// Ban blocks a user.
func (h *AdminHandler) Ban(w http.ResponseWriter, r *http.Request) {
	h.setBanned(w, r, true)
}

// Unban lifts a ban.
func (h *AdminHandler) Unban(w http.ResponseWriter, r *http.Request) {
	h.setBanned(w, r, false)
}

func (h *AdminHandler) setBanned(w http.ResponseWriter, r *http.Request, banned bool) {
	const op = "handler.admin_set_banned"

	userID, err := pathUserID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if err := h.admin.SetBanned(r.Context(), userID, banned); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "banned": banned})
}

// Stats returns the dashboard summary.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
