// Package middleware contains HTTP middleware for the bot API.
//
// Middleware follows the standard pattern of wrapping http.Handler and is
// composed in cmd/server.
package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// AdminHeader carries the Telegram id of the admin on whose behalf the bot
// glue calls an admin route.
const AdminHeader = "X-Admin-ID"

type contextKey string

const adminContextKey contextKey = "admin_id"

// AdminID returns the admin id stored by RequireAdmin.
func AdminID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(adminContextKey).(int64)
	return id, ok
}

// WithAdminID stores an admin id in ctx.
func WithAdminID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, adminContextKey, id)
}

// =============================================================================
// API token
// =============================================================================

// APIAuthMiddleware requires a static bearer token.
type APIAuthMiddleware struct {
	token  string
	logger *slog.Logger
}

// NewAPIAuthMiddleware returns middleware checking "Authorization: Bearer
// <token>". An empty token disables the check (development only).
func NewAPIAuthMiddleware(token string, logger *slog.Logger) *APIAuthMiddleware {
	return &APIAuthMiddleware{token: token, logger: logger}
}

// Handler rejects requests without the configured token.
func (m *APIAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(m.token)) != 1 {
			m.logger.Info("rejected api request", "path", r.URL.Path, "ip", getClientIP(r))
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid API token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Admin
// =============================================================================

// AdminMiddleware restricts routes to configured admin ids.
type AdminMiddleware struct {
	admins []int64
	logger *slog.Logger
}

// NewAdminMiddleware returns middleware accepting only the given admin ids.
func NewAdminMiddleware(admins []int64, logger *slog.Logger) *AdminMiddleware {
	return &AdminMiddleware{admins: admins, logger: logger}
}

// IsAdmin reports whether id is a configured admin.
func (m *AdminMiddleware) IsAdmin(id int64) bool {
	return slices.Contains(m.admins, id)
}

// RequireAdmin reads AdminHeader, rejects unknown ids and stores the id in
// the request context.
func (m *AdminMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(AdminHeader)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Admin id header is required")
			return
		}
		if !m.IsAdmin(id) {
			m.logger.Warn("non-admin called admin route", "admin_id", id, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "forbidden", "You don't have permission to access this resource")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAdminID(r.Context(), id)))
	})
}

// writeError writes the API error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
