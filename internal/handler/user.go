// Package handler contains the HTTP handlers of the bot API.
//
// This file implements the per-user routes: profile, subscription snapshot,
// quota consumption, quotes and purchases.
//
// Routes:
//   - PUT  /v1/users/{id}                              -> UpdateProfile
//   - GET  /v1/users/{id}/subscription                 -> Subscription
//   - POST /v1/users/{id}/quota/{family}/consume       -> Consume
//   - GET  /v1/users/{id}/quote?plan=&period=          -> Quote
//   - POST /v1/users/{id}/checkout                     -> Checkout
//   - POST /v1/users/{id}/payments/stars               -> StarsPayment
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/service"
)

// UserHandler serves the per-user routes.
type UserHandler struct {
	subscriptions service.SubscriptionService
	payments      service.PaymentService
	checkoutLimit func(http.Handler) http.Handler
	logger        *slog.Logger
}

// NewUserHandler creates a new UserHandler. checkoutLimit wraps the checkout
// route, typically with a per-user rate limit; nil leaves it unwrapped.
func NewUserHandler(
	subscriptions service.SubscriptionService,
	payments service.PaymentService,
	checkoutLimit func(http.Handler) http.Handler,
	logger *slog.Logger,
) *UserHandler {
	if checkoutLimit == nil {
		checkoutLimit = func(next http.Handler) http.Handler { return next }
	}
	return &UserHandler{
		subscriptions: subscriptions,
		payments:      payments,
		checkoutLimit: checkoutLimit,
		logger:        logger,
	}
}

// RegisterRoutes registers the user routes on mux.
func (h *UserHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("PUT /v1/users/{id}", h.UpdateProfile)
	mux.HandleFunc("GET /v1/users/{id}/subscription", h.Subscription)
	mux.HandleFunc("POST /v1/users/{id}/quota/{family}/consume", h.Consume)
	mux.HandleFunc("GET /v1/users/{id}/quote", h.Quote)
	mux.Handle("POST /v1/users/{id}/checkout", h.checkoutLimit(http.HandlerFunc(h.Checkout)))
	mux.HandleFunc("POST /v1/users/{id}/payments/stars", h.StarsPayment)
}

// =============================================================================
// Profile
// =============================================================================

type profileRequest struct {
	Username string `json:"username" validate:"max=64"`
	FullName string `json:"full_name" validate:"max=256"`
	Language string `json:"language" validate:"omitempty,min=2,max=8"`
}

type userResponse struct {
	ID         int64          `json:"id"`
	Username   string         `json:"username,omitempty"`
	FullName   string         `json:"full_name,omitempty"`
	Language   string         `json:"language"`
	IsBanned   bool           `json:"is_banned"`
	Plan       domain.PlanKey `json:"plan"`
	ExpiresAt  *time.Time     `json:"expires_at"`
	CreatedAt  time.Time      `json:"created_at"`
	LastSeenAt *time.Time     `json:"last_seen_at,omitempty"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Username:   u.Username,
		FullName:   u.FullName,
		Language:   u.Language,
		IsBanned:   u.IsBanned,
		Plan:       u.Subscription.Tier,
		ExpiresAt:  u.Subscription.ExpiresAt,
		CreatedAt:  u.CreatedAt,
		LastSeenAt: u.LastSeenAt,
	}
}

// UpdateProfile handles PUT /v1/users/{id}.
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	const op = "handler.update_profile"

	id, err := pathUserID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req profileRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	user, err := h.subscriptions.UpdateProfile(r.Context(), domain.ProfileUpdateParams{
		UserID:   id,
		Username: req.Username,
		FullName: req.FullName,
		Language: req.Language,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// =============================================================================
// Subscription and quota
// =============================================================================

// Subscription handles GET /v1/users/{id}/subscription.
func (h *UserHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	const op = "handler.subscription"

	id, err := pathUserID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	profile, err := h.subscriptions.Snapshot(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// Consume handles POST /v1/users/{id}/quota/{family}/consume. A denial is
// a 200 with allowed=false.
func (h *UserHandler) Consume(w http.ResponseWriter, r *http.Request) {
	const op = "handler.consume"

	id, err := pathUserID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	family := domain.QuotaFamily(r.PathValue("family"))
	if family != domain.QuotaMedia && family != domain.QuotaNotification {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "family must be media or notification"))
		return
	}

	result, err := h.subscriptions.Consume(r.Context(), id, family)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// Purchases
// =============================================================================

type quoteQuery struct {
	Plan   string `json:"plan" validate:"required,oneof=lite pro"`
	Period string `json:"period" validate:"required,oneof=week month"`
}

// Quote handles GET /v1/users/{id}/quote.
func (h *UserHandler) Quote(w http.ResponseWriter, r *http.Request) {
	const op = "handler.quote"

	id, err := pathUserID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	q := quoteQuery{
		Plan:   r.URL.Query().Get("plan"),
		Period: r.URL.Query().Get("period"),
	}
	if err := validateStruct(op, &q); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	quote, err := h.payments.Quote(r.Context(), id, domain.PlanKey(q.Plan), domain.Period(q.Period))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

type checkoutRequest struct {
	Plan    domain.PlanKey `json:"plan" validate:"required,oneof=lite pro"`
	Period  domain.Period  `json:"period" validate:"required,oneof=week month"`
	Gateway domain.Gateway `json:"gateway" validate:"required,oneof=cryptobot stripe"`
}

// Checkout handles POST /v1/users/{id}/checkout.
func (h *UserHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	const op = "handler.checkout"

	id, err := pathUserID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req checkoutRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	res, err := h.payments.Checkout(r.Context(), id, req.Plan, req.Period, req.Gateway)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type starsPaymentRequest struct {
	Payload     string `json:"invoice_payload" validate:"required"`
	TotalAmount int64  `json:"total_amount" validate:"gte=0"`
	ChargeID    string `json:"telegram_payment_charge_id"`
}

// StarsPayment handles POST /v1/users/{id}/payments/stars, called after
// Telegram confirms a successful Stars payment.
func (h *UserHandler) StarsPayment(w http.ResponseWriter, r *http.Request) {
	const op = "handler.stars_payment"

	id, err := pathUserID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req starsPaymentRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	activation, err := h.payments.RecordStarsPayment(r.Context(), id, req.Payload, req.TotalAmount, req.ChargeID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, activation)
}
