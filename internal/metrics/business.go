package metrics

import (
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
)

// Activation sources.
const (
	SourcePurchase = "purchase"
	SourceStars    = "stars"
	SourceAdmin    = "admin"
)

// QuotaDecision records one check-and-consume outcome.
func QuotaDecision(family domain.QuotaFamily, res domain.ConsumeResult) {
	outcome := "allowed"
	if !res.Allowed {
		outcome = string(res.Reason)
	}
	QuotaDecisionsTotal.WithLabelValues(string(family), outcome).Inc()
}

// SubscriptionActivated records an applied plan.
func SubscriptionActivated(plan domain.PlanKey, period domain.Period, source string) {
	p := string(period)
	if p == "" {
		p = "none"
	}
	SubscriptionsActivatedTotal.WithLabelValues(string(plan), p, source).Inc()
}

// Payment records an invoice or payment outcome.
func Payment(method domain.PaymentMethod, status string) {
	PaymentsTotal.WithLabelValues(string(method), status).Inc()
}

// MessageCached records the outcome of caching an inbound message.
func MessageCached(outcome domain.CacheOutcome) {
	MessagesCachedTotal.WithLabelValues(string(outcome)).Inc()
}
