package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/audit"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/payment"
)

// StripeWebhook handles PaymentIntent events (no caller auth; signature
// verification is the auth).
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.stripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", time.Unix(evt.Created, 0).UTC().Format(time.RFC3339),
	)

	var status model.PaymentStatus
	switch evtType {
	case "payment_intent.succeeded":
		status = model.PaymentPaid
	case "payment_intent.processing":
		status = model.PaymentPending
	case "payment_intent.payment_failed", "payment_intent.canceled":
		status = model.PaymentFailed
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil || intent.ID == "" {
		h.logger.Error("stripe: invalid payment intent payload", "err", err, "provider_event_id", evt.ID)
		http.Error(w, "invalid payment intent payload", http.StatusBadRequest)
		return
	}
	if intent.Status != "" && status != model.PaymentFailed {
		status = payment.IntentStatus(intent.Status)
	}

	ctx := audit.WithActor(r.Context(), "stripe")
	u, err := h.upgrades.OnPaymentResultByTransaction(ctx, intent.ID, status)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "upgrade_status": u.Status})
	case errors.Is(err, model.ErrInvalidState):
		h.logger.Info("payment provider event duplicate ignored", "provider_event_id", evt.ID, "transaction_id", intent.ID)
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
	case errors.Is(err, model.ErrNotFound):
		h.logger.Warn("stripe: no upgrade request for payment intent", "transaction_id", intent.ID, "upgrade_request_id", intent.Metadata["upgrade_request_id"])
		writeJSON(w, http.StatusOK, map[string]any{"status": "unmatched"})
	default:
		h.writeError(w, r, err)
	}
}
