package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/garageflow/garageflow/libs/httpx"
	"github.com/garageflow/garageflow/services/billing-service/internal/storage"
	"github.com/garageflow/garageflow/services/billing-service/internal/subscriptions"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhook applies signature-verified Stripe events. Replayed event ids
// are acknowledged without side effects.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.stripeWebhookSecret == "" {
		httpx.WriteError(w, http.StatusServiceUnavailable, "stripe webhook not configured")
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing Stripe-Signature header")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, h.stripeWebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                h.stripeWebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	h.logger.Info("billing provider event received", "provider", "stripe", "provider_event_id", evt.ID, "event_type", evtType)

	change, activate, ok := h.stripeChange(evtType, evt.Data.Raw, occurredAt)

	err = h.store.WithTx(r.Context(), func(tx storage.Tx) error {
		if err := tx.InsertProviderEvent(r.Context(), storage.ProviderEvent{
			Provider:        "stripe",
			ProviderEventID: evt.ID,
			EventType:       evtType,
			Payload:         body,
		}); err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if activate {
			_, err := h.subSvc.ApplyActivated(r.Context(), tx, change)
			return err
		}
		_, err := h.subSvc.ApplyCanceled(r.Context(), tx, change)
		return err
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateProviderEvent):
		h.logger.Info("billing provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID)
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	case err != nil:
		h.logger.Error("stripe event apply failed", "err", err, "provider_event_id", evt.ID, "event_type", evtType)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to apply provider event")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// stripeChange maps a Stripe event onto a subscription change. ok is false
// for events that carry nothing to apply.
func (h *Handler) stripeChange(evtType string, raw json.RawMessage, occurredAt time.Time) (c subscriptions.Change, activate bool, ok bool) {
	switch evtType {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			return c, false, false
		}
		c = subscriptions.Change{
			TenantID:   strings.TrimSpace(session.Metadata[subscriptions.MetaTenantID]),
			Plan:       subscriptions.MetadataPlan(session.Metadata),
			OccurredAt: occurredAt,
			Provider:   "stripe",
		}
		if session.Customer != nil {
			c.StripeCustomerID = session.Customer.ID
		}
		if session.Subscription != nil {
			c.StripeSubscriptionID = session.Subscription.ID
		}
		activate = true

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			h.logger.Error("stripe: invalid subscription payload", "err", err)
			return c, false, false
		}
		c = subscriptions.FromStripe(&sub, occurredAt)
		switch {
		case evtType == "customer.subscription.deleted":
			activate = false
		case subscriptions.Entitled(sub.Status):
			activate = true
		case sub.Status == stripe.SubscriptionStatusCanceled || sub.Status == stripe.SubscriptionStatusUnpaid ||
			sub.Status == stripe.SubscriptionStatusIncompleteExpired:
			activate = false
		default:
			// past_due and incomplete keep the current plan until Stripe decides.
			return c, false, false
		}

	default:
		return c, false, false
	}

	if c.TenantID == "" || (activate && c.Plan == "") {
		h.logger.Warn("stripe: event metadata missing tenant_id/plan", "event_type", evtType)
		return c, false, false
	}
	return c, activate, true
}
