package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/garageflow/garageflow/libs/httpx"
	"github.com/garageflow/garageflow/libs/plans"
	"github.com/garageflow/garageflow/services/billing-service/internal/storage"
	"github.com/garageflow/garageflow/services/billing-service/internal/subscriptions"
)

type localWebhookRequest struct {
	EventID    string `json:"event_id" validate:"required,max=200"`
	Type       string `json:"type" validate:"required,oneof=subscription.activated subscription.canceled"`
	TenantID   string `json:"tenant_id" validate:"required,uuid"`
	Plan       string `json:"plan" validate:"omitempty,oneof=free starter pro enterprise"`
	OccurredAt string `json:"occurred_at" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

// LocalWebhook lets an admin drive plan changes without a payment provider.
// It shares event-id deduplication with the Stripe webhook.
func (h *Handler) LocalWebhook(w http.ResponseWriter, r *http.Request) {
	var req localWebhookRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteRequestError(w, err)
		return
	}
	if req.Type == "subscription.activated" && req.Plan == "" {
		httpx.WriteError(w, http.StatusBadRequest, "plan is required for activation")
		return
	}
	occurredAt, _ := time.Parse(time.RFC3339, req.OccurredAt)
	payload, _ := json.Marshal(req)
	change := subscriptions.Change{
		TenantID:   req.TenantID,
		Plan:       plans.Plan(req.Plan),
		OccurredAt: occurredAt,
		Provider:   "local",
	}

	var emitted bool
	err := h.store.WithTx(r.Context(), func(tx storage.Tx) error {
		if err := tx.InsertProviderEvent(r.Context(), storage.ProviderEvent{
			Provider:        "local",
			ProviderEventID: strings.TrimSpace(req.EventID),
			EventType:       req.Type,
			Payload:         payload,
		}); err != nil {
			return err
		}
		var err error
		if req.Type == "subscription.activated" {
			emitted, err = h.subSvc.ApplyActivated(r.Context(), tx, change)
		} else {
			emitted, err = h.subSvc.ApplyCanceled(r.Context(), tx, change)
		}
		return err
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateProviderEvent):
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	case err != nil:
		h.logger.Error("local event apply failed", "err", err, "provider_event_id", req.EventID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to apply provider event")
		return
	}
	h.logger.Info("billing provider event applied", "provider", "local", "provider_event_id", req.EventID, "event_type", req.Type, "tenant_id", req.TenantID)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "emitted": emitted})
}
