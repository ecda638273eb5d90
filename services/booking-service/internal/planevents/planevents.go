// Package planevents keeps booking's tenant plan cache in step with billing.
package planevents

import (
	"context"
	"log/slog"
	"time"

	"github.com/garageflow/garageflow/libs/events"
	"github.com/garageflow/garageflow/libs/kafkax"
	"github.com/garageflow/garageflow/libs/plans"
	"github.com/segmentio/kafka-go"
)

// Topics are the billing topics this package consumes.
var Topics = []string{events.SubscriptionActivated, events.SubscriptionCanceled}

// PlanStore is implemented by storage.PlanRepository.
type PlanStore interface {
	UpsertTenantPlan(ctx context.Context, tenantID string, plan plans.Plan, status string, at time.Time) error
}

// Handler returns a kafkax.Handler that applies subscription events.
// Malformed payloads are logged and skipped; store errors are returned so
// the consumer retries them.
func Handler(store PlanStore, logger *slog.Logger) kafkax.Handler {
	return func(ctx context.Context, meta kafkax.EventMeta, msg kafka.Message) error {
		payload, err := events.Decode[events.SubscriptionPayload](msg.Value)
		if err != nil {
			logger.Error("invalid subscription event", "err", err, "event_id", meta.EventID, "topic", msg.Topic)
			return nil
		}

		plan, status := Resolve(meta.EventType, payload)
		at := payload.OccurredAt
		if at.IsZero() {
			at = msg.Time
		}
		if at.IsZero() {
			at = time.Now()
		}
		if err := store.UpsertTenantPlan(ctx, payload.TenantID, plan, status, at.UTC()); err != nil {
			return err
		}
		logger.Info("tenant plan updated", "tenant_id", payload.TenantID, "plan", plan, "status", status, "event_id", meta.EventID)
		return nil
	}
}

// Resolve maps an event onto the plan booking should enforce. A canceled
// subscription drops the tenant to free regardless of the plan it names.
func Resolve(eventType string, p events.SubscriptionPayload) (plans.Plan, string) {
	status := p.Status
	if eventType == events.SubscriptionCanceled || status == "canceled" {
		if status == "" {
			status = "canceled"
		}
		return plans.Free, status
	}
	if status == "" {
		status = "active"
	}
	return plans.ParsePlan(p.Plan), status
}
