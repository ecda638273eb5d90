package subscriptions

import (
	"context"
	"time"

	"github.com/garageflow/garageflow/libs/events"
	"github.com/garageflow/garageflow/libs/outbox"
	"github.com/garageflow/garageflow/libs/plans"
	"github.com/garageflow/garageflow/services/billing-service/internal/storage"
)

// Change is a provider-reported subscription state.
type Change struct {
	TenantID             string
	Plan                 plans.Plan
	OccurredAt           time.Time
	Provider             string
	StripeCustomerID     string
	StripeSubscriptionID string
	PeriodStart          *time.Time
	PeriodEnd            *time.Time
}

// Service applies subscription transitions and queues the matching events.
// Webhooks and the reconciler share it.
type Service struct{}

func New() *Service {
	return &Service{}
}

// ApplyActivated stores an active subscription on c.Plan. The activated event
// is emitted only when the effective plan or status changes.
func (s *Service) ApplyActivated(ctx context.Context, tx storage.Tx, c Change) (bool, error) {
	plan := plans.ParsePlan(string(c.Plan))
	return s.apply(ctx, tx, c, plan, "active", events.SubscriptionActivated)
}

// ApplyCanceled drops the tenant to free.
func (s *Service) ApplyCanceled(ctx context.Context, tx storage.Tx, c Change) (bool, error) {
	return s.apply(ctx, tx, c, plans.Free, "canceled", events.SubscriptionCanceled)
}

func (s *Service) apply(ctx context.Context, tx storage.Tx, c Change, plan plans.Plan, status, eventType string) (bool, error) {
	existing, ok, err := tx.GetSubscriptionForUpdate(ctx, c.TenantID)
	if err != nil {
		return false, err
	}
	if err := tx.UpsertSubscription(ctx, storage.Subscription{
		TenantID:             c.TenantID,
		Plan:                 plan,
		Status:               status,
		Provider:             c.Provider,
		StripeCustomerID:     c.StripeCustomerID,
		StripeSubscriptionID: c.StripeSubscriptionID,
		CurrentPeriodStart:   c.PeriodStart,
		CurrentPeriodEnd:     c.PeriodEnd,
	}); err != nil {
		return false, err
	}

	// Provider id or period updates alone don't fan out.
	if ok && existing.Status == status && existing.Plan == plan {
		return false, nil
	}

	occurredAt := c.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	evt, err := outbox.NewEvent("subscription", c.TenantID, eventType, events.SubscriptionPayload{
		TenantID:         c.TenantID,
		Plan:             string(plan),
		Status:           status,
		Provider:         c.Provider,
		CurrentPeriodEnd: c.PeriodEnd,
		OccurredAt:       occurredAt.UTC(),
	})
	if err != nil {
		return false, err
	}
	return true, tx.InsertEvent(ctx, evt)
}
