package subscriptions

import (
	"strings"
	"time"

	"github.com/garageflow/garageflow/libs/plans"
	"github.com/stripe/stripe-go/v79"
)

// Stripe objects carry the tenant and plan in their metadata.
const (
	MetaTenantID = "tenant_id"
	MetaPlan     = "plan"
)

// Entitled reports whether a Stripe status grants the paid plan.
func Entitled(status stripe.SubscriptionStatus) bool {
	return status == stripe.SubscriptionStatusActive || status == stripe.SubscriptionStatusTrialing
}

// FromStripe builds a change from a Stripe subscription object.
func FromStripe(sub *stripe.Subscription, occurredAt time.Time) Change {
	c := Change{
		TenantID:             strings.TrimSpace(sub.Metadata[MetaTenantID]),
		Plan:                 MetadataPlan(sub.Metadata),
		OccurredAt:           occurredAt,
		Provider:             "stripe",
		StripeSubscriptionID: sub.ID,
		PeriodStart:          unixPtr(sub.CurrentPeriodStart),
		PeriodEnd:            unixPtr(sub.CurrentPeriodEnd),
	}
	if sub.Customer != nil {
		c.StripeCustomerID = sub.Customer.ID
	}
	return c
}

// MetadataPlan reads the plan name from Stripe metadata; empty when absent.
func MetadataPlan(meta map[string]string) plans.Plan {
	return plans.Plan(strings.ToLower(strings.TrimSpace(meta[MetaPlan])))
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
