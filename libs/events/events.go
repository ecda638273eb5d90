// Package events holds the topics and payloads exchanged between services.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	AppointmentBooked    = "booking.appointment.booked.v1"
	AppointmentCancelled = "booking.appointment.cancelled.v1"

	SubscriptionActivated = "billing.subscription.activated.v1"
	SubscriptionCanceled  = "billing.subscription.canceled.v1"
)

type AppointmentBookedPayload struct {
	AppointmentID   string    `json:"appointment_id"`
	TenantID        string    `json:"tenant_id"`
	WorkshopID      string    `json:"workshop_id"`
	ServiceType     string    `json:"service_type"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	CustomerName    string    `json:"customer_name"`
	CustomerEmail   string    `json:"customer_email,omitempty"`
	BookedAt        time.Time `json:"booked_at"`
}

type AppointmentCancelledPayload struct {
	AppointmentID string    `json:"appointment_id"`
	TenantID      string    `json:"tenant_id"`
	WorkshopID    string    `json:"workshop_id"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	Reason        string    `json:"reason,omitempty"`
	// BookedAt is when the appointment was created. Usage counters key on it.
	BookedAt      time.Time `json:"booked_at"`
	CancelledAt   time.Time `json:"cancelled_at"`
}

// SubscriptionPayload is shared by the activated and canceled events.
type SubscriptionPayload struct {
	TenantID         string     `json:"tenant_id"`
	Plan             string     `json:"plan"`
	Status           string     `json:"status"`
	Provider         string     `json:"provider"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	OccurredAt       time.Time  `json:"occurred_at"`
}

// Decode unmarshals an event body and rejects payloads without a tenant.
func Decode[T interface{ tenant() string }](raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode event: %w", err)
	}
	if v.tenant() == "" {
		return v, fmt.Errorf("decode event: tenant_id missing")
	}
	return v, nil
}

func (p AppointmentBookedPayload) tenant() string    { return p.TenantID }
func (p AppointmentCancelledPayload) tenant() string { return p.TenantID }
func (p SubscriptionPayload) tenant() string         { return p.TenantID }
