// Package usage counts booked appointments per tenant and billing period.
package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/garageflow/garageflow/libs/events"
	"github.com/garageflow/garageflow/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

var Topics = []string{events.AppointmentBooked, events.AppointmentCancelled}

// Counter is implemented by storage.Repository.
type Counter interface {
	IncrementAppointments(ctx context.Context, tenantID string, periodStart time.Time) error
	DecrementAppointments(ctx context.Context, tenantID string, periodStart time.Time) error
}

// Handler keeps appointments_used equal to the non-cancelled appointments
// created in each month. Bookings count in the month they were made and a
// cancellation releases that same month. Inbox deduplication upstream keeps
// redeliveries from counting twice.
func Handler(counter Counter, logger *slog.Logger) kafkax.Handler {
	return func(ctx context.Context, meta kafkax.EventMeta, msg kafka.Message) error {
		switch meta.EventType {
		case events.AppointmentBooked:
			return booked(ctx, counter, logger, meta, msg)
		case events.AppointmentCancelled:
			return cancelled(ctx, counter, logger, meta, msg)
		default:
			logger.Warn("unexpected event type", "event_type", meta.EventType, "event_id", meta.EventID)
			return nil
		}
	}
}

func booked(ctx context.Context, counter Counter, logger *slog.Logger, meta kafkax.EventMeta, msg kafka.Message) error {
	payload, err := events.Decode[events.AppointmentBookedPayload](msg.Value)
	if err != nil {
		logger.Error("invalid booking event", "err", err, "event_id", meta.EventID)
		return nil
	}
	bookedAt := payload.BookedAt
	if bookedAt.IsZero() {
		bookedAt = msg.Time
	}
	period := PeriodOf(bookedAt)
	if err := counter.IncrementAppointments(ctx, payload.TenantID, period); err != nil {
		return err
	}
	logger.Debug("appointment usage recorded", "tenant_id", payload.TenantID, "period_start", period.Format("2006-01-02"), "appointment_id", payload.AppointmentID)
	return nil
}

func cancelled(ctx context.Context, counter Counter, logger *slog.Logger, meta kafkax.EventMeta, msg kafka.Message) error {
	payload, err := events.Decode[events.AppointmentCancelledPayload](msg.Value)
	if err != nil {
		logger.Error("invalid cancellation event", "err", err, "event_id", meta.EventID)
		return nil
	}
	// Without the booking time there is no way to tell which month to release.
	if payload.BookedAt.IsZero() {
		logger.Warn("cancellation without booked_at", "event_id", meta.EventID, "appointment_id", payload.AppointmentID)
		return nil
	}
	period := PeriodOf(payload.BookedAt)
	if err := counter.DecrementAppointments(ctx, payload.TenantID, period); err != nil {
		return err
	}
	logger.Debug("appointment usage released", "tenant_id", payload.TenantID, "period_start", period.Format("2006-01-02"), "appointment_id", payload.AppointmentID)
	return nil
}

// PeriodOf is the first day of t's calendar month in UTC.
func PeriodOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
