package usage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/garageflow/garageflow/libs/events"
	"github.com/garageflow/garageflow/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type countingStore struct {
	counts map[string]int
}

func (c *countingStore) IncrementAppointments(_ context.Context, tenantID string, period time.Time) error {
	c.counts[tenantID+"@"+period.Format("2006-01")]++
	return nil
}

func (c *countingStore) DecrementAppointments(_ context.Context, tenantID string, period time.Time) error {
	key := tenantID + "@" + period.Format("2006-01")
	if c.counts[key] > 0 {
		c.counts[key]--
	}
	return nil
}

func deliver(t *testing.T, h kafkax.Handler, topic, raw string) {
	t.Helper()
	msg := kafka.Message{Topic: topic, Value: []byte(raw)}
	if err := h(context.Background(), kafkax.ExtractEventMeta(msg), msg); err != nil {
		t.Fatalf("handler: %v", err)
	}
}

func TestHandlerCountsByBookingMonth(t *testing.T) {
	store := &countingStore{counts: map[string]int{}}
	h := Handler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	deliver(t, h, events.AppointmentBooked, `{"tenant_id":"t-1","appointment_id":"a1","booked_at":"2026-05-31T23:30:00-03:00"}`)
	deliver(t, h, events.AppointmentBooked, `{"tenant_id":"t-1","appointment_id":"a2","booked_at":"2026-05-10T10:00:00Z"}`)
	deliver(t, h, events.AppointmentBooked, `{"appointment_id":"a3"}`)

	if store.counts["t-1@2026-06"] != 1 || store.counts["t-1@2026-05"] != 1 || len(store.counts) != 2 {
		t.Fatalf("unexpected counts %v", store.counts)
	}
}

func TestHandlerCancellationReleasesBookedMonth(t *testing.T) {
	store := &countingStore{counts: map[string]int{}}
	h := Handler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	deliver(t, h, events.AppointmentBooked, `{"tenant_id":"t-1","appointment_id":"a1","booked_at":"2026-05-10T10:00:00Z"}`)
	deliver(t, h, events.AppointmentBooked, `{"tenant_id":"t-1","appointment_id":"a2","booked_at":"2026-05-12T10:00:00Z"}`)
	// Cancelled in June, released from May.
	deliver(t, h, events.AppointmentCancelled, `{"tenant_id":"t-1","appointment_id":"a1","booked_at":"2026-05-10T10:00:00Z","cancelled_at":"2026-06-02T08:00:00Z"}`)

	if store.counts["t-1@2026-05"] != 1 || store.counts["t-1@2026-06"] != 0 {
		t.Fatalf("unexpected counts after cancellation %v", store.counts)
	}

	// No booking time, nothing to release.
	deliver(t, h, events.AppointmentCancelled, `{"tenant_id":"t-1","appointment_id":"a2","cancelled_at":"2026-06-02T08:00:00Z"}`)
	if store.counts["t-1@2026-05"] != 1 {
		t.Fatalf("cancellation without booked_at must be ignored, got %v", store.counts)
	}

	deliver(t, h, events.AppointmentCancelled, `{"tenant_id":"t-1","appointment_id":"a2","booked_at":"2026-05-12T10:00:00Z"}`)
	deliver(t, h, events.AppointmentCancelled, `{"tenant_id":"t-1","appointment_id":"a9","booked_at":"2026-05-20T10:00:00Z"}`)
	if store.counts["t-1@2026-05"] != 0 {
		t.Fatalf("counter should floor at zero, got %v", store.counts)
	}
}
