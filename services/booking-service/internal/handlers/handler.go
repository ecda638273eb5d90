package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/garageflow/garageflow/libs/httpx"
	"github.com/garageflow/garageflow/libs/metrics"
	"github.com/garageflow/garageflow/services/booking-service/internal/availability"
	"github.com/garageflow/garageflow/services/booking-service/internal/model"
	"github.com/garageflow/garageflow/services/booking-service/internal/storage"
)

// AppointmentStore is implemented by storage.AppointmentRepository.
type AppointmentStore interface {
	WithTx(ctx context.Context, fn func(storage.Tx) error) error
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]model.Appointment, error)
}

// HoursStore is implemented by storage.HoursRepository.
type HoursStore interface {
	GetWorkingHours(ctx context.Context, workshopID string) (availability.WorkingHours, error)
	UpsertWorkingHours(ctx context.Context, tenantID, workshopID string, wh availability.WorkingHours) error
}

type BookingHandler struct {
	resolver *availability.Resolver
	appts    AppointmentStore
	hours    HoursStore
	logger   *slog.Logger
	metrics  *metrics.Registry
	loc      *time.Location
	now      func() time.Time
}

type Config struct {
	// Location interprets dates and clock times. Nil means UTC.
	Location *time.Location
}

func NewBookingHandler(resolver *availability.Resolver, appts AppointmentStore, hours HoursStore, logger *slog.Logger, m *metrics.Registry, cfg Config) *BookingHandler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &BookingHandler{
		resolver: resolver,
		appts:    appts,
		hours:    hours,
		logger:   logger,
		metrics:  m,
		loc:      loc,
		now:      time.Now,
	}
}

// Register mounts the booking routes on mux.
func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/slots", httpx.AllowMethods(h.Slots, http.MethodGet))
	mux.HandleFunc("/api/v1/public/slots/check", httpx.AllowMethods(h.CheckSlot, http.MethodGet))
	mux.HandleFunc("/api/v1/public/services", httpx.AllowMethods(h.Services, http.MethodGet))

	tenant := func(fn http.HandlerFunc) http.Handler { return httpx.RequireTenant(fn) }
	mux.Handle("/api/v1/appointments", tenant(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.List(w, r)
		case http.MethodPost:
			h.Create(w, r)
		default:
			w.Header().Set("Allow", "GET, POST")
			httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}))
	mux.Handle("/api/v1/appointments/cancel", tenant(httpx.AllowMethods(h.Cancel, http.MethodPost)))
	mux.Handle("/api/v1/workshop/hours", tenant(httpx.AllowMethods(h.WorkingHours, http.MethodGet, http.MethodPut)))
}

func (h *BookingHandler) parseDate(raw string) (time.Time, bool) {
	d, err := time.ParseInLocation("2006-01-02", raw, h.loc)
	return d, err == nil
}

// monthRange is the calendar month of t in UTC.
func monthRange(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
