package availability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/garageflow/garageflow/libs/metrics"
)

// ErrHoursNotFound is returned by an HoursProvider for a workshop without a schedule.
var ErrHoursNotFound = errors.New("working hours not configured")

// HoursProvider loads a workshop's configured schedule.
type HoursProvider interface {
	GetWorkingHours(ctx context.Context, workshopID string) (WorkingHours, error)
}

// AppointmentProvider lists a workshop's appointments with scheduled_at in
// [from, to]. Cancelled rows may be included; the engine skips them.
type AppointmentProvider interface {
	ListAppointments(ctx context.Context, workshopID string, from, to time.Time) ([]Appointment, error)
}

// Warning codes attached to a degraded DaySchedule.
const (
	WarnHoursUnavailable        = "working_hours_unavailable"
	WarnAppointmentsUnavailable = "appointments_unavailable"
)

// DaySchedule is the slot grid for one workshop day.
type DaySchedule struct {
	WorkshopID string     `json:"workshop_id"`
	Date       string     `json:"date"`
	Hours      DayHours   `json:"hours"`
	Slots      []TimeSlot `json:"slots"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// Resolver fetches a day's inputs and runs the engine over them. Provider
// failures never surface as errors; they degrade to the documented fallbacks
// and are reported as warnings.
type Resolver struct {
	hours   HoursProvider
	appts   AppointmentProvider
	logger  *slog.Logger
	metrics *metrics.Registry
	timeout time.Duration
}

type ResolverConfig struct {
	// FetchTimeout bounds each provider call.
	FetchTimeout time.Duration
}

func NewResolver(hours HoursProvider, appts AppointmentProvider, logger *slog.Logger, m *metrics.Registry, cfg ResolverConfig) *Resolver {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{hours: hours, appts: appts, logger: logger, metrics: m, timeout: cfg.FetchTimeout}
}

// WorkingHours returns the workshop's schedule or the default one. The second
// return value is a warning code when the default was used because of a failure.
func (r *Resolver) WorkingHours(ctx context.Context, workshopID string) (WorkingHours, string) {
	if r.hours == nil {
		return DefaultWorkingHours(), ""
	}
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	wh, err := r.hours.GetWorkingHours(fetchCtx, workshopID)
	switch {
	case errors.Is(err, ErrHoursNotFound):
		return DefaultWorkingHours(), ""
	case err != nil:
		r.logger.Warn("working hours fetch failed; using default schedule", "workshop_id", workshopID, "err", err)
		r.metrics.Degraded(WarnHoursUnavailable)
		return DefaultWorkingHours(), WarnHoursUnavailable
	case len(wh) == 0:
		return DefaultWorkingHours(), ""
	}
	return wh, ""
}

// DaySchedule computes the slot grid of date (interpreted in date's location).
func (r *Resolver) DaySchedule(ctx context.Context, workshopID string, date time.Time) DaySchedule {
	day := DayStart(date)
	out := DaySchedule{WorkshopID: workshopID, Date: day.Format("2006-01-02")}

	wh, warn := r.WorkingHours(ctx, workshopID)
	if warn != "" {
		out.Warnings = append(out.Warnings, warn)
	}
	out.Hours = wh.For(day)

	clocks := GenerateSlots(out.Hours)
	if len(clocks) == 0 {
		out.Slots = []TimeSlot{}
		r.metrics.DayComputed("closed")
		return out
	}

	appts, err := r.listAppointments(ctx, workshopID, day)
	if err != nil {
		r.logger.Warn("appointments fetch failed; treating all slots as open", "workshop_id", workshopID, "date", out.Date, "err", err)
		r.metrics.Degraded(WarnAppointmentsUnavailable)
		out.Warnings = append(out.Warnings, WarnAppointmentsUnavailable)
		out.Slots = AllAvailable(clocks)
		r.metrics.DayComputed("degraded")
		return out
	}

	out.Slots = ComputeAvailability(clocks, appts, day)
	if len(out.Warnings) > 0 {
		r.metrics.DayComputed("degraded")
	} else {
		r.metrics.DayComputed("ok")
	}
	return out
}

func (r *Resolver) listAppointments(ctx context.Context, workshopID string, day time.Time) ([]Appointment, error) {
	if r.appts == nil {
		return nil, nil
	}
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	from := day
	to := day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return r.appts.ListAppointments(fetchCtx, workshopID, from, to)
}
