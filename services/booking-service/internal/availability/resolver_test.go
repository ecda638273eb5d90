package availability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeHours struct {
	hours WorkingHours
	err   error
}

func (f fakeHours) GetWorkingHours(context.Context, string) (WorkingHours, error) {
	return f.hours, f.err
}

type fakeAppts struct {
	appts    []Appointment
	err      error
	from, to time.Time
}

func (f *fakeAppts) ListAppointments(_ context.Context, _ string, from, to time.Time) ([]Appointment, error) {
	f.from, f.to = from, to
	return f.appts, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolver_DefaultsWhenHoursMissing(t *testing.T) {
	r := NewResolver(fakeHours{err: ErrHoursNotFound}, &fakeAppts{}, quietLogger(), nil, ResolverConfig{})
	sched := r.DaySchedule(context.Background(), "ws-1", day(t))
	if len(sched.Warnings) != 0 {
		t.Fatalf("missing hours is not a failure, got warnings %v", sched.Warnings)
	}
	if len(sched.Slots) != 18 {
		t.Fatalf("expected default weekday grid of 18 slots, got %d", len(sched.Slots))
	}
}

func TestResolver_HoursFailureFallsBackWithWarning(t *testing.T) {
	r := NewResolver(fakeHours{err: errors.New("db down")}, &fakeAppts{}, quietLogger(), nil, ResolverConfig{})
	sched := r.DaySchedule(context.Background(), "ws-1", day(t))
	if len(sched.Warnings) != 1 || sched.Warnings[0] != WarnHoursUnavailable {
		t.Fatalf("expected hours warning, got %v", sched.Warnings)
	}
	if sched.Hours.Start != "08:00" || sched.Hours.End != "17:00" {
		t.Fatalf("expected default hours, got %+v", sched.Hours)
	}
}

func TestResolver_AppointmentFailureMarksAllOpen(t *testing.T) {
	appts := &fakeAppts{err: errors.New("timeout")}
	r := NewResolver(fakeHours{hours: WorkingHours{"wednesday": {Start: "09:00", End: "11:00", IsOpen: true}}}, appts, quietLogger(), nil, ResolverConfig{})
	sched := r.DaySchedule(context.Background(), "ws-1", day(t))
	if len(sched.Slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(sched.Slots))
	}
	for _, s := range sched.Slots {
		if !s.Available {
			t.Fatalf("expected every slot open, got %+v", s)
		}
	}
	if len(sched.Warnings) != 1 || sched.Warnings[0] != WarnAppointmentsUnavailable {
		t.Fatalf("expected appointments warning, got %v", sched.Warnings)
	}
}

func TestResolver_QueriesWholeDay(t *testing.T) {
	d := day(t)
	appts := &fakeAppts{appts: []Appointment{{ID: "a", ScheduledAt: at(d, "09:00"), DurationMinutes: 30}}}
	r := NewResolver(fakeHours{hours: WorkingHours{"wednesday": {Start: "09:00", End: "10:00", IsOpen: true}}}, appts, quietLogger(), nil, ResolverConfig{})

	sched := r.DaySchedule(context.Background(), "ws-1", d.Add(15*time.Hour))
	if !appts.from.Equal(d) {
		t.Fatalf("expected range to start at midnight, got %s", appts.from)
	}
	if !appts.to.Before(d.AddDate(0, 0, 1)) || appts.to.Before(d.Add(23*time.Hour)) {
		t.Fatalf("expected inclusive end of day, got %s", appts.to)
	}
	if sched.Slots[0].Available || !sched.Slots[1].Available {
		t.Fatalf("unexpected grid %+v", sched.Slots)
	}
	if sched.Date != "2026-01-28" {
		t.Fatalf("unexpected date %q", sched.Date)
	}
}

func TestResolver_ClosedDaySkipsAppointmentFetch(t *testing.T) {
	appts := &fakeAppts{err: errors.New("should not be called")}
	r := NewResolver(fakeHours{hours: WorkingHours{"monday": {Start: "09:00", End: "10:00", IsOpen: true}}}, appts, quietLogger(), nil, ResolverConfig{})
	sched := r.DaySchedule(context.Background(), "ws-1", day(t))
	if len(sched.Slots) != 0 || len(sched.Warnings) != 0 {
		t.Fatalf("expected empty grid without warnings, got %+v", sched)
	}
	if !appts.from.IsZero() {
		t.Fatal("appointments should not be fetched for a closed day")
	}
}
