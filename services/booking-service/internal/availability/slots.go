package availability

import "time"

// SlotMinutes is the scheduling granularity.
const SlotMinutes = 30

const (
	slotLength             = SlotMinutes * time.Minute
	defaultDurationMinutes = 60
	StatusCancelled        = "cancelled"
)

// Appointment is the part of a booking that matters for occupancy.
type Appointment struct {
	ID              string
	ScheduledAt     time.Time
	DurationMinutes int
	Status          string
}

// Active reports whether the appointment blocks time.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}

// Duration falls back to 60 minutes when the stored value is missing or invalid.
func (a Appointment) Duration() time.Duration {
	mins := a.DurationMinutes
	if mins <= 0 {
		mins = defaultDurationMinutes
	}
	return time.Duration(mins) * time.Minute
}

// TimeSlot is one half-hour cell of a workshop day.
type TimeSlot struct {
	Time                   string `json:"time"`
	Available              bool   `json:"available"`
	OccupyingAppointmentID string `json:"occupyingAppointmentId,omitempty"`
}

// GenerateSlots enumerates every 30-minute boundary in [start, end). Closed or
// malformed days yield no slots.
func GenerateSlots(day DayHours) []string {
	if !day.IsOpen {
		return nil
	}
	start, err := parseClock(day.Start)
	if err != nil {
		return nil
	}
	end, err := parseClock(day.End)
	if err != nil || end <= start {
		return nil
	}
	slots := make([]string, 0, (end-start+SlotMinutes-1)/SlotMinutes)
	for m := start; m < end; m += SlotMinutes {
		slots = append(slots, formatClock(m))
	}
	return slots
}

// ComputeAvailability marks each slot of date as free or occupied. A slot
// [s, s+30m) is occupied by an active appointment [a, a+d) iff s < a+d and
// s+30m > a; a slot starting exactly when an appointment ends is free. The
// slot clock is interpreted in date's location.
func ComputeAvailability(slots []string, appts []Appointment, date time.Time) []TimeSlot {
	out := make([]TimeSlot, 0, len(slots))
	for _, clock := range slots {
		slot := TimeSlot{Time: clock, Available: true}
		start, ok := SlotTime(date, clock)
		if !ok {
			slot.Available = false
			out = append(out, slot)
			continue
		}
		end := start.Add(slotLength)
		for _, a := range appts {
			if !a.Active() {
				continue
			}
			aptStart := a.ScheduledAt
			aptEnd := aptStart.Add(a.Duration())
			if start.Before(aptEnd) && end.After(aptStart) {
				slot.Available = false
				slot.OccupyingAppointmentID = a.ID
				break
			}
		}
		out = append(out, slot)
	}
	return out
}

// AllAvailable marks every slot free. Used when occupancy could not be loaded.
func AllAvailable(slots []string) []TimeSlot {
	out := make([]TimeSlot, 0, len(slots))
	for _, clock := range slots {
		out = append(out, TimeSlot{Time: clock, Available: true})
	}
	return out
}

// IsTimeSlotAvailable reports whether a service of type st can start at clock:
// the slot and the ceil(duration/30)-1 slots after it (by position) must all be
// present and free.
func IsTimeSlotAvailable(slots []TimeSlot, clock string, st ServiceType) bool {
	idx := -1
	for i, s := range slots {
		if s.Time == clock {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	need := RequiredSlots(st)
	if idx+need > len(slots) {
		return false
	}
	for _, s := range slots[idx : idx+need] {
		if !s.Available {
			return false
		}
	}
	return true
}

// SlotTime is the absolute start of clock on date, in date's location.
func SlotTime(date time.Time, clock string) (time.Time, bool) {
	mins, err := parseClock(clock)
	if err != nil {
		return time.Time{}, false
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, mins/60, mins%60, 0, 0, date.Location()), true
}

// DayStart is local midnight of date in date's location.
func DayStart(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, date.Location())
}
