package availability

import (
	"fmt"
	"strings"
	"time"
)

// DayHours is the opening window of a single weekday, as "HH:MM" clock strings.
type DayHours struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	IsOpen bool   `json:"isOpen"`
}

// WorkingHours maps lowercase weekday names ("monday") to their hours.
// A day missing from the map is closed.
type WorkingHours map[string]DayHours

var weekdayKeys = [...]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// WeekdayKey returns the map key used for d.
func WeekdayKey(d time.Weekday) string {
	return weekdayKeys[d]
}

// DefaultWorkingHours is used whenever a workshop has no configured schedule:
// Mon-Fri 08:00-17:00, Sat 08:00-13:00, Sun closed.
func DefaultWorkingHours() WorkingHours {
	weekday := DayHours{Start: "08:00", End: "17:00", IsOpen: true}
	return WorkingHours{
		"monday":    weekday,
		"tuesday":   weekday,
		"wednesday": weekday,
		"thursday":  weekday,
		"friday":    weekday,
		"saturday":  {Start: "08:00", End: "13:00", IsOpen: true},
		"sunday":    {Start: "08:00", End: "17:00", IsOpen: false},
	}
}

// For returns the hours that apply on date's weekday.
func (wh WorkingHours) For(date time.Time) DayHours {
	if wh == nil {
		return DayHours{}
	}
	return wh[WeekdayKey(date.Weekday())]
}

// Validate checks day names and that every open day has start < end.
func (wh WorkingHours) Validate() error {
	for day, h := range wh {
		if !isWeekdayKey(day) {
			return fmt.Errorf("unknown weekday %q", day)
		}
		if !h.IsOpen {
			continue
		}
		start, err := parseClock(h.Start)
		if err != nil {
			return fmt.Errorf("%s start: %w", day, err)
		}
		end, err := parseClock(h.End)
		if err != nil {
			return fmt.Errorf("%s end: %w", day, err)
		}
		if start >= end {
			return fmt.Errorf("%s: start must be before end", day)
		}
	}
	return nil
}

// Normalize lowercases day names so stored schedules match WeekdayKey. Two
// names for the same day ("Monday" and "monday") are rejected.
func (wh WorkingHours) Normalize() (WorkingHours, error) {
	out := make(WorkingHours, len(wh))
	for day, h := range wh {
		key := strings.ToLower(strings.TrimSpace(day))
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("duplicate weekday %q", key)
		}
		out[key] = h
	}
	return out, nil
}

func isWeekdayKey(s string) bool {
	for _, k := range weekdayKeys {
		if k == s {
			return true
		}
	}
	return false
}

// parseClock converts "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
