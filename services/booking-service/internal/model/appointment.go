package model

import "time"

const (
	StatusBooked    = "booked"
	StatusCancelled = "cancelled"
)

type Appointment struct {
	ID              string
	TenantID        string
	WorkshopID      string
	VehicleID       string
	ServiceType     string
	ScheduledAt     time.Time
	DurationMinutes int
	Status          string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	CancelledAt     *time.Time
	CancelReason    string
	CreatedAt       time.Time
}

func (a Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}
