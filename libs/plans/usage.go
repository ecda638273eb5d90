package plans

import (
	"fmt"
	"math"
)

// nearLimitRatio is the usage ratio at which a limit is flagged as close.
const nearLimitRatio = 0.8

// Usage is a tenant's consumption for the current billing period. A zero value
// is the documented stand-in when the snapshot could not be fetched.
type Usage struct {
	AppointmentsUsed int64 `json:"appointments_used"`
	StorageUsed      int64 `json:"storage_used"`
}

// Report carries the UI-facing figures for a plan and a usage snapshot.
type Report struct {
	Plan                       Plan    `json:"plan"`
	AppointmentUsagePercentage float64 `json:"appointment_usage_percentage"`
	StorageUsagePercentage     float64 `json:"storage_usage_percentage"`
	NearAppointmentLimit       bool    `json:"near_appointment_limit"`
	NearStorageLimit           bool    `json:"near_storage_limit"`
	CanCreateAppointment       bool    `json:"can_create_appointment"`
	StorageUsed                string  `json:"storage_used"`
	StorageLimit               string  `json:"storage_limit"`
}

// NewReport derives the usage figures for plan.
func NewReport(plan Plan, usage Usage) Report {
	limits := LimitsFor(plan)
	return Report{
		Plan:                       limits.Plan,
		AppointmentUsagePercentage: UsagePercentage(usage.AppointmentsUsed, limits.Appointments),
		StorageUsagePercentage:     UsagePercentage(usage.StorageUsed, limits.StorageBytes),
		NearAppointmentLimit:       NearLimit(usage.AppointmentsUsed, limits.Appointments),
		NearStorageLimit:           NearLimit(usage.StorageUsed, limits.StorageBytes),
		CanCreateAppointment:       WithinAppointmentLimit(plan, usage.AppointmentsUsed),
		StorageUsed:                FormatStorageSize(usage.StorageUsed),
		StorageLimit:               FormatStorageSize(limits.StorageBytes),
	}
}

// UsagePercentage is min(used/limit*100, 100), or 0 for an unlimited quota.
func UsagePercentage(used, limit int64) float64 {
	if limit == Unlimited {
		return 0
	}
	if limit <= 0 {
		return 100
	}
	if used <= 0 {
		return 0
	}
	return math.Min(float64(used)/float64(limit)*100, 100)
}

// NearLimit reports usage at or beyond 80% of a finite quota.
func NearLimit(used, limit int64) bool {
	if limit == Unlimited {
		return false
	}
	if limit <= 0 {
		return true
	}
	return float64(used)/float64(limit) >= nearLimitRatio
}

// ProjectBytes returns used+delta. ok is false when the sum does not fit in
// an int64.
func ProjectBytes(used, delta int64) (projected int64, ok bool) {
	if (delta > 0 && used > math.MaxInt64-delta) || (delta < 0 && used < math.MinInt64-delta) {
		return 0, false
	}
	return used + delta, true
}

var storageUnits = []string{"B", "KB", "MB", "GB"}

// FormatStorageSize renders a byte count with the largest unit (up to GB) that
// keeps the magnitude at or above 1, rounded to a whole number.
func FormatStorageSize(bytes int64) string {
	if bytes == Unlimited {
		return "Unlimited"
	}
	if bytes <= 0 {
		return "0 B"
	}
	v := float64(bytes)
	i := 0
	for v >= 1024 && i < len(storageUnits)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%d %s", int64(math.Round(v)), storageUnits[i])
}
