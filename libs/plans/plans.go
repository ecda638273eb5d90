// Package plans evaluates subscription plans: feature grants, usage limits and
// the derived figures shown next to them. Everything here is a pure table lookup
// or arithmetic over a usage snapshot supplied by the caller.
package plans

import (
	"errors"
	"strings"
)

// Plan is a subscription tier. Tiers are totally ordered by capability.
type Plan string

const (
	Free       Plan = "free"
	Starter    Plan = "starter"
	Pro        Plan = "pro"
	Enterprise Plan = "enterprise"
)

// Unlimited marks a limit that is never reached.
const Unlimited int64 = -1

var ErrLimitReached = errors.New("plan limit reached (upgrade required)")

// ParsePlan normalizes a stored or requested plan name. Anything unrecognized
// resolves to Free.
func ParsePlan(raw string) Plan {
	switch p := Plan(strings.ToLower(strings.TrimSpace(raw))); p {
	case Free, Starter, Pro, Enterprise:
		return p
	default:
		return Free
	}
}

// Valid reports whether p is one of the known tiers.
func (p Plan) Valid() bool {
	switch p {
	case Free, Starter, Pro, Enterprise:
		return true
	default:
		return false
	}
}

// Rank orders tiers; unknown plans rank with Free.
func (p Plan) Rank() int {
	switch p {
	case Starter:
		return 1
	case Pro:
		return 2
	case Enterprise:
		return 3
	default:
		return 0
	}
}

// Limits holds the per-plan quotas. Unlimited (-1) disables a check.
type Limits struct {
	Plan         Plan  `json:"plan"`
	Appointments int64 `json:"appointments"`
	Vehicles     int64 `json:"vehicles"`
	StorageBytes int64 `json:"storage_bytes"`
}

const (
	kb = int64(1024)
	mb = 1024 * kb
	gb = 1024 * mb
)

var limitsTable = map[Plan]Limits{
	Free:       {Plan: Free, Appointments: 20, Vehicles: 10, StorageBytes: 100 * mb},
	Starter:    {Plan: Starter, Appointments: 100, Vehicles: 50, StorageBytes: 1 * gb},
	Pro:        {Plan: Pro, Appointments: 500, Vehicles: 250, StorageBytes: 10 * gb},
	Enterprise: {Plan: Enterprise, Appointments: Unlimited, Vehicles: Unlimited, StorageBytes: Unlimited},
}

// LimitsFor returns the quotas of plan, falling back to the free tier.
func LimitsFor(plan Plan) Limits {
	if l, ok := limitsTable[plan]; ok {
		return l
	}
	return limitsTable[Free]
}

func within(limit, value int64) bool {
	return limit == Unlimited || value < limit
}

// WithinAppointmentLimit reports whether one more appointment may be created
// given the number already used this period.
func WithinAppointmentLimit(plan Plan, used int64) bool {
	return within(LimitsFor(plan).Appointments, used)
}

// WithinVehicleLimit reports whether one more vehicle may be registered.
func WithinVehicleLimit(plan Plan, used int64) bool {
	return within(LimitsFor(plan).Vehicles, used)
}

// WithinStorageLimit takes the usage after the hypothetical upload
// (current usage plus file size), not the current usage.
func WithinStorageLimit(plan Plan, projectedBytes int64) bool {
	return within(LimitsFor(plan).StorageBytes, projectedBytes)
}
