package availability

import "strings"

// ServiceType is the kind of work an appointment is booked for.
type ServiceType string

const (
	ServiceOilChange          ServiceType = "oil_change"
	ServiceTireRotation       ServiceType = "tire_rotation"
	ServiceBrakeService       ServiceType = "brake_service"
	ServiceBatteryService     ServiceType = "battery_service"
	ServiceInspection         ServiceType = "inspection"
	ServiceEngineDiagnostic   ServiceType = "engine_diagnostic"
	ServiceACService          ServiceType = "ac_service"
	ServiceWheelAlignment     ServiceType = "wheel_alignment"
	ServiceTransmission       ServiceType = "transmission_service"
	ServiceGeneralMaintenance ServiceType = "general_maintenance"
	ServiceOther              ServiceType = "other"
)

const defaultServiceMinutes = 60

// ServiceTypes lists the bookable service types in display order.
var ServiceTypes = []ServiceType{
	ServiceOilChange,
	ServiceTireRotation,
	ServiceBrakeService,
	ServiceBatteryService,
	ServiceInspection,
	ServiceEngineDiagnostic,
	ServiceACService,
	ServiceWheelAlignment,
	ServiceTransmission,
	ServiceGeneralMaintenance,
	ServiceOther,
}

// ParseServiceType maps raw input onto a known type; anything else is ServiceOther.
func ParseServiceType(raw string) ServiceType {
	st := ServiceType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range ServiceTypes {
		if st == known {
			return st
		}
	}
	return ServiceOther
}

// ServiceDuration is the typical length of st in minutes.
func ServiceDuration(st ServiceType) int {
	switch st {
	case ServiceOilChange, ServiceBatteryService:
		return 30
	case ServiceTireRotation:
		return 45
	case ServiceBrakeService:
		return 90
	case ServiceInspection, ServiceEngineDiagnostic, ServiceACService, ServiceWheelAlignment:
		return 60
	case ServiceTransmission, ServiceGeneralMaintenance:
		return 120
	default:
		return defaultServiceMinutes
	}
}

// RequiredSlots is the number of consecutive slots a service occupies.
func RequiredSlots(st ServiceType) int {
	return (ServiceDuration(st) + SlotMinutes - 1) / SlotMinutes
}
