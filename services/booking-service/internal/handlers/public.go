package handlers

import (
	"net/http"
	"strings"

	"github.com/garageflow/garageflow/libs/httpx"
	"github.com/garageflow/garageflow/services/booking-service/internal/availability"
)

type slotsQuery struct {
	WorkshopID string `json:"workshop_id" validate:"required,uuid"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
}

type checkQuery struct {
	WorkshopID  string `json:"workshop_id" validate:"required,uuid"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Time        string `json:"time" validate:"required,datetime=15:04"`
	ServiceType string `json:"service_type"`
}

type checkResponse struct {
	Available       bool     `json:"available"`
	ServiceType     string   `json:"service_type"`
	DurationMinutes int      `json:"duration_minutes"`
	RequiredSlots   int      `json:"required_slots"`
	Warnings        []string `json:"warnings,omitempty"`
}

type serviceItem struct {
	ServiceType     string `json:"service_type"`
	DurationMinutes int    `json:"duration_minutes"`
	RequiredSlots   int    `json:"required_slots"`
}

// Slots returns the slot grid of one workshop day.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := slotsQuery{
		WorkshopID: strings.TrimSpace(q.Get("workshop_id")),
		Date:       strings.TrimSpace(q.Get("date")),
	}
	if err := httpx.Validate(in); err != nil {
		httpx.WriteRequestError(w, err)
		return
	}
	day, _ := h.parseDate(in.Date)
	httpx.WriteJSON(w, http.StatusOK, h.resolver.DaySchedule(r.Context(), in.WorkshopID, day))
}

// CheckSlot answers whether a service fits at a given start time.
func (h *BookingHandler) CheckSlot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := checkQuery{
		WorkshopID:  strings.TrimSpace(q.Get("workshop_id")),
		Date:        strings.TrimSpace(q.Get("date")),
		Time:        strings.TrimSpace(q.Get("time")),
		ServiceType: q.Get("service_type"),
	}
	if err := httpx.Validate(in); err != nil {
		httpx.WriteRequestError(w, err)
		return
	}
	day, _ := h.parseDate(in.Date)
	st := availability.ParseServiceType(in.ServiceType)
	sched := h.resolver.DaySchedule(r.Context(), in.WorkshopID, day)

	httpx.WriteJSON(w, http.StatusOK, checkResponse{
		Available:       availability.IsTimeSlotAvailable(sched.Slots, in.Time, st),
		ServiceType:     string(st),
		DurationMinutes: availability.ServiceDuration(st),
		RequiredSlots:   availability.RequiredSlots(st),
		Warnings:        sched.Warnings,
	})
}

func (h *BookingHandler) Services(w http.ResponseWriter, _ *http.Request) {
	items := make([]serviceItem, 0, len(availability.ServiceTypes))
	for _, st := range availability.ServiceTypes {
		items = append(items, serviceItem{
			ServiceType:     string(st),
			DurationMinutes: availability.ServiceDuration(st),
			RequiredSlots:   availability.RequiredSlots(st),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}
