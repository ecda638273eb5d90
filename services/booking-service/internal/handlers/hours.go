package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/garageflow/garageflow/libs/httpx"
	"github.com/garageflow/garageflow/services/booking-service/internal/availability"
	"github.com/garageflow/garageflow/services/booking-service/internal/storage"
)

type hoursRequest struct {
	WorkshopID string                    `json:"workshop_id" validate:"required,uuid"`
	Hours      availability.WorkingHours `json:"hours" validate:"required"`
}

type hoursResponse struct {
	WorkshopID string                    `json:"workshop_id"`
	Hours      availability.WorkingHours `json:"hours"`
	Configured bool                      `json:"configured"`
	Timezone   string                    `json:"timezone"`
}

// WorkingHours reads (GET) or replaces (PUT) a workshop's weekly schedule.
func (h *BookingHandler) WorkingHours(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut {
		h.putHours(w, r)
		return
	}

	workshopID := strings.TrimSpace(r.URL.Query().Get("workshop_id"))
	if err := httpx.Validator().Var(workshopID, "required,uuid"); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "workshop_id must be a uuid")
		return
	}
	wh, err := h.hours.GetWorkingHours(r.Context(), workshopID)
	resp := hoursResponse{WorkshopID: workshopID, Hours: wh, Configured: true, Timezone: h.loc.String()}
	switch {
	case errors.Is(err, availability.ErrHoursNotFound):
		resp.Hours = availability.DefaultWorkingHours()
		resp.Configured = false
	case err != nil:
		h.logger.Error("load working hours failed", "err", err, "workshop_id", workshopID)
		httpx.WriteError(w, http.StatusServiceUnavailable, "working hours unavailable")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) putHours(w http.ResponseWriter, r *http.Request) {
	var req hoursRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteRequestError(w, err)
		return
	}
	wh, err := req.Hours.Normalize()
	if err == nil {
		err = wh.Validate()
	}
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ident, _ := httpx.IdentityFromContext(r.Context())

	err = h.hours.UpsertWorkingHours(r.Context(), ident.TenantID, req.WorkshopID, wh)
	switch {
	case errors.Is(err, storage.ErrTenantMismatch):
		httpx.WriteError(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		h.logger.Error("save working hours failed", "err", err, "workshop_id", req.WorkshopID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to save working hours")
		return
	}
	h.logger.Info("working hours updated", "workshop_id", req.WorkshopID, "tenant_id", ident.TenantID)
	httpx.WriteJSON(w, http.StatusOK, hoursResponse{WorkshopID: req.WorkshopID, Hours: wh, Configured: true, Timezone: h.loc.String()})
}
