package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/garageflow/garageflow/libs/events"
	"github.com/garageflow/garageflow/libs/httpx"
	"github.com/garageflow/garageflow/libs/outbox"
	"github.com/garageflow/garageflow/libs/plans"
	"github.com/garageflow/garageflow/services/booking-service/internal/availability"
	"github.com/garageflow/garageflow/services/booking-service/internal/model"
	"github.com/garageflow/garageflow/services/booking-service/internal/storage"
	"github.com/google/uuid"
)

const idempotencyHeader = "Idempotency-Key"

type createAppointmentRequest struct {
	WorkshopID    string `json:"workshop_id" validate:"required,uuid"`
	VehicleID     string `json:"vehicle_id" validate:"omitempty,uuid"`
	ServiceType   string `json:"service_type" validate:"required,max=64"`
	Date          string `json:"date" validate:"required,datetime=2006-01-02"`
	Time          string `json:"time" validate:"required,datetime=15:04"`
	CustomerName  string `json:"customer_name" validate:"required,max=200"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone string `json:"customer_phone" validate:"omitempty,max=32"`
}

type appointmentResponse struct {
	AppointmentID   string   `json:"appointment_id"`
	WorkshopID      string   `json:"workshop_id"`
	ServiceType     string   `json:"service_type"`
	ScheduledAt     string   `json:"scheduled_at"`
	EndsAt          string   `json:"ends_at"`
	DurationMinutes int      `json:"duration_minutes"`
	Status          string   `json:"status"`
	Warnings        []string `json:"warnings,omitempty"`
}

type cancelAppointmentRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required,uuid"`
	Reason        string `json:"reason" validate:"max=500"`
}

type cancelAppointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at"`
}

type listAppointmentItem struct {
	AppointmentID   string `json:"appointment_id"`
	WorkshopID      string `json:"workshop_id"`
	VehicleID       string `json:"vehicle_id,omitempty"`
	ServiceType     string `json:"service_type"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	CustomerName    string `json:"customer_name"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// outcome is a finished response that is also stored against an idempotency key.
type outcome struct {
	status int
	body   []byte
}

func errorOutcome(status int, msg string) outcome {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return outcome{status: status, body: body}
}

var (
	errOutsideAvailability = errors.New("requested time is outside workshop availability")
	errLimitReached        = errors.New("monthly appointment limit reached for current plan (upgrade required)")
)

// Create books an appointment after checking the slot grid and the tenant's plan.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteRequestError(w, err)
		return
	}
	ident, _ := httpx.IdentityFromContext(r.Context())
	day, _ := h.parseDate(req.Date)
	st := availability.ParseServiceType(req.ServiceType)
	start, ok := availability.SlotTime(day, req.Time)
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid time")
		return
	}

	appt := model.Appointment{
		ID:              uuid.NewString(),
		TenantID:        ident.TenantID,
		WorkshopID:      req.WorkshopID,
		VehicleID:       req.VehicleID,
		ServiceType:     string(st),
		ScheduledAt:     start,
		DurationMinutes: availability.ServiceDuration(st),
		Status:          model.StatusBooked,
		CustomerName:    strings.TrimSpace(req.CustomerName),
		CustomerEmail:   strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:   strings.TrimSpace(req.CustomerPhone),
		CreatedAt:       h.now().UTC(),
	}
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))

	ctx := r.Context()
	var out outcome
	err := h.appts.WithTx(ctx, func(tx storage.Tx) error {
		if key != "" {
			rec, _, err := tx.LockIdempotencyKey(ctx, appt.TenantID, key)
			if err != nil {
				return err
			}
			if rec.Completed() {
				out = outcome{status: rec.StatusCode, body: rec.ResponsePayload}
				return nil
			}
		}

		var err error
		out, err = h.book(ctx, tx, appt, day, req.Time, st)
		if err != nil {
			return err
		}
		if key != "" {
			apptID := ""
			if out.status == http.StatusCreated {
				apptID = appt.ID
			}
			return tx.FinalizeIdempotency(ctx, appt.TenantID, key, apptID, out.status, out.body)
		}
		return nil
	})
	switch {
	case errors.Is(err, storage.ErrSlotTaken):
		httpx.WriteError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("create appointment failed", "err", err, "tenant_id", appt.TenantID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to create appointment")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(out.status)
	_, _ = w.Write(out.body)
}

// book runs the availability and plan checks and writes the appointment and
// its event. Rule violations come back as outcomes, not errors, so that they
// are committed together with the idempotency record.
func (h *BookingHandler) book(ctx context.Context, tx storage.Tx, appt model.Appointment, day time.Time, clock string, st availability.ServiceType) (outcome, error) {
	sched := h.resolver.DaySchedule(ctx, appt.WorkshopID, day)
	if !availability.IsTimeSlotAvailable(sched.Slots, clock, st) {
		return errorOutcome(http.StatusUnprocessableEntity, errOutsideAvailability.Error()), nil
	}

	plan, err := tx.TenantPlan(ctx, appt.TenantID)
	if err != nil {
		h.logger.Warn("tenant plan lookup failed; assuming free", "err", err, "tenant_id", appt.TenantID)
		plan = plans.Free
	}
	from, to := monthRange(h.now())
	used, err := tx.CountActiveCreatedBetween(ctx, appt.TenantID, from, to)
	if err != nil {
		return outcome{}, err
	}
	allowed := plans.WithinAppointmentLimit(plan, used)
	h.metrics.PlanCheck("appointment", allowed)
	if !allowed {
		return errorOutcome(http.StatusPaymentRequired, errLimitReached.Error()), nil
	}

	if err := tx.InsertAppointment(ctx, appt); err != nil {
		return outcome{}, err
	}
	evt, err := outbox.NewEvent("appointment", appt.ID, events.AppointmentBooked, events.AppointmentBookedPayload{
		AppointmentID:   appt.ID,
		TenantID:        appt.TenantID,
		WorkshopID:      appt.WorkshopID,
		ServiceType:     appt.ServiceType,
		ScheduledAt:     appt.ScheduledAt.UTC(),
		DurationMinutes: appt.DurationMinutes,
		CustomerName:    appt.CustomerName,
		CustomerEmail:   appt.CustomerEmail,
		BookedAt:        appt.CreatedAt,
	})
	if err != nil {
		return outcome{}, err
	}
	if err := tx.InsertEvent(ctx, evt); err != nil {
		return outcome{}, err
	}

	body, err := json.Marshal(appointmentResponse{
		AppointmentID:   appt.ID,
		WorkshopID:      appt.WorkshopID,
		ServiceType:     appt.ServiceType,
		ScheduledAt:     appt.ScheduledAt.Format(time.RFC3339),
		EndsAt:          appt.EndsAt().Format(time.RFC3339),
		DurationMinutes: appt.DurationMinutes,
		Status:          appt.Status,
		Warnings:        sched.Warnings,
	})
	if err != nil {
		return outcome{}, err
	}
	return outcome{status: http.StatusCreated, body: body}, nil
}

// Cancel is idempotent: cancelling a cancelled appointment returns it unchanged.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelAppointmentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteRequestError(w, err)
		return
	}
	ident, _ := httpx.IdentityFromContext(r.Context())
	reason := strings.TrimSpace(req.Reason)

	ctx := r.Context()
	var resp cancelAppointmentResponse
	err := h.appts.WithTx(ctx, func(tx storage.Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, ident.TenantID, req.AppointmentID)
		if err != nil {
			return err
		}
		if appt.Status == model.StatusCancelled {
			at := appt.CreatedAt
			if appt.CancelledAt != nil {
				at = *appt.CancelledAt
			}
			resp = cancelAppointmentResponse{AppointmentID: appt.ID, Status: appt.Status, CancelledAt: at.UTC().Format(time.RFC3339)}
			return nil
		}

		cancelledAt, err := tx.CancelAppointment(ctx, ident.TenantID, appt.ID, reason)
		if err != nil {
			return err
		}
		evt, err := outbox.NewEvent("appointment", appt.ID, events.AppointmentCancelled, events.AppointmentCancelledPayload{
			AppointmentID: appt.ID,
			TenantID:      appt.TenantID,
			WorkshopID:    appt.WorkshopID,
			ScheduledAt:   appt.ScheduledAt.UTC(),
			Reason:        reason,
			BookedAt:      appt.CreatedAt.UTC(),
			CancelledAt:   cancelledAt.UTC(),
		})
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, evt); err != nil {
			return err
		}
		resp = cancelAppointmentResponse{AppointmentID: appt.ID, Status: model.StatusCancelled, CancelledAt: cancelledAt.UTC().Format(time.RFC3339)}
		return nil
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "appointment not found")
		return
	case err != nil:
		h.logger.Error("cancel appointment failed", "err", err, "appointment_id", req.AppointmentID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to cancel appointment")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	ident, _ := httpx.IdentityFromContext(r.Context())
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			httpx.WriteError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	appts, err := h.appts.ListByTenant(r.Context(), ident.TenantID, limit)
	if err != nil {
		h.logger.Error("list appointments failed", "err", err, "tenant_id", ident.TenantID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}

	items := make([]listAppointmentItem, 0, len(appts))
	for _, a := range appts {
		item := listAppointmentItem{
			AppointmentID:   a.ID,
			WorkshopID:      a.WorkshopID,
			VehicleID:       a.VehicleID,
			ServiceType:     a.ServiceType,
			ScheduledAt:     a.ScheduledAt.In(h.loc).Format(time.RFC3339),
			DurationMinutes: a.DurationMinutes,
			Status:          a.Status,
			CustomerName:    a.CustomerName,
			CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
		}
		if a.CancelledAt != nil {
			item.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}
