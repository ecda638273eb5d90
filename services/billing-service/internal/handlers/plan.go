package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/garageflow/garageflow/libs/httpx"
	"github.com/garageflow/garageflow/libs/plans"
	"github.com/garageflow/garageflow/services/billing-service/internal/storage"
)

type limitsResponse struct {
	plans.Limits
	StorageFormatted string `json:"storage_formatted"`
}

type planResponse struct {
	TenantID         string                 `json:"tenant_id"`
	Plan             plans.Plan             `json:"plan"`
	Status           string                 `json:"status"`
	Provider         string                 `json:"provider,omitempty"`
	CurrentPeriodEnd *time.Time             `json:"current_period_end,omitempty"`
	Limits           limitsResponse         `json:"limits"`
	Features         map[plans.Feature]bool `json:"features"`
	PeriodStart      string                 `json:"period_start"`
	Usage            plans.Usage            `json:"usage"`
	Report           plans.Report           `json:"report"`
	Warnings         []string               `json:"warnings,omitempty"`
}

// Plan describes the caller's plan, its limits and features, and current usage.
func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	ident, _ := httpx.IdentityFromContext(r.Context())
	sub, warnings := h.planFor(r.Context(), ident.TenantID)
	usage, usageWarnings := h.usageFor(r.Context(), ident.TenantID)
	warnings = append(warnings, usageWarnings...)

	plan := sub.Effective()
	limits := plans.LimitsFor(plan)
	httpx.WriteJSON(w, http.StatusOK, planResponse{
		TenantID:         ident.TenantID,
		Plan:             plan,
		Status:           sub.Status,
		Provider:         sub.Provider,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		Limits:           limitsResponse{Limits: limits, StorageFormatted: plans.FormatStorageSize(limits.StorageBytes)},
		Features:         plans.Features(plan),
		PeriodStart:      PeriodStart(h.now()).Format("2006-01-02"),
		Usage:            usage,
		Report:           plans.NewReport(plan, usage),
		Warnings:         warnings,
	})
}

type accessResponse struct {
	Feature  plans.Feature `json:"feature"`
	Plan     plans.Plan    `json:"plan"`
	Allowed  bool          `json:"allowed"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Access answers whether the caller's plan grants ?feature=.
func (h *Handler) Access(w http.ResponseWriter, r *http.Request) {
	feature, ok := plans.ParseFeature(r.URL.Query().Get("feature"))
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "unknown feature")
		return
	}
	ident, _ := httpx.IdentityFromContext(r.Context())
	sub, warnings := h.planFor(r.Context(), ident.TenantID)
	plan := sub.Effective()
	allowed := plans.HasAccess(plan, feature)
	h.metrics.PlanCheck(string(feature), allowed)
	httpx.WriteJSON(w, http.StatusOK, accessResponse{Feature: feature, Plan: plan, Allowed: allowed, Warnings: warnings})
}

type quotaCheckRequest struct {
	Resource        string `json:"resource" validate:"required,oneof=appointment vehicle storage"`
	Used            *int64 `json:"used" validate:"omitempty,min=0"`
	AdditionalBytes int64  `json:"additional_bytes" validate:"min=0"`
}

type quotaCheckResponse struct {
	Resource string     `json:"resource"`
	Plan     plans.Plan `json:"plan"`
	Allowed  bool       `json:"allowed"`
	Used     int64      `json:"used"`
	Limit    int64      `json:"limit"`
	Warnings []string   `json:"warnings,omitempty"`
}

// QuotaCheck evaluates one limit. Vehicle counts come from the caller; the
// other resources default to the recorded usage snapshot.
func (h *Handler) QuotaCheck(w http.ResponseWriter, r *http.Request) {
	var req quotaCheckRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteRequestError(w, err)
		return
	}
	if req.Resource == "vehicle" && req.Used == nil {
		httpx.WriteError(w, http.StatusBadRequest, "used is required for vehicle checks")
		return
	}

	ident, _ := httpx.IdentityFromContext(r.Context())
	sub, warnings := h.planFor(r.Context(), ident.TenantID)
	plan := sub.Effective()
	limits := plans.LimitsFor(plan)

	resp := quotaCheckResponse{Resource: req.Resource, Plan: plan}
	switch req.Resource {
	case "vehicle":
		resp.Used, resp.Limit = *req.Used, limits.Vehicles
		resp.Allowed = plans.WithinVehicleLimit(plan, resp.Used)
	case "appointment":
		resp.Limit = limits.Appointments
		if req.Used != nil {
			resp.Used = *req.Used
		} else {
			usage, usageWarnings := h.usageFor(r.Context(), ident.TenantID)
			warnings = append(warnings, usageWarnings...)
			resp.Used = usage.AppointmentsUsed
		}
		resp.Allowed = plans.WithinAppointmentLimit(plan, resp.Used)
	case "storage":
		resp.Limit = limits.StorageBytes
		current := int64(0)
		if req.Used != nil {
			current = *req.Used
		} else {
			usage, usageWarnings := h.usageFor(r.Context(), ident.TenantID)
			warnings = append(warnings, usageWarnings...)
			current = usage.StorageUsed
		}
		projected, ok := plans.ProjectBytes(current, req.AdditionalBytes)
		if !ok {
			httpx.WriteError(w, http.StatusBadRequest, "storage figures out of range")
			return
		}
		resp.Used = projected
		resp.Allowed = plans.WithinStorageLimit(plan, resp.Used)
	}
	resp.Warnings = warnings
	h.metrics.PlanCheck(req.Resource, resp.Allowed)
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type commitStorageRequest struct {
	// Bytes may be negative when files are removed.
	Bytes int64 `json:"bytes" validate:"required"`
}

type commitStorageResponse struct {
	StorageUsed      int64  `json:"storage_used"`
	StorageFormatted string `json:"storage_formatted"`
	StorageLimit     string `json:"storage_limit"`
}

var (
	errStorageLimit    = errors.New("storage limit reached for current plan (upgrade required)")
	errStorageOverflow = errors.New("bytes out of range")
)

// CommitStorage records an upload (or removal) against the tenant's storage.
// Uploads that would reach the plan limit are refused with 402.
func (h *Handler) CommitStorage(w http.ResponseWriter, r *http.Request) {
	var req commitStorageRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteRequestError(w, err)
		return
	}
	ident, _ := httpx.IdentityFromContext(r.Context())
	sub, _ := h.planFor(r.Context(), ident.TenantID)
	plan := sub.Effective()

	var used int64
	err := h.store.WithTx(r.Context(), func(tx storage.Tx) error {
		current, err := tx.LockStorage(r.Context(), ident.TenantID)
		if err != nil {
			return err
		}
		projected, ok := plans.ProjectBytes(current, req.Bytes)
		if !ok {
			return errStorageOverflow
		}
		if req.Bytes > 0 {
			allowed := plans.WithinStorageLimit(plan, projected)
			h.metrics.PlanCheck("storage", allowed)
			if !allowed {
				return errStorageLimit
			}
		}
		used, err = tx.AddStorage(r.Context(), ident.TenantID, req.Bytes)
		return err
	})
	switch {
	case errors.Is(err, errStorageLimit):
		httpx.WriteError(w, http.StatusPaymentRequired, err.Error())
		return
	case errors.Is(err, errStorageOverflow):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("commit storage failed", "err", err, "tenant_id", ident.TenantID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to record storage")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, commitStorageResponse{
		StorageUsed:      used,
		StorageFormatted: plans.FormatStorageSize(used),
		StorageLimit:     plans.FormatStorageSize(plans.LimitsFor(plan).StorageBytes),
	})
}
