package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/garageflow/garageflow/libs/httpx"
	"github.com/garageflow/garageflow/libs/metrics"
	"github.com/garageflow/garageflow/libs/plans"
	"github.com/garageflow/garageflow/services/billing-service/internal/storage"
	"github.com/garageflow/garageflow/services/billing-service/internal/subscriptions"
	"golang.org/x/crypto/bcrypt"
)

// Store is implemented by storage.Repository.
type Store interface {
	WithTx(ctx context.Context, fn func(storage.Tx) error) error
	GetSubscription(ctx context.Context, tenantID string) (storage.Subscription, error)
	GetUsage(ctx context.Context, tenantID string, periodStart time.Time) (plans.Usage, error)
}

// Warning codes attached to plan responses built from fallbacks.
const (
	WarnSubscriptionUnavailable = "subscription_unavailable"
	WarnUsageUnavailable        = "usage_unavailable"
)

type Handler struct {
	store                  Store
	subSvc                 *subscriptions.Service
	logger                 *slog.Logger
	metrics                *metrics.Registry
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
	apiKeyCost             int
	now                    func() time.Time
}

type Config struct {
	StripeWebhookSecret string
	StripeTolerance     time.Duration
	// APIKeyCost is the bcrypt cost for API key hashes.
	APIKeyCost int
}

func New(store Store, subSvc *subscriptions.Service, logger *slog.Logger, m *metrics.Registry, cfg Config) *Handler {
	tol := cfg.StripeTolerance
	if tol <= 0 {
		tol = 5 * time.Minute
	}
	cost := cfg.APIKeyCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Handler{
		store:                  store,
		subSvc:                 subSvc,
		logger:                 logger,
		metrics:                m,
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: tol,
		apiKeyCost:             cost,
		now:                    time.Now,
	}
}

// Register mounts the billing routes on mux. The Stripe webhook is
// authenticated by its signature, not by gateway headers.
func (h *Handler) Register(mux *http.ServeMux) {
	tenant := func(fn http.HandlerFunc) http.Handler { return httpx.RequireTenant(fn) }
	admin := httpx.RequireRole("admin")

	mux.Handle("/api/v1/billing/plan", tenant(httpx.AllowMethods(h.Plan, http.MethodGet)))
	mux.Handle("/api/v1/billing/access", tenant(httpx.AllowMethods(h.Access, http.MethodGet)))
	mux.Handle("/api/v1/billing/quota/check", tenant(httpx.AllowMethods(h.QuotaCheck, http.MethodPost)))
	mux.Handle("/api/v1/billing/storage/commit", tenant(httpx.AllowMethods(h.CommitStorage, http.MethodPost)))
	mux.Handle("/api/v1/billing/api-keys", tenant(httpx.AllowMethods(h.CreateAPIKey, http.MethodPost)))
	mux.Handle("/api/v1/billing/webhooks/local", httpx.RequireTenant(admin(httpx.AllowMethods(h.LocalWebhook, http.MethodPost))))
	mux.HandleFunc("/api/v1/billing/webhooks/stripe", httpx.AllowMethods(h.StripeWebhook, http.MethodPost))
}

// planFor resolves the tenant's effective plan. A tenant without a
// subscription is on free; a lookup failure also means free, with a warning.
func (h *Handler) planFor(ctx context.Context, tenantID string) (storage.Subscription, []string) {
	sub, err := h.store.GetSubscription(ctx, tenantID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return storage.Subscription{TenantID: tenantID, Plan: plans.Free, Status: "active", Provider: "local"}, nil
	case err != nil:
		h.logger.Warn("subscription lookup failed; assuming free", "err", err, "tenant_id", tenantID)
		h.metrics.Degraded(WarnSubscriptionUnavailable)
		return storage.Subscription{TenantID: tenantID, Plan: plans.Free, Status: "unknown"}, []string{WarnSubscriptionUnavailable}
	}
	return sub, nil
}

// usageFor falls back to a zero snapshot when usage cannot be read.
func (h *Handler) usageFor(ctx context.Context, tenantID string) (plans.Usage, []string) {
	usage, err := h.store.GetUsage(ctx, tenantID, PeriodStart(h.now()))
	if err != nil {
		h.logger.Warn("usage lookup failed; using zero snapshot", "err", err, "tenant_id", tenantID)
		h.metrics.Degraded(WarnUsageUnavailable)
		return plans.Usage{}, []string{WarnUsageUnavailable}
	}
	return usage, nil
}

// PeriodStart is the first day of t's calendar month in UTC.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
