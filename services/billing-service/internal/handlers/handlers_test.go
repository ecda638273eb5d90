package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/garageflow/garageflow/libs/events"
	"github.com/garageflow/garageflow/libs/httpx"
	"github.com/garageflow/garageflow/libs/outbox"
	"github.com/garageflow/garageflow/libs/plans"
	"github.com/garageflow/garageflow/services/billing-service/internal/storage"
	"github.com/garageflow/garageflow/services/billing-service/internal/subscriptions"
	"github.com/stripe/stripe-go/v79/webhook"
	"golang.org/x/crypto/bcrypt"
)

const (
	tenantID      = "3f1c2b7a-9d4e-4f60-8a21-5b7c9e0d1f23"
	webhookSecret = "whsec_test"
)

type fakeStore struct {
	subs        map[string]storage.Subscription
	subErr      error
	usage       plans.Usage
	usageErr    error
	storageUsed int64
	providerIDs map[string]bool
	apiKeys     []storage.APIKey
	events      []outbox.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: map[string]storage.Subscription{}, providerIDs: map[string]bool{}}
}

func (f *fakeStore) WithTx(_ context.Context, fn func(storage.Tx) error) error {
	return fn(&fakeTx{f})
}

func (f *fakeStore) GetSubscription(_ context.Context, id string) (storage.Subscription, error) {
	if f.subErr != nil {
		return storage.Subscription{}, f.subErr
	}
	s, ok := f.subs[id]
	if !ok {
		return storage.Subscription{}, storage.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) GetUsage(context.Context, string, time.Time) (plans.Usage, error) {
	return f.usage, f.usageErr
}

type fakeTx struct{ s *fakeStore }

func (t *fakeTx) GetSubscriptionForUpdate(_ context.Context, id string) (storage.Subscription, bool, error) {
	s, ok := t.s.subs[id]
	return s, ok, nil
}

func (t *fakeTx) UpsertSubscription(_ context.Context, s storage.Subscription) error {
	t.s.subs[s.TenantID] = s
	return nil
}

func (t *fakeTx) InsertProviderEvent(_ context.Context, evt storage.ProviderEvent) error {
	key := evt.Provider + "/" + evt.ProviderEventID
	if t.s.providerIDs[key] {
		return storage.ErrDuplicateProviderEvent
	}
	t.s.providerIDs[key] = true
	return nil
}

func (t *fakeTx) LockStorage(context.Context, string) (int64, error) { return t.s.storageUsed, nil }

func (t *fakeTx) AddStorage(_ context.Context, _ string, n int64) (int64, error) {
	t.s.storageUsed += n
	if t.s.storageUsed < 0 {
		t.s.storageUsed = 0
	}
	return t.s.storageUsed, nil
}

func (t *fakeTx) InsertAPIKey(_ context.Context, k storage.APIKey) error {
	t.s.apiKeys = append(t.s.apiKeys, k)
	return nil
}

func (t *fakeTx) InsertEvent(_ context.Context, evt outbox.Event) error {
	t.s.events = append(t.s.events, evt)
	return nil
}

func newServer(t *testing.T, store *fakeStore) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(store, subscriptions.New(), logger, nil, Config{StripeWebhookSecret: webhookSecret, APIKeyCost: bcrypt.MinCost})
	h.now = func() time.Time { return time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC) }
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func call(t *testing.T, srv http.Handler, method, target, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set(httpx.TenantIDHeader, tenantID)
	if role != "" {
		req.Header.Set(httpx.RoleHeader, role)
	}
	rw := httptest.NewRecorder()
	srv.ServeHTTP(rw, req)
	return rw
}

func activeSub(plan plans.Plan) storage.Subscription {
	return storage.Subscription{TenantID: tenantID, Plan: plan, Status: "active", Provider: "stripe"}
}

func TestPlanDefaultsToFree(t *testing.T) {
	store := newFakeStore()
	store.usage = plans.Usage{AppointmentsUsed: 16, StorageUsed: 10 << 20}
	rw := call(t, newServer(t, store), http.MethodGet, "/api/v1/billing/plan", "", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var got planResponse
	if err := json.Unmarshal(rw.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Plan != plans.Free || got.Limits.Appointments != 20 || got.Limits.StorageFormatted != "100 MB" {
		t.Fatalf("unexpected plan %+v", got)
	}
	if got.Features[plans.FeatureChat] || len(got.Warnings) != 0 {
		t.Fatalf("unexpected features/warnings %+v %v", got.Features, got.Warnings)
	}
	if got.PeriodStart != "2026-04-01" || !got.Report.NearAppointmentLimit || got.Report.StorageUsed != "10 MB" {
		t.Fatalf("unexpected report %+v period %s", got.Report, got.PeriodStart)
	}
}

func TestPlanDegradesOnLookupFailures(t *testing.T) {
	store := newFakeStore()
	store.subErr = errors.New("db down")
	store.usageErr = errors.New("db down")
	rw := call(t, newServer(t, store), http.MethodGet, "/api/v1/billing/plan", "", nil)
	var got planResponse
	_ = json.Unmarshal(rw.Body.Bytes(), &got)
	if rw.Code != http.StatusOK || got.Plan != plans.Free {
		t.Fatalf("expected free fallback, got %d %+v", rw.Code, got)
	}
	if got.Usage != (plans.Usage{}) || len(got.Warnings) != 2 {
		t.Fatalf("expected zero usage and two warnings, got %+v %v", got.Usage, got.Warnings)
	}
}

func TestPlanCanceledSubscriptionIsFree(t *testing.T) {
	store := newFakeStore()
	sub := activeSub(plans.Pro)
	sub.Status = "canceled"
	store.subs[tenantID] = sub
	rw := call(t, newServer(t, store), http.MethodGet, "/api/v1/billing/plan", "", nil)
	var got planResponse
	_ = json.Unmarshal(rw.Body.Bytes(), &got)
	if got.Plan != plans.Free {
		t.Fatalf("expected free, got %s", got.Plan)
	}
}

func TestAccess(t *testing.T) {
	store := newFakeStore()
	store.subs[tenantID] = activeSub(plans.Pro)
	srv := newServer(t, store)

	cases := map[string]bool{"sms": true, "chat": true, "api_access": false}
	for feature, want := range cases {
		rw := call(t, srv, http.MethodGet, "/api/v1/billing/access?feature="+feature, "", nil)
		var got accessResponse
		_ = json.Unmarshal(rw.Body.Bytes(), &got)
		if got.Allowed != want {
			t.Fatalf("%s: expected %v", feature, want)
		}
	}
	rw := call(t, srv, http.MethodGet, "/api/v1/billing/access?feature=teleport", "", nil)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestQuotaCheck(t *testing.T) {
	store := newFakeStore()
	store.usage = plans.Usage{AppointmentsUsed: 20, StorageUsed: 99 << 20}
	srv := newServer(t, store)

	nine, ten := int64(9), int64(10)
	cases := []struct {
		name string
		body quotaCheckRequest
		want bool
	}{
		{"vehicle under", quotaCheckRequest{Resource: "vehicle", Used: &nine}, true},
		{"vehicle at limit", quotaCheckRequest{Resource: "vehicle", Used: &ten}, false},
		{"appointments from usage", quotaCheckRequest{Resource: "appointment"}, false},
		{"appointments explicit", quotaCheckRequest{Resource: "appointment", Used: &nine}, true},
		{"storage exactly at limit", quotaCheckRequest{Resource: "storage", AdditionalBytes: 1 << 20}, false},
		{"storage under limit", quotaCheckRequest{Resource: "storage", AdditionalBytes: 1 << 19}, true},
	}
	for _, tc := range cases {
		rw := call(t, srv, http.MethodPost, "/api/v1/billing/quota/check", "", tc.body)
		if rw.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", tc.name, rw.Code, rw.Body.String())
		}
		var got quotaCheckResponse
		_ = json.Unmarshal(rw.Body.Bytes(), &got)
		if got.Allowed != tc.want {
			t.Fatalf("%s: expected allowed=%v, got %+v", tc.name, tc.want, got)
		}
	}

	rw := call(t, srv, http.MethodPost, "/api/v1/billing/quota/check", "", quotaCheckRequest{Resource: "vehicle"})
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without vehicle count, got %d", rw.Code)
	}
	rw = call(t, srv, http.MethodPost, "/api/v1/billing/quota/check", "", quotaCheckRequest{Resource: "rockets"})
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown resource, got %d", rw.Code)
	}

	huge := int64(math.MaxInt64)
	rw = call(t, srv, http.MethodPost, "/api/v1/billing/quota/check", "", quotaCheckRequest{Resource: "storage", Used: &huge, AdditionalBytes: 1})
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when projected storage overflows, got %d: %s", rw.Code, rw.Body.String())
	}
}

func TestCommitStorage(t *testing.T) {
	store := newFakeStore()
	store.storageUsed = 99 << 20
	srv := newServer(t, store)

	rw := call(t, srv, http.MethodPost, "/api/v1/billing/storage/commit", "", map[string]int64{"bytes": 2 << 20})
	if rw.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rw.Code)
	}
	if store.storageUsed != 99<<20 {
		t.Fatalf("storage must be unchanged after refusal, got %d", store.storageUsed)
	}

	rw = call(t, srv, http.MethodPost, "/api/v1/billing/storage/commit", "", map[string]int64{"bytes": 1024})
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	rw = call(t, srv, http.MethodPost, "/api/v1/billing/storage/commit", "", map[string]int64{"bytes": -(50 << 20)})
	var got commitStorageResponse
	_ = json.Unmarshal(rw.Body.Bytes(), &got)
	if rw.Code != http.StatusOK || got.StorageFormatted != "49 MB" || got.StorageLimit != "100 MB" {
		t.Fatalf("unexpected release response %d %+v", rw.Code, got)
	}

	store.subs[tenantID] = activeSub(plans.Enterprise)
	before := store.storageUsed
	rw = call(t, srv, http.MethodPost, "/api/v1/billing/storage/commit", "", map[string]int64{"bytes": math.MaxInt64})
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when stored bytes would overflow, got %d", rw.Code)
	}
	if store.storageUsed != before {
		t.Fatalf("storage must be unchanged after overflow, got %d", store.storageUsed)
	}
}

func TestCreateAPIKey(t *testing.T) {
	store := newFakeStore()
	srv := newServer(t, store)

	rw := call(t, srv, http.MethodPost, "/api/v1/billing/api-keys", "owner", map[string]string{"name": "erp"})
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on free, got %d", rw.Code)
	}

	store.subs[tenantID] = activeSub(plans.Enterprise)
	rw = call(t, srv, http.MethodPost, "/api/v1/billing/api-keys", "owner", map[string]string{"name": "erp"})
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rw.Code, rw.Body.String())
	}
	var got createAPIKeyResponse
	_ = json.Unmarshal(rw.Body.Bytes(), &got)
	prefix, secret, ok := strings.Cut(got.Key, ".")
	if !ok || prefix != got.Prefix || !strings.HasPrefix(prefix, apiKeyPrefix) {
		t.Fatalf("unexpected key format %q", got.Key)
	}
	if len(store.apiKeys) != 1 {
		t.Fatalf("expected stored key")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(store.apiKeys[0].KeyHash), []byte(secret)); err != nil {
		t.Fatalf("stored hash does not match key: %v", err)
	}
}

func signedStripeRequest(t *testing.T, payload string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(payload), Secret: webhookSecret})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

const subscriptionUpdated = `{
  "id": "evt_1",
  "object": "event",
  "type": "customer.subscription.updated",
  "created": 1775808000,
  "data": {"object": {
    "id": "sub_1",
    "object": "subscription",
    "status": "active",
    "customer": "cus_1",
    "current_period_start": 1775001600,
    "current_period_end": 1777593600,
    "metadata": {"tenant_id": "` + tenantID + `", "plan": "Pro"}
  }}
}`

func TestStripeWebhookActivatesPlan(t *testing.T) {
	store := newFakeStore()
	srv := newServer(t, store)

	rw := httptest.NewRecorder()
	srv.ServeHTTP(rw, signedStripeRequest(t, subscriptionUpdated))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	sub := store.subs[tenantID]
	if sub.Plan != plans.Pro || sub.StripeSubscriptionID != "sub_1" || sub.StripeCustomerID != "cus_1" || sub.CurrentPeriodEnd == nil {
		t.Fatalf("unexpected subscription %+v", sub)
	}
	if len(store.events) != 1 || store.events[0].EventType != events.SubscriptionActivated {
		t.Fatalf("expected activated event, got %+v", store.events)
	}

	rw = httptest.NewRecorder()
	srv.ServeHTTP(rw, signedStripeRequest(t, subscriptionUpdated))
	if !strings.Contains(rw.Body.String(), "duplicate") || len(store.events) != 1 {
		t.Fatalf("expected duplicate ack, got %s", rw.Body.String())
	}
}

func TestStripeWebhookDeletedCancels(t *testing.T) {
	store := newFakeStore()
	store.subs[tenantID] = activeSub(plans.Pro)
	srv := newServer(t, store)

	payload := strings.NewReplacer(`"evt_1"`, `"evt_2"`, "customer.subscription.updated", "customer.subscription.deleted", `"active"`, `"canceled"`).Replace(subscriptionUpdated)
	rw := httptest.NewRecorder()
	srv.ServeHTTP(rw, signedStripeRequest(t, payload))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if s := store.subs[tenantID]; s.Plan != plans.Free || s.Status != "canceled" {
		t.Fatalf("unexpected subscription %+v", s)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	srv := newServer(t, newFakeStore())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", strings.NewReader(subscriptionUpdated))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rw := httptest.NewRecorder()
	srv.ServeHTTP(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestLocalWebhookRequiresAdmin(t *testing.T) {
	store := newFakeStore()
	srv := newServer(t, store)
	body := map[string]string{
		"event_id":    "local-1",
		"type":        "subscription.activated",
		"tenant_id":   tenantID,
		"plan":        "starter",
		"occurred_at": "2026-04-10T09:00:00Z",
	}
	rw := call(t, srv, http.MethodPost, "/api/v1/billing/webhooks/local", "owner", body)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for owner, got %d", rw.Code)
	}
	rw = call(t, srv, http.MethodPost, "/api/v1/billing/webhooks/local", "admin", body)
	if rw.Code != http.StatusOK || store.subs[tenantID].Plan != plans.Starter {
		t.Fatalf("expected activation, got %d %+v", rw.Code, store.subs[tenantID])
	}
}
