package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type createReq struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
	Count int    `json:"count" validate:"gte=1,lte=5"`
}

func TestDecodeAndValidate(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"name":"a","count":2}`))
	var req createReq
	if err := DecodeAndValidate(r, &req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Name != "a" || req.Count != 2 {
		t.Fatalf("unexpected decode %+v", req)
	}
}

func TestDecodeAndValidateReportsFields(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"email":"nope","count":9}`))
	var req createReq
	err := DecodeAndValidate(r, &req)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	for _, field := range []string{"name", "email", "count"} {
		if _, ok := reqErr.Details[field]; !ok {
			t.Fatalf("expected detail for %s, got %v", field, reqErr.Details)
		}
	}

	rw := httptest.NewRecorder()
	WriteRequestError(rw, err)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rw.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "validation failed" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestDecodeRejectsUnknownFieldsAndEmptyBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"name":"a","count":1,"extra":true}`))
	var req createReq
	if err := DecodeAndValidate(r, &req); err == nil {
		t.Fatal("expected unknown field error")
	}
	r = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(""))
	if err := DecodeAndValidate(r, &req); err == nil || err.Error() != "request body required" {
		t.Fatalf("expected empty body error, got %v", err)
	}
}

func TestRequireTenant(t *testing.T) {
	var seen Identity
	h := RequireTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rw.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TenantIDHeader, "not-a-uuid")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TenantIDHeader, "7d7c9a52-0d7e-4f0e-9b55-2f1f3c1d2a10")
	req.Header.Set(RoleHeader, "Owner")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rw.Code)
	}
	if seen.Role != "owner" || seen.TenantID == "" {
		t.Fatalf("unexpected identity %+v", seen)
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole("owner", "admin")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RoleHeader, "staff")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rw.Code)
	}
}

func TestMemoryRateLimiter(t *testing.T) {
	rl := NewMemoryRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if ok, _ := rl.Allow(ctx, "a"); !ok {
			t.Fatalf("request %d should pass", i)
		}
	}
	if ok, _ := rl.Allow(ctx, "a"); ok {
		t.Fatal("third request should be limited")
	}
	if ok, _ := rl.Allow(ctx, "b"); !ok {
		t.Fatal("other key should pass")
	}
	now = now.Add(30 * time.Second)
	if ok, _ := rl.Allow(ctx, "a"); !ok {
		t.Fatal("token should refill after window/limit")
	}
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("down") }

func TestRateLimitFailOpen(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	rw := httptest.NewRecorder()
	RateLimit(errLimiter{}, true, nil)(ok).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("fail-open expected 200, got %d", rw.Code)
	}

	rw = httptest.NewRecorder()
	RateLimit(errLimiter{}, false, nil)(ok).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("fail-closed expected 503, got %d", rw.Code)
	}
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if got := ClientKey(r); got != "10.0.0.1" {
		t.Fatalf("unexpected key %q", got)
	}
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	if got := ClientKey(r); got != "1.2.3.4" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestRequestIDAndAccessLog(t *testing.T) {
	var gotID string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = RequestIDFromContext(r.Context())
		WriteError(w, http.StatusTeapot, "short and stout")
	}), WithRequestID, WithAccessLog(slog.New(slog.NewTextHandler(io.Discard, nil))))

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if gotID == "" || rw.Header().Get(RequestIDHeader) != gotID {
		t.Fatalf("request id not propagated: %q vs %q", gotID, rw.Header().Get(RequestIDHeader))
	}
	if rw.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", rw.Code)
	}
}

func TestWithCORS(t *testing.T) {
	h := WithCORS(CORSPolicy{AllowedOrigins: []string{"https://app.example.com"}})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("missing CORS header: %v", rw.Header())
	}

	req.Header.Set("Origin", "https://evil.example.com")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unexpected CORS header for foreign origin")
	}
}

func TestAllowMethods(t *testing.T) {
	h := AllowMethods(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }, http.MethodGet)
	rw := httptest.NewRecorder()
	h(rw, httptest.NewRequest(http.MethodPost, "/", nil))
	if rw.Code != http.StatusMethodNotAllowed || rw.Header().Get("Allow") != http.MethodGet {
		t.Fatalf("unexpected response %d %v", rw.Code, rw.Header())
	}
}
