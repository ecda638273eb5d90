package main

import (
	"embed"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/garageflow/garageflow/libs/auth"
	"github.com/garageflow/garageflow/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

//go:embed assets/gateway.v1.yaml
var openAPISpec embed.FS

var errNoVerifier = errors.New("JWT_SECRET or JWKS_URL is required")

type upstreams struct {
	booking *url.URL
	billing *url.URL
}

func newUpstreams(bookingURL, billingURL string) (upstreams, error) {
	booking, err := parseUpstream("BOOKING_URL", bookingURL)
	if err != nil {
		return upstreams{}, err
	}
	billing, err := parseUpstream("BILLING_URL", billingURL)
	if err != nil {
		return upstreams{}, err
	}
	return upstreams{booking: booking, billing: billing}, nil
}

func parseUpstream(name, raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s must be an absolute url (got %q)", name, raw)
	}
	return u, nil
}

func registerRoutes(mux *http.ServeMux, verifier auth.Verifier, up upstreams) {
	booking := newProxy(up.booking)
	billing := newProxy(up.billing)
	authed := func(h http.Handler) http.Handler { return requireAuth(h, verifier) }
	staff := func(h http.Handler) http.Handler {
		return requireAuth(httpx.RequireRole("owner", "admin")(h), verifier)
	}

	// Customer facing availability needs no token.
	mux.Handle("/api/v1/public/", stripIdentity(booking))

	mux.Handle("/api/v1/appointments", stripIdentity(authed(booking)))
	mux.Handle("/api/v1/appointments/", stripIdentity(authed(booking)))
	mux.Handle("/api/v1/workshop/", stripIdentity(staff(booking)))

	// Stripe signs its own requests.
	mux.Handle("/api/v1/billing/webhooks/stripe", stripIdentity(billing))
	mux.Handle("/api/v1/billing/", stripIdentity(staff(billing)))

	mux.HandleFunc("/openapi", httpx.AllowMethods(serveOpenAPI, http.MethodGet))
}

func serveOpenAPI(w http.ResponseWriter, _ *http.Request) {
	b, err := openAPISpec.ReadFile("assets/gateway.v1.yaml")
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "openapi not available")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(b)
}

func newProxy(target *url.URL) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host
		},
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, _ error) {
			httpx.WriteError(w, http.StatusBadGateway, "upstream unavailable")
		},
	}
}

// stripIdentity drops identity headers a client may have forged. Only
// requireAuth sets them again.
func stripIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(httpx.TenantIDHeader)
		r.Header.Del(httpx.UserIDHeader)
		r.Header.Del(httpx.RoleHeader)
		next.ServeHTTP(w, r)
	})
}

func requireAuth(next http.Handler, verifier auth.Verifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := verifier.Parse(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		r.Header.Set(httpx.UserIDHeader, claims.Subject)
		r.Header.Set(httpx.TenantIDHeader, claims.TenantID)
		r.Header.Set(httpx.RoleHeader, claims.Role)
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
